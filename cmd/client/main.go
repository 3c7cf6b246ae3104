package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var flagConfig string

var rootCmd = &cobra.Command{
	Use:   "meshcall-client",
	Short: "Headless participant for meshcall rooms",
	Long: `meshcall-client joins a meshcall room from the terminal. It sends
recorded media files as its camera, microphone and screen, prints the room
chat and can record what the other participants send.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&flagConfig, "config", "c", "configs/client.yaml", "path to the YAML configuration")
	rootCmd.AddCommand(joinCmd, tokenCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
