package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/mesh"
	"meshcall/internal/infrastructure/capture"
	"meshcall/internal/infrastructure/render"
	signalclient "meshcall/internal/infrastructure/signal"
	webrtcinfra "meshcall/internal/infrastructure/webrtc"
	"meshcall/pkg/config"
	"meshcall/pkg/logger"
	"meshcall/pkg/validation"

	"github.com/spf13/cobra"
)

var (
	flagURL       string
	flagName      string
	flagToken     string
	flagVideoFile string
	flagAudioFile string
	flagScreen    string
	flagRecordDir string
	flagNoVideo   bool
	flagNoAudio   bool
	flagLogLevel  string
)

var joinCmd = &cobra.Command{
	Use:   "join [ROOM]",
	Short: "Join a room and stay until /quit or Ctrl-C",
	Long: `Join a room. Without ROOM a new meeting with a random 8 character
id is created; share the printed id to invite others. Lines typed on stdin
are sent as chat; lines starting with a slash are commands (/help lists them).

Examples:
  meshcall-client join --name ann
  meshcall-client join standup --name ann --video-file clips/cam.ivf
  meshcall-client join retro --url wss://calls.example.org/ws --token "$TOKEN"`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		room, minted, err := roomFromArgs(args)
		if err != nil {
			return err
		}
		if minted {
			fmt.Fprintf(cmd.OutOrStdout(), "created meeting %s\n", room)
		}
		cfg, err := config.Load(flagConfig)
		if err != nil {
			return err
		}
		applyJoinFlags(cmd, cfg)

		if err := validation.ValidateRelayURL(cfg.Signal.URL); err != nil {
			return err
		}
		if err := validation.ValidateDisplayName(flagName); err != nil {
			return err
		}
		return runJoin(cmd.Context(), cfg, room)
	},
}

func init() {
	f := joinCmd.Flags()
	f.StringVar(&flagURL, "url", "", "relay websocket URL (overrides signal.url)")
	f.StringVarP(&flagName, "name", "n", "", "display name shown to other participants")
	f.StringVar(&flagToken, "token", os.Getenv("MESHCALL_TOKEN"), "access token; records the meeting in your history")
	f.StringVar(&flagVideoFile, "video-file", "", "VP8 IVF file played as the camera")
	f.StringVar(&flagAudioFile, "audio-file", "", "Opus Ogg file played as the microphone")
	f.StringVar(&flagScreen, "screen-file", "", "VP8 IVF file played as the shared screen")
	f.StringVar(&flagRecordDir, "record-dir", "", "directory to record remote media into")
	f.BoolVar(&flagNoVideo, "no-video", false, "join with the camera off")
	f.BoolVar(&flagNoAudio, "no-audio", false, "join with the microphone off")
	f.StringVar(&flagLogLevel, "log-level", "", "log level (overrides logging.level)")
}

// roomFromArgs returns the requested room, or a freshly minted one when none
// was given.
func roomFromArgs(args []string) (domain.RoomID, bool, error) {
	if len(args) == 0 {
		room, err := domain.NewRoomID()
		return room, err == nil, err
	}
	room, err := domain.NormalizeRoomID(args[0])
	return room, false, err
}

func applyJoinFlags(cmd *cobra.Command, cfg *config.Config) {
	flags := cmd.Flags()
	if flags.Changed("url") {
		cfg.Signal.URL = flagURL
	}
	if flags.Changed("video-file") {
		cfg.Capture.VideoFile = flagVideoFile
	}
	if flags.Changed("audio-file") {
		cfg.Capture.AudioFile = flagAudioFile
	}
	if flags.Changed("screen-file") {
		cfg.Capture.ScreenFile = flagScreen
	}
	if flags.Changed("log-level") {
		cfg.Logging.Level = flagLogLevel
	}
}

func runJoin(parent context.Context, cfg *config.Config, room domain.RoomID) error {
	if parent == nil {
		parent = context.Background()
	}
	ctx, stop := signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
	defer stop()

	zapLogger := logger.NewWithFormat(cfg.Logging.Level, "console")
	defer zapLogger.Sync()
	log := zapLogger.Sugar()

	factory, err := webrtcinfra.NewPeerConnectionFactory(webrtcinfra.NewConfig(cfg), log)
	if err != nil {
		return err
	}
	capturer := capture.NewFileCapturer(capture.Files{
		Video:  cfg.Capture.VideoFile,
		Audio:  cfg.Capture.AudioFile,
		Screen: cfg.Capture.ScreenFile,
	}, log)

	if flagRecordDir != "" {
		if err := os.MkdirAll(flagRecordDir, 0o755); err != nil {
			return fmt.Errorf("failed to create record dir: %w", err)
		}
	}
	renderer := render.NewPacketRenderer(flagRecordDir, log)
	observer := render.NewConsoleObserver(os.Stdout)

	client := signalclient.NewClient(signalclient.NewClientConfig(cfg, flagName, flagToken), log)

	call, err := mesh.NewOrchestrator(mesh.Config{
		DisplayName:        flagName,
		NegotiationTimeout: cfg.WebRTC.NegotiationTimeout,
	}, mesh.Dependencies{
		Transport: client,
		Factory:   factory,
		Capturer:  capturer,
		Renderer:  renderer,
		Observer:  observer,
		Logger:    log,
	})
	if err != nil {
		return err
	}
	defer call.Close()

	if err := client.Connect(ctx, call); err != nil {
		return err
	}
	defer client.Close()

	call.StartMedia(!flagNoVideo, !flagNoAudio)
	if err := call.Join(room); err != nil {
		return err
	}
	fmt.Printf("joined %s, type /help for commands\n", room)

	lines := make(chan string)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(os.Stdin)
		for scanner.Scan() {
			lines <- scanner.Text()
		}
	}()

	cli := &commandLine{call: call, stats: renderer, out: os.Stdout}
	for {
		select {
		case <-ctx.Done():
			_ = call.Leave()
			return nil

		case err := <-observer.Lost():
			return fmt.Errorf("relay connection lost: %w", err)

		case line, ok := <-lines:
			if !ok {
				// stdin closed: keep the call up until interrupted
				lines = nil
				continue
			}
			quit, err := cli.handle(line)
			if err != nil {
				fmt.Fprintln(os.Stderr, "error:", err)
			}
			if quit {
				_ = call.Leave()
				return nil
			}
		}
	}
}
