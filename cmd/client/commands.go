package main

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/media"
	"meshcall/internal/infrastructure/render"
)

// callControl is the part of the orchestrator the command line drives.
type callControl interface {
	Join(room domain.RoomID) error
	Leave() error
	SendChat(text string) error
	SetVideoEnabled(enabled bool)
	SetAudioEnabled(enabled bool)
	StartScreenShare()
	StopScreenShare()
}

type statsSource interface {
	Stats() map[domain.ParticipantID]render.StreamStats
}

const helpText = `commands:
  /video on|off    toggle the camera
  /audio on|off    toggle the microphone
  /screen on|off   start or stop sharing the screen
  /join ROOM       switch to another room
  /leave           leave the room and stay connected
  /stats           show received packets per participant
  /quit            leave and exit
anything else is sent as chat`

// commandLine turns terminal input into call actions.
type commandLine struct {
	call  callControl
	stats statsSource
	out   io.Writer
}

// handle runs one input line and reports whether the client should exit.
func (c *commandLine) handle(line string) (bool, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return false, nil
	}
	if !strings.HasPrefix(line, "/") {
		return false, c.call.SendChat(line)
	}

	fields := strings.Fields(line)
	cmd, args := fields[0], fields[1:]

	switch cmd {
	case "/video", "/audio", "/screen":
		on, err := onOff(args)
		if err != nil {
			return false, fmt.Errorf("%s: %w", cmd, err)
		}
		switch cmd {
		case "/video":
			c.call.SetVideoEnabled(on)
		case "/audio":
			c.call.SetAudioEnabled(on)
		default:
			if on {
				c.call.StartScreenShare()
			} else {
				c.call.StopScreenShare()
			}
		}
		return false, nil

	case "/join":
		if len(args) != 1 {
			return false, fmt.Errorf("usage: /join ROOM")
		}
		return false, c.call.Join(domain.RoomID(args[0]))

	case "/leave":
		return false, c.call.Leave()

	case "/stats":
		c.printStats()
		return false, nil

	case "/quit", "/exit":
		return true, nil

	case "/help":
		fmt.Fprintln(c.out, helpText)
		return false, nil
	}
	return false, fmt.Errorf("unknown command %s, try /help", cmd)
}

func onOff(args []string) (bool, error) {
	if len(args) == 1 {
		switch args[0] {
		case "on":
			return true, nil
		case "off":
			return false, nil
		}
	}
	return false, fmt.Errorf("expected on or off")
}

func (c *commandLine) printStats() {
	stats := c.stats.Stats()
	if len(stats) == 0 {
		fmt.Fprintln(c.out, "no remote streams")
		return
	}

	ids := make([]string, 0, len(stats))
	for id := range stats {
		ids = append(ids, string(id))
	}
	sort.Strings(ids)

	for _, id := range ids {
		s := stats[domain.ParticipantID(id)]
		fmt.Fprintf(c.out, "%s stream=%s", id, s.StreamID)
		kinds := make([]string, 0, len(s.Kinds))
		for kind := range s.Kinds {
			kinds = append(kinds, string(kind))
		}
		sort.Strings(kinds)
		for _, kind := range kinds {
			ks := s.Kinds[media.Kind(kind)]
			fmt.Fprintf(c.out, " %s=%dpkt/%dB", kind, ks.Packets, ks.Bytes)
		}
		fmt.Fprintln(c.out)
	}
}
