package render

import (
	"fmt"
	"io"
	"sync"
	"time"

	"meshcall/internal/core/domain"
	"meshcall/internal/core/media"
	"meshcall/internal/core/ports"
)

var _ ports.CallObserver = (*ConsoleObserver)(nil)

// ConsoleObserver prints call events as plain text lines.
type ConsoleObserver struct {
	mu  sync.Mutex
	out io.Writer

	lost     chan error
	lostOnce sync.Once
}

func NewConsoleObserver(out io.Writer) *ConsoleObserver {
	return &ConsoleObserver{out: out, lost: make(chan error, 1)}
}

func (o *ConsoleObserver) printf(format string, args ...interface{}) {
	o.mu.Lock()
	defer o.mu.Unlock()
	fmt.Fprintf(o.out, format+"\n", args...)
}

func (o *ConsoleObserver) ChatReceived(msg domain.ChatMessage) {
	at := msg.SentAt
	if at.IsZero() {
		at = time.Now()
	}
	o.printf("[%s] %s: %s", at.Local().Format("15:04"), msg.Sender, msg.Text)
}

func (o *ConsoleObserver) MediaHint(participantID domain.ParticipantID, hint domain.MediaHint) {
	o.printf("* %s: %s", participantID, hint)
}

func (o *ConsoleObserver) MediaError(kind media.Kind, err error) {
	o.printf("! %s capture failed: %v", kind, err)
}

func (o *ConsoleObserver) RelayError(message string) {
	o.printf("! relay: %s", message)
}

func (o *ConsoleObserver) TransportLost(err error) {
	o.printf("! connection to relay lost: %v", err)
	o.lostOnce.Do(func() {
		o.lost <- err
		close(o.lost)
	})
}

// Lost yields the first transport failure, then closes.
func (o *ConsoleObserver) Lost() <-chan error {
	return o.lost
}
