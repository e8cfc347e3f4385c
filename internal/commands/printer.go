package commands

import (
	"fmt"
	"io"
	"sync"
	"time"

	"besedka/internal/chat"
)

// Printer serializes terminal output from the command loop and the channel
// read goroutine.
type Printer struct {
	mu  sync.Mutex
	out io.Writer
}

func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

func (p *Printer) Printf(format string, args ...any) {
	p.mu.Lock()
	defer p.mu.Unlock()
	fmt.Fprintf(p.out, format, args...)
}

// Message prints one transcript entry. Own messages that were delivered are
// already on screen as typed and are skipped.
func (p *Printer) Message(peer string, msg chat.Message) {
	if msg.Own && msg.Status == chat.StatusSent {
		return
	}
	ts := time.UnixMilli(msg.Timestamp).Format("15:04")
	switch {
	case msg.Own:
		p.Printf("[%s] -> %s: %s (%s)\n", ts, peer, msg.Text, msg.Status)
	default:
		p.Printf("[%s] %s: %s\n", ts, msg.From, msg.Text)
	}
}
