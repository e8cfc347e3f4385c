package commands

import (
	"bufio"
	"context"
	"errors"
	"io"
	"strings"
	"time"

	"besedka/internal/session"
	"besedka/internal/ws"

	"golang.org/x/sync/errgroup"
)

const statePollInterval = 500 * time.Millisecond

var errQuit = errors.New("quit")

const help = `Commands:
  @user message     send a message
  /chats            list chats
  /history @user    load the history of a chat
  /new @user        start a chat
  /search text      find users
  /status           show session details
  /quit             leave
`

type line struct {
	cmd string
	arg string
}

// parseLine splits an input line into a command and its argument. A line
// starting with @ is a message: cmd is the recipient and arg the text.
func parseLine(s string) line {
	s = strings.TrimSpace(s)
	if s == "" {
		return line{}
	}
	head, rest, _ := strings.Cut(s, " ")
	return line{cmd: head, arg: strings.TrimSpace(rest)}
}

// Run opens the channel for the stored identity and relays input lines
// until ctx ends, input is exhausted or the user quits.
func Run(ctx context.Context, c *session.Client, p *Printer, in io.Reader) error {
	chats, err := c.Start(ctx)
	if err != nil {
		return err
	}
	defer c.Close()

	id, err := c.Identity()
	if err != nil {
		return err
	}
	p.Printf("Signed in as %s, %d chats. Type /help for commands.\n", id.Name, len(chats))

	// Reads from in can not be interrupted, so the reader stays outside the
	// group and is abandoned on shutdown.
	lines := make(chan string)
	go func() {
		defer close(lines)
		sc := bufio.NewScanner(in)
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
	}()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for {
			select {
			case <-gCtx.Done():
				return nil
			case s, ok := <-lines:
				if !ok {
					return errQuit
				}
				if err := handle(gCtx, c, p, parseLine(s)); err != nil {
					return err
				}
			}
		}
	})
	g.Go(func() error {
		watchState(gCtx, c, p)
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errQuit) {
		return err
	}
	return nil
}

func handle(ctx context.Context, c *session.Client, p *Printer, l line) error {
	var err error
	switch {
	case l.cmd == "":
		return nil
	case l.cmd == "/quit":
		return errQuit
	case l.cmd == "/help":
		p.Printf("%s", help)
	case l.cmd == "/chats":
		err = Chats(ctx, c, p)
	case l.cmd == "/history":
		err = History(ctx, c, p, l.arg)
	case l.cmd == "/new":
		err = StartChat(ctx, c, p, l.arg)
	case l.cmd == "/search":
		err = Search(ctx, c, p, l.arg)
	case l.cmd == "/status":
		err = Status(c, p, time.Now())
		p.Printf("Channel:       %s\n", c.State())
	case strings.HasPrefix(l.cmd, "@"):
		_, err = c.Send(l.cmd, l.arg)
	default:
		p.Printf("Unknown command %q, type /help\n", l.cmd)
	}
	if err != nil {
		p.Printf("error: %v\n", err)
	}
	return nil
}

func watchState(ctx context.Context, c *session.Client, p *Printer) {
	ticker := time.NewTicker(statePollInterval)
	defer ticker.Stop()

	last := c.State()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			state := c.State()
			if state == last {
				continue
			}
			last = state
			switch state {
			case ws.StateOpen:
				p.Printf("* connected\n")
			case ws.StateReconnecting:
				p.Printf("* connection lost, reconnecting\n")
			case ws.StateClosed:
				p.Printf("* disconnected\n")
			}
		}
	}
}
