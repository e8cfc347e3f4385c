package commands

import (
	"context"
	"errors"

	"besedka/internal/session"
)

func Chats(ctx context.Context, c *session.Client, p *Printer) error {
	id, err := c.Identity()
	if err != nil {
		return err
	}
	chats, err := c.API().Chats(ctx)
	if err != nil {
		return err
	}
	if len(chats) == 0 {
		p.Printf("No chats yet\n")
		return nil
	}
	for _, ch := range chats {
		p.Printf("%6d  %s\n", ch.ID, ch.Peer(id.Name))
	}
	return nil
}

func Search(ctx context.Context, c *session.Client, p *Printer, query string) error {
	if query == "" {
		return errors.New("search query is required")
	}
	results, err := c.API().Search(ctx, query)
	if err != nil {
		return err
	}
	if len(results) == 0 {
		p.Printf("Nobody found\n")
		return nil
	}
	for _, r := range results {
		p.Printf("%s\n", r.Username)
	}
	return nil
}

func History(ctx context.Context, c *session.Client, p *Printer, peer string) error {
	if peer == "" {
		return errors.New("peer is required")
	}
	msgs, err := c.History(ctx, peer)
	if err != nil {
		return err
	}
	for _, m := range msgs {
		if m.Own {
			p.Printf("me: %s\n", m.Text)
			continue
		}
		p.Printf("%s: %s\n", m.From, m.Text)
	}
	return nil
}

func StartChat(ctx context.Context, c *session.Client, p *Printer, recipient string) error {
	if recipient == "" {
		return errors.New("recipient is required")
	}
	if err := c.StartChat(ctx, recipient); err != nil {
		return err
	}
	p.Printf("Chat with %s created\n", recipient)
	return nil
}
