package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"besedka/internal/auth"
	"besedka/internal/session"
	"besedka/internal/storage"
)

func Login(ctx context.Context, c *session.Client, p *Printer, login, password string) error {
	if login == "" || password == "" {
		return errors.New("login and password are required")
	}
	id, err := c.Login(ctx, login, password)
	if err != nil {
		return err
	}
	p.Printf("Signed in as %s\n", id.Name)
	return nil
}

func Register(ctx context.Context, c *session.Client, p *Printer, name, login, password string) error {
	if login == "" || password == "" {
		return errors.New("name, login and password are required")
	}
	id, err := c.Register(ctx, name, login, password)
	if err != nil {
		return err
	}
	p.Printf("Registered and signed in as %s\n", id.Name)
	return nil
}

// Status prints the stored identity and the lifetime left on its access token.
func Status(c *session.Client, p *Printer, now time.Time) error {
	id, err := c.Identity()
	if errors.Is(err, storage.ErrNoIdentity) {
		p.Printf("Not signed in\n")
		return nil
	}
	if err != nil {
		return err
	}

	p.Printf("User:          %s\n", id.Name)
	if id.Login != "" {
		p.Printf("Login:         %s\n", id.Login)
	}
	p.Printf("Refresh token: %s\n", presence(id.RefreshToken))

	exp, err := auth.TokenExpiry(id.AccessToken)
	switch {
	case id.AccessToken == "":
		p.Printf("Access token:  missing\n")
	case err != nil:
		p.Printf("Access token:  present (no readable expiry)\n")
	case exp.Before(now):
		p.Printf("Access token:  expired %s ago\n", now.Sub(exp).Round(time.Second))
	default:
		p.Printf("Access token:  valid for %s\n", exp.Sub(now).Round(time.Second))
	}
	return nil
}

func Logout(ctx context.Context, c *session.Client, p *Printer) error {
	if err := c.Logout(ctx); err != nil {
		return err
	}
	p.Printf("Signed out\n")
	return nil
}

func DeleteAccount(ctx context.Context, c *session.Client, p *Printer, password string) error {
	if password == "" {
		return errors.New("password is required to delete the account")
	}
	if err := c.DeleteAccount(ctx, password); err != nil {
		return fmt.Errorf("account not deleted: %w", err)
	}
	p.Printf("Account deleted\n")
	return nil
}

func presence(s string) string {
	if s == "" {
		return "missing"
	}
	return "present"
}
