package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"besedka/internal/commands"
	"besedka/internal/config"
	"besedka/internal/logx"
	"besedka/internal/session"
	"besedka/internal/storage"
)

const usage = `Usage: besedka <command> [flags]

Commands:
  login -login L -password P           sign in
  register -name @N -login L -password P
  status                               show the stored session
  chats                                list chats
  search <text>                        find users
  history <@user>                      print the history of a chat
  new <@user>                          start a chat
  run                                  connect and chat interactively
  logout                               sign out
  delete-account -password P           delete the account
`

// memoryStateDB keeps the session in memory only.
const memoryStateDB = ":memory:"

type stateStore interface {
	storage.CredentialStore
	Close() error
}

type memoryStore struct {
	*storage.MemoryStore
}

func (memoryStore) Close() error { return nil }

func openStore(path string) (stateStore, error) {
	if path == memoryStateDB {
		return memoryStore{storage.NewMemoryStore()}, nil
	}
	return storage.NewBboltStore(path)
}

func run(ctx context.Context, args []string, stdin io.Reader, stdout io.Writer) error {
	if len(args) == 0 {
		fmt.Fprint(stdout, usage)
		return errors.New("no command given")
	}

	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logx.InitGlobalLogger(cfg.IsDevelopment())

	store, err := openStore(cfg.StateDB)
	if err != nil {
		return fmt.Errorf("open state: %w", err)
	}
	defer func() { _ = store.Close() }()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	p := commands.NewPrinter(stdout)
	client := session.New(session.Options{
		Config:    cfg,
		Store:     store,
		OnMessage: p.Message,
		OnSignedOut: func(err error) {
			p.Printf("Session expired (%v). Sign in again with 'besedka login'.\n", err)
			cancel()
		},
	})
	defer client.Close()

	cmd, rest := args[0], args[1:]
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(stdout)
	name := fs.String("name", "", "display name (@user)")
	login := fs.String("login", "", "login")
	password := fs.String("password", "", "password")
	if err := fs.Parse(rest); err != nil {
		return err
	}
	arg := strings.Join(fs.Args(), " ")

	switch cmd {
	case "login":
		return commands.Login(ctx, client, p, *login, *password)
	case "register":
		return commands.Register(ctx, client, p, *name, *login, *password)
	case "status":
		return commands.Status(client, p, time.Now())
	case "chats":
		return commands.Chats(ctx, client, p)
	case "search":
		return commands.Search(ctx, client, p, arg)
	case "history":
		if _, err := client.API().Chats(ctx); err != nil {
			return err
		}
		return commands.History(ctx, client, p, arg)
	case "new":
		return commands.StartChat(ctx, client, p, arg)
	case "run":
		return commands.Run(ctx, client, p, stdin)
	case "logout":
		return commands.Logout(ctx, client, p)
	case "delete-account":
		return commands.DeleteAccount(ctx, client, p, *password)
	default:
		fmt.Fprint(stdout, usage)
		return fmt.Errorf("unknown command %q", cmd)
	}
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdin, os.Stdout); err != nil && !errors.Is(err, context.Canceled) {
		fmt.Fprintf(os.Stderr, "besedka: %v\n", err)
		os.Exit(1)
	}
}
