package session

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"besedka/internal/api"
	"besedka/internal/auth"
	"besedka/internal/chat"
	"besedka/internal/config"
	"besedka/internal/content"
	"besedka/internal/logx"
	"besedka/internal/models"
	"besedka/internal/storage"
	"besedka/internal/ws"

	"github.com/rs/zerolog"
)

const httpTimeout = 30 * time.Second

var (
	ErrEmptyMessage = errors.New("message is empty")
	ErrUnknownChat  = errors.New("no chat with this user")
	ErrSelfMessage  = errors.New("can not send a message to yourself")
	ErrNotConnected = errors.New("channel is not open")
)

type Options struct {
	Config *config.Config
	Store  storage.CredentialStore
	// Transport is the base HTTP transport under the session guard.
	Transport http.RoundTripper
	Dialer    ws.Dialer
	AfterFunc ws.AfterFunc
	// OnMessage receives every message recorded in a transcript, inbound
	// and outbound.
	OnMessage func(peer string, msg chat.Message)
	// OnSignedOut is the re-authentication redirect. It runs after local
	// state was purged because the session could not be recovered.
	OnSignedOut func(error)
}

// Client is the chat core used by the UI: REST calls, the authenticated
// pipeline and the real-time channel for the signed-in identity.
type Client struct {
	cfg         *config.Config
	store       storage.CredentialStore
	coord       *auth.Coordinator
	api         *api.Client
	slot        *ws.Slot
	book        *chat.Book
	dialer      ws.Dialer
	afterFunc   ws.AfterFunc
	onSignedOut func(error)
	logger      zerolog.Logger

	mu          sync.Mutex
	channelUser string
}

func New(opts Options) *Client {
	cfg := opts.Config
	transport := opts.Transport
	if transport == nil {
		transport = http.DefaultTransport
	}
	dialer := opts.Dialer
	if dialer == nil {
		dialer = ws.NewGorillaDialer(cfg.InsecureTLS)
	}

	c := &Client{
		cfg:         cfg,
		store:       opts.Store,
		book:        chat.NewBook(chat.Config{OnMessage: opts.OnMessage}),
		dialer:      dialer,
		afterFunc:   opts.AfterFunc,
		onSignedOut: opts.OnSignedOut,
		logger:      logx.Component("session"),
	}

	bare := &http.Client{Transport: transport, Timeout: httpTimeout}
	// The refresher is bound late: api needs the guarded client, the guard
	// needs the coordinator, and the coordinator needs api.
	c.coord = auth.NewCoordinator(opts.Store,
		auth.RefresherFunc(func(ctx context.Context, name, refreshToken string) (string, string, error) {
			return c.api.Refresh(ctx, name, refreshToken)
		}),
		auth.WithMaxAttempts(cfg.MaxRefreshAttempts),
		auth.WithFailureHandler(c.refreshFailed),
	)
	guarded := &http.Client{Transport: auth.NewGuard(transport, opts.Store, c.coord), Timeout: httpTimeout}
	c.api = api.New(cfg.APIURL, guarded, bare, opts.Store)
	c.slot = ws.NewSlot(c.newManager, cfg.ConnectDelay, opts.AfterFunc)
	return c
}

func (c *Client) API() *api.Client {
	return c.api
}

func (c *Client) Book() *chat.Book {
	return c.book
}

func (c *Client) State() ws.State {
	return c.slot.State()
}

func (c *Client) Identity() (models.Identity, error) {
	return c.store.Identity()
}

func (c *Client) Login(ctx context.Context, login, password string) (models.Identity, error) {
	id, err := c.api.Login(ctx, login, password)
	if err != nil {
		return models.Identity{}, err
	}
	c.coord.Reset()
	return id, c.rebind(id)
}

func (c *Client) Register(ctx context.Context, name, login, password string) (models.Identity, error) {
	if err := content.ValidateUsername(name); err != nil {
		return models.Identity{}, err
	}
	id, err := c.api.Register(ctx, content.NormalizeUsername(name), login, password)
	if err != nil {
		return models.Identity{}, err
	}
	c.coord.Reset()
	return id, c.rebind(id)
}

// Start confirms the stored identity with the server, loads the chat list and
// opens the channel for it.
func (c *Client) Start(ctx context.Context) ([]models.Chat, error) {
	if _, err := c.api.UserInfo(ctx); err != nil {
		return nil, err
	}
	chats, err := c.api.Chats(ctx)
	if err != nil {
		return nil, err
	}
	id, err := c.store.Identity()
	if err != nil {
		return nil, err
	}
	if err := c.identityChanged(id); err != nil {
		return nil, err
	}
	return chats, nil
}

// rebind moves a live channel over to id. Without a live channel nothing is
// opened until Start.
func (c *Client) rebind(id models.Identity) error {
	if c.slot.Current() == nil {
		return nil
	}
	return c.identityChanged(id)
}

// identityChanged replaces the channel when the signed-in user differs from
// the one the channel was opened for.
func (c *Client) identityChanged(id models.Identity) error {
	c.mu.Lock()
	same := c.channelUser == id.Name && c.slot.Current() != nil
	if !same {
		c.channelUser = id.Name
	}
	c.mu.Unlock()
	if same {
		return nil
	}
	return c.slot.Replace(id)
}

func (c *Client) newManager(id models.Identity) (*ws.Manager, error) {
	endpoint, err := ws.Endpoint(c.cfg.WSURL, id.Name, id.AccessToken)
	if err != nil {
		return nil, fmt.Errorf("channel endpoint: %w", err)
	}
	logger := c.logger.With().Str("user", id.Name).Logger()
	return ws.NewManager(ws.Options{
		URL:    endpoint,
		Dialer: c.dialer,
		Policy: ws.Policy{
			MaxAttempts: c.cfg.MaxReconnectAttempts,
			Interval:    c.cfg.ReconnectInterval,
		},
		OnFrame:   func(f models.Frame) { c.receive(id.Name, f) },
		AfterFunc: c.afterFunc,
		Logger:    &logger,
	}), nil
}

func (c *Client) receive(self string, f models.Frame) {
	if content.NormalizeUsername(f.FromUser) == content.NormalizeUsername(self) {
		c.logger.Debug().Int64("chat_id", f.ChatID).Msg("skipping own message echo")
		return
	}
	peer := content.NormalizeUsername(f.FromUser)
	c.book.Record(peer, chat.Message{
		From:   peer,
		Text:   content.PlainText(f.Content),
		Status: chat.StatusReceived,
	})
}

// ComposeFrame builds the outbound frame for recipient using the stored
// chat map.
func (c *Client) ComposeFrame(recipient, text string) (models.Frame, error) {
	if strings.TrimSpace(text) == "" {
		return models.Frame{}, ErrEmptyMessage
	}
	id, err := c.store.Identity()
	if err != nil {
		return models.Frame{}, err
	}
	chatMap, err := c.store.ChatMap()
	if err != nil {
		return models.Frame{}, err
	}

	to := content.NormalizeUsername(recipient)
	chatID, ok := chatMap[to]
	if !ok || chatID == 0 {
		return models.Frame{}, fmt.Errorf("%w: %s", ErrUnknownChat, to)
	}
	if to == content.NormalizeUsername(id.Name) {
		return models.Frame{}, ErrSelfMessage
	}
	return models.Frame{ChatID: chatID, FromUser: id.Name, ToUser: to, Content: text}, nil
}

// Send writes a message to recipient and records it in the transcript with
// its delivery status.
func (c *Client) Send(recipient, text string) (chat.Message, error) {
	frame, err := c.ComposeFrame(recipient, text)
	if err != nil {
		return chat.Message{}, err
	}

	status := chat.StatusSent
	if !c.slot.Send(frame) {
		status = chat.StatusError
		err = ErrNotConnected
	}
	msg := c.book.Record(frame.ToUser, chat.Message{
		From:   frame.FromUser,
		Text:   frame.Content,
		Own:    true,
		Status: status,
	})
	return msg, err
}

// History loads the server history of the chat with peer into its transcript.
func (c *Client) History(ctx context.Context, peer string) ([]chat.Message, error) {
	peer = content.NormalizeUsername(peer)
	chatMap, err := c.store.ChatMap()
	if err != nil {
		return nil, err
	}
	chatID, ok := chatMap[peer]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownChat, peer)
	}
	entries, err := c.api.ChatHistory(ctx, chatID)
	if err != nil {
		return nil, err
	}
	id, err := c.store.Identity()
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].Content = content.PlainText(entries[i].Content)
	}
	return c.book.LoadHistory(peer, id.Name, entries), nil
}

// StartChat creates a chat with recipient and refreshes the chat map.
func (c *Client) StartChat(ctx context.Context, recipient string) error {
	if err := c.api.CreateChat(ctx, recipient); err != nil {
		return err
	}
	_, err := c.api.Chats(ctx)
	return err
}

func (c *Client) Logout(ctx context.Context) error {
	if err := c.api.Logout(ctx); err != nil {
		return err
	}
	c.signedOut()
	return nil
}

func (c *Client) DeleteAccount(ctx context.Context, password string) error {
	if err := c.api.DeleteAccount(ctx, password); err != nil {
		return err
	}
	c.signedOut()
	return nil
}

// Close tears the channel down and keeps the stored identity.
func (c *Client) Close() {
	c.slot.Close()
	c.mu.Lock()
	c.channelUser = ""
	c.mu.Unlock()
}

func (c *Client) signedOut() {
	c.Close()
	c.book.Clear()
}

func (c *Client) refreshFailed(err error) {
	c.logger.Warn().Err(err).Msg("session could not be refreshed, signing out")
	c.signedOut()
	if c.onSignedOut != nil {
		c.onSignedOut(err)
	}
}
