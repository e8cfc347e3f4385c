package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"besedka/internal/content"
	"besedka/internal/logx"
	"besedka/internal/models"
	"besedka/internal/storage"

	"github.com/rs/zerolog"
)

const maxErrorBody = 4 << 10

var ErrIncompleteCredentials = errors.New("name, login and token are required")

// StatusError is a non-2xx answer from the backend.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("unexpected status %d", e.StatusCode)
	}
	return fmt.Sprintf("unexpected status %d: %s", e.StatusCode, e.Message)
}

// Client talks to the chat backend REST API. Authenticated calls go through
// the guarded client; login, registration and refresh use the bare one.
type Client struct {
	baseURL string
	guarded *http.Client
	bare    *http.Client
	store   storage.CredentialStore
	logger  zerolog.Logger
}

func New(baseURL string, guarded, bare *http.Client, store storage.CredentialStore) *Client {
	if bare == nil {
		bare = http.DefaultClient
	}
	if guarded == nil {
		guarded = bare
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		guarded: guarded,
		bare:    bare,
		store:   store,
		logger:  logx.Component("api"),
	}
}

type credentialsResponse struct {
	Name         string `json:"name"`
	JWT          string `json:"jwt"`
	RefreshToken string `json:"refreshToken"`
	Message      string `json:"message"`
}

func (c *Client) Login(ctx context.Context, login, password string) (models.Identity, error) {
	req := struct {
		Login    string `json:"login"`
		Password string `json:"password"`
	}{login, password}

	var resp credentialsResponse
	if err := c.do(ctx, c.bare, http.MethodPost, "/users/login", nil, req, &resp); err != nil {
		return models.Identity{}, fmt.Errorf("login: %w", err)
	}
	return c.signIn(login, resp)
}

func (c *Client) Register(ctx context.Context, name, login, password string) (models.Identity, error) {
	req := struct {
		Name     string `json:"name"`
		Login    string `json:"login"`
		Password string `json:"password"`
	}{name, login, password}

	var resp credentialsResponse
	if err := c.do(ctx, c.bare, http.MethodPost, "/users/register", nil, req, &resp); err != nil {
		return models.Identity{}, fmt.Errorf("register: %w", err)
	}
	return c.signIn(login, resp)
}

func (c *Client) signIn(login string, resp credentialsResponse) (models.Identity, error) {
	if resp.Name == "" {
		if resp.Message != "" {
			return models.Identity{}, errors.New(resp.Message)
		}
		return models.Identity{}, errors.New("server did not return a user name")
	}
	identity := models.Identity{
		Name:         resp.Name,
		Login:        login,
		AccessToken:  resp.JWT,
		RefreshToken: resp.RefreshToken,
	}
	if err := c.store.SetIdentity(identity); err != nil {
		return models.Identity{}, fmt.Errorf("store identity: %w", err)
	}
	c.logger.Info().Str("user", identity.Name).Bool("refresh_token", identity.RefreshToken != "").Msg("signed in")
	return identity, nil
}

// UserInfo fetches the profile of the signed-in user and stores what the
// server returns.
func (c *Client) UserInfo(ctx context.Context) (models.UserInfo, error) {
	id, err := c.store.Identity()
	if err != nil {
		return models.UserInfo{}, err
	}
	if id.AccessToken == "" {
		return models.UserInfo{}, ErrIncompleteCredentials
	}

	q := url.Values{"Name": {id.Name}, "JWT": {id.AccessToken}}
	var info models.UserInfo
	if err := c.do(ctx, c.guarded, http.MethodGet, "/users/GetUserinfo", q, nil, &info); err != nil {
		return models.UserInfo{}, fmt.Errorf("user info: %w", err)
	}

	// Tokens may have been refreshed while the call was in flight.
	current, err := c.store.Identity()
	if err != nil {
		return models.UserInfo{}, err
	}
	if info.Name != "" {
		current.Name = info.Name
	}
	if info.Login != "" {
		current.Login = info.Login
	}
	if info.JWT != "" {
		current.AccessToken = info.JWT
	}
	if err := c.store.SetIdentity(current); err != nil {
		return models.UserInfo{}, fmt.Errorf("store identity: %w", err)
	}
	return info, nil
}

// Chats lists the chats of the signed-in user with usernames normalized to
// the @ form and records the peer to chat id map.
func (c *Client) Chats(ctx context.Context) ([]models.Chat, error) {
	id, err := c.store.Identity()
	if err != nil {
		return nil, err
	}

	var resp struct {
		Chats []models.Chat `json:"chats"`
		JWT   string        `json:"jwt"`
	}
	q := url.Values{"Name": {id.Name}, "JWT": {id.AccessToken}}
	if err := c.do(ctx, c.guarded, http.MethodGet, "/users/getChat", q, nil, &resp); err != nil {
		return nil, fmt.Errorf("chats: %w", err)
	}

	chatMap := make(map[string]int64, len(resp.Chats))
	for i := range resp.Chats {
		ch := &resp.Chats[i]
		ch.Name = content.NormalizeUsername(ch.Name)
		ch.UserName1 = content.NormalizeUsername(ch.UserName1)
		ch.UserName2 = content.NormalizeUsername(ch.UserName2)
		chatMap[ch.Name] = ch.ID
	}
	if err := c.store.SetChatMap(chatMap); err != nil {
		return nil, fmt.Errorf("store chat map: %w", err)
	}
	c.echoToken(resp.JWT)
	return resp.Chats, nil
}

func (c *Client) ChatHistory(ctx context.Context, chatID int64) ([]models.HistoryEntry, error) {
	id, err := c.store.Identity()
	if err != nil {
		return nil, err
	}

	var resp struct {
		History []models.HistoryEntry `json:"history"`
		JWT     string                `json:"jwt"`
	}
	q := url.Values{
		"ChatId": {strconv.FormatInt(chatID, 10)},
		"Name":   {id.Name},
		"JWT":    {id.AccessToken},
	}
	if err := c.do(ctx, c.guarded, http.MethodGet, "/app/chats/ChatHistory", q, nil, &resp); err != nil {
		return nil, fmt.Errorf("chat history: %w", err)
	}
	c.echoToken(resp.JWT)
	return resp.History, nil
}

// Search finds users by a name fragment. The signed-in user is never part of
// the result.
func (c *Client) Search(ctx context.Context, query string) ([]models.SearchResult, error) {
	id, err := c.store.Identity()
	if err != nil {
		return nil, err
	}

	var found []string
	q := url.Values{"Parametr": {query}, "Name": {id.Name}}
	if err := c.do(ctx, c.guarded, http.MethodGet, "/users/Search", q, nil, &found); err != nil {
		return nil, fmt.Errorf("search: %w", err)
	}

	self := content.NormalizeUsername(id.Name)
	results := make([]models.SearchResult, 0, len(found))
	for _, username := range found {
		username = content.NormalizeUsername(username)
		if username == self {
			continue
		}
		results = append(results, models.SearchResult{
			Username: username,
			Name:     content.DisplayName(username),
		})
	}
	return results, nil
}

func (c *Client) CreateChat(ctx context.Context, recipient string) error {
	id, err := c.store.Identity()
	if err != nil {
		return err
	}
	req := struct {
		Name      string `json:"name"`
		UserName1 string `json:"userName1"`
		UserName2 string `json:"userName2"`
		JWT       string `json:"jwt"`
	}{id.Name, id.Name, content.NormalizeUsername(recipient), id.AccessToken}

	if err := c.do(ctx, c.guarded, http.MethodPost, "/app/chats/createchat", nil, req, nil); err != nil {
		return fmt.Errorf("create chat: %w", err)
	}
	return nil
}

// Logout ends the server session and forgets every piece of local state.
func (c *Client) Logout(ctx context.Context) error {
	if err := c.do(ctx, c.guarded, http.MethodDelete, "/users/logout", nil, nil, nil); err != nil {
		return fmt.Errorf("logout: %w", err)
	}
	return c.store.Clear()
}

// DeleteAccount removes the account on the server after confirming the
// password, then forgets every piece of local state.
func (c *Client) DeleteAccount(ctx context.Context, password string) error {
	id, err := c.store.Identity()
	if err != nil {
		return err
	}
	if id.Login == "" || id.AccessToken == "" {
		return ErrIncompleteCredentials
	}
	req := struct {
		Login    string `json:"login"`
		Password string `json:"password"`
		Name     string `json:"name"`
		JWT      string `json:"jwt"`
	}{id.Login, password, id.Name, id.AccessToken}

	if err := c.do(ctx, c.guarded, http.MethodDelete, "/users/deleteAccount", nil, req, nil); err != nil {
		return fmt.Errorf("delete account: %w", err)
	}
	return c.store.Clear()
}

// Refresh exchanges a refresh token for a new token pair. It never passes
// through the guard.
func (c *Client) Refresh(ctx context.Context, name, refreshToken string) (string, string, error) {
	req := struct {
		Name         string `json:"name"`
		RefreshToken string `json:"refreshToken"`
	}{name, refreshToken}

	var resp struct {
		JWT          string `json:"jwt"`
		RefreshToken string `json:"refreshToken"`
	}
	if err := c.do(ctx, c.bare, http.MethodPost, "/auth/refresh", nil, req, &resp); err != nil {
		return "", "", err
	}
	if resp.JWT == "" {
		return "", "", errors.New("refresh response without token")
	}
	return resp.JWT, resp.RefreshToken, nil
}

// echoToken stores a token the server handed back with a response.
func (c *Client) echoToken(token string) {
	if token == "" {
		return
	}
	if err := c.store.SetAccessToken(token); err != nil {
		c.logger.Warn().Err(err).Msg("failed to store echoed token")
	}
}

func (c *Client) do(ctx context.Context, hc *http.Client, method, path string, query url.Values, in, out any) error {
	u := c.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		data, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return statusError(resp)
	}
	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

func statusError(resp *http.Response) error {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	se := &StatusError{StatusCode: resp.StatusCode}

	var msg struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(data, &msg) == nil && msg.Message != "" {
		se.Message = msg.Message
	} else {
		se.Message = strings.TrimSpace(string(data))
	}
	return se
}
