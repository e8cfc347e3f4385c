package ws

import (
	"context"
	"crypto/tls"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait        = 10 * time.Second
	handshakeTimeout = 10 * time.Second
)

// Conn is the subset of *websocket.Conn the manager relies on.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	WriteControl(messageType int, data []byte, deadline time.Time) error
	Close() error
}

type Dialer interface {
	Dial(ctx context.Context, rawURL string) (Conn, error)
}

// GorillaDialer opens channels with gorilla/websocket.
type GorillaDialer struct {
	Dialer *websocket.Dialer
	Header http.Header
}

func NewGorillaDialer(insecureTLS bool) *GorillaDialer {
	d := &websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: handshakeTimeout,
	}
	if insecureTLS {
		d.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // local dev certificates
	}
	return &GorillaDialer{Dialer: d}
}

func (d *GorillaDialer) Dial(ctx context.Context, rawURL string) (Conn, error) {
	dialer := d.Dialer
	if dialer == nil {
		dialer = websocket.DefaultDialer
	}
	conn, resp, err := dialer.DialContext(ctx, rawURL, d.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

// Endpoint builds the channel URL for an identity. The server authenticates
// the upgrade from the query string.
func Endpoint(base, username, token string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(base))
	if err != nil {
		return "", err
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return "", errors.New("channel url must use ws or wss")
	}
	q := u.Query()
	q.Set("username", username)
	if token != "" {
		q.Set("token", token)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// closeDetails extracts the close code and reason from a read error.
// Anything that is not a close frame counts as an abnormal closure.
func closeDetails(err error) (int, string) {
	var ce *websocket.CloseError
	if errors.As(err, &ce) {
		return ce.Code, ce.Text
	}
	return closeAbnormal, ""
}

func closeFrame(code int, reason string) []byte {
	return websocket.FormatCloseMessage(code, reason)
}
