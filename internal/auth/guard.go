package auth

import (
	"context"
	"io"
	"net/http"
	"time"

	"besedka/internal/logx"
	"besedka/internal/storage"

	"github.com/rs/zerolog"
)

type retriedKey struct{}

func isRetried(ctx context.Context) bool {
	v, _ := ctx.Value(retriedKey{}).(bool)
	return v
}

// Guard is an http.RoundTripper that attaches the stored access token and
// recovers from 401 responses by refreshing once and replaying the request.
type Guard struct {
	next   http.RoundTripper
	store  storage.CredentialStore
	coord  *Coordinator
	logger zerolog.Logger
	now    func() time.Time
}

func NewGuard(next http.RoundTripper, store storage.CredentialStore, coord *Coordinator) *Guard {
	if next == nil {
		next = http.DefaultTransport
	}
	return &Guard{
		next:   next,
		store:  store,
		coord:  coord,
		logger: logx.Component("auth.guard"),
		now:    time.Now,
	}
}

func (g *Guard) RoundTrip(req *http.Request) (*http.Response, error) {
	return g.send(req, g.accessToken())
}

func (g *Guard) send(req *http.Request, token string) (*http.Response, error) {
	out := req.Clone(req.Context())
	if token != "" {
		out.Header.Set("Authorization", "Bearer "+token)
		g.checkExpiry(req, token)
	}
	g.logger.Debug().Str("method", req.Method).Str("path", req.URL.Path).Bool("token", token != "").Msg("sending request")

	resp, err := g.next.RoundTrip(out)
	if err != nil || resp.StatusCode != http.StatusUnauthorized {
		return resp, err
	}
	if isRetried(req.Context()) {
		g.logger.Warn().Str("path", req.URL.Path).Msg("unauthorized after refresh")
		return resp, nil
	}
	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		g.logger.Warn().Str("path", req.URL.Path).Msg("unauthorized, body can not be replayed")
		return resp, nil
	}

	g.logger.Info().Str("path", req.URL.Path).Msg("unauthorized, refreshing token")
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	fresh, err := g.coord.Token(req.Context())
	if err != nil {
		return nil, err
	}

	replay := req.Clone(context.WithValue(req.Context(), retriedKey{}, true))
	if req.GetBody != nil {
		body, err := req.GetBody()
		if err != nil {
			return nil, err
		}
		replay.Body = body
	}
	return g.send(replay, fresh)
}

func (g *Guard) accessToken() string {
	id, err := g.store.Identity()
	if err != nil {
		return ""
	}
	return id.AccessToken
}

func (g *Guard) checkExpiry(req *http.Request, token string) {
	exp, err := TokenExpiry(token)
	if err != nil {
		return
	}
	if exp.Before(g.now()) {
		g.logger.Debug().Str("path", req.URL.Path).Time("expired_at", exp).Msg("attached access token is already expired")
	}
}
