package storage

import (
	"errors"

	"besedka/internal/models"
)

var (
	ErrNoIdentity = errors.New("no identity stored")
)

// CredentialStore holds the signed-in identity and the chat map
// (peer username -> chat id) shared by the HTTP pipeline and the channel.
type CredentialStore interface {
	// Identity returns ErrNoIdentity when nobody is signed in.
	Identity() (models.Identity, error)
	SetIdentity(identity models.Identity) error
	// SetTokens replaces the access and refresh tokens of the stored identity.
	SetTokens(accessToken, refreshToken string) error
	SetAccessToken(accessToken string) error
	ChatMap() (map[string]int64, error)
	SetChatMap(chatMap map[string]int64) error
	// Clear removes every piece of local session state.
	Clear() error
}
