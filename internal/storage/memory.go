package storage

import (
	"maps"

	"besedka/internal/models"

	"github.com/c-pro/geche"
)

const sessionKey = "session"

type memoryRecord struct {
	identity models.Identity
	chats    map[string]int64
}

// MemoryStore keeps session state for the lifetime of the process only.
type MemoryStore struct {
	cache *geche.Locker[string, memoryRecord]
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		cache: geche.NewLocker[string, memoryRecord](geche.NewMapCache[string, memoryRecord]()),
	}
}

func (s *MemoryStore) load(tx *geche.Tx[string, memoryRecord]) memoryRecord {
	rec, err := tx.Get(sessionKey)
	if err != nil {
		return memoryRecord{}
	}
	return rec
}

func (s *MemoryStore) Identity() (models.Identity, error) {
	tx := s.cache.Lock()
	defer tx.Unlock()

	rec := s.load(tx)
	if rec.identity.IsZero() {
		return models.Identity{}, ErrNoIdentity
	}
	return rec.identity, nil
}

func (s *MemoryStore) SetIdentity(identity models.Identity) error {
	tx := s.cache.Lock()
	defer tx.Unlock()

	rec := s.load(tx)
	rec.identity = identity
	tx.Set(sessionKey, rec)
	return nil
}

func (s *MemoryStore) SetTokens(accessToken, refreshToken string) error {
	tx := s.cache.Lock()
	defer tx.Unlock()

	rec := s.load(tx)
	if rec.identity.IsZero() {
		return ErrNoIdentity
	}
	rec.identity.AccessToken = accessToken
	rec.identity.RefreshToken = refreshToken
	tx.Set(sessionKey, rec)
	return nil
}

func (s *MemoryStore) SetAccessToken(accessToken string) error {
	tx := s.cache.Lock()
	defer tx.Unlock()

	rec := s.load(tx)
	if rec.identity.IsZero() {
		return ErrNoIdentity
	}
	rec.identity.AccessToken = accessToken
	tx.Set(sessionKey, rec)
	return nil
}

func (s *MemoryStore) ChatMap() (map[string]int64, error) {
	tx := s.cache.Lock()
	defer tx.Unlock()

	rec := s.load(tx)
	if rec.chats == nil {
		return map[string]int64{}, nil
	}
	return maps.Clone(rec.chats), nil
}

func (s *MemoryStore) SetChatMap(chatMap map[string]int64) error {
	tx := s.cache.Lock()
	defer tx.Unlock()

	rec := s.load(tx)
	rec.chats = maps.Clone(chatMap)
	tx.Set(sessionKey, rec)
	return nil
}

func (s *MemoryStore) Clear() error {
	tx := s.cache.Lock()
	defer tx.Unlock()

	tx.Set(sessionKey, memoryRecord{})
	return nil
}
