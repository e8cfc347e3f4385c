package storage

import (
	"fmt"
	"maps"
	"time"

	"besedka/internal/models"

	"go.etcd.io/bbolt"
)

var (
	bucketSession = []byte("session")
)

// BboltStore persists session state between CLI invocations, the way a
// browser keeps it in local storage.
type BboltStore struct {
	db *bbolt.DB
}

func NewBboltStore(path string) (*BboltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt db: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketSession)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BboltStore{db: db}, nil
}

func (s *BboltStore) Close() error {
	return s.db.Close()
}

func put(b *bbolt.Bucket, rec Storeable) error {
	data, err := rec.MarshalBinary()
	if err != nil {
		return err
	}
	return b.Put(rec.Key(), data)
}

func getIdentity(b *bbolt.Bucket) (*DBIdentity, error) {
	data := b.Get(keyIdentity)
	if data == nil {
		return nil, ErrNoIdentity
	}
	var rec DBIdentity
	if err := rec.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("failed to unmarshal identity: %w", err)
	}
	if rec.Name == "" {
		return nil, ErrNoIdentity
	}
	return &rec, nil
}

func (s *BboltStore) Identity() (models.Identity, error) {
	var identity models.Identity
	err := s.db.View(func(tx *bbolt.Tx) error {
		rec, err := getIdentity(tx.Bucket(bucketSession))
		if err != nil {
			return err
		}
		identity = rec.Identity()
		return nil
	})
	return identity, err
}

func (s *BboltStore) SetIdentity(identity models.Identity) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx.Bucket(bucketSession), newDBIdentity(identity))
	})
}

// updateIdentity applies fn to the stored identity inside one write
// transaction.
func (s *BboltStore) updateIdentity(fn func(rec *DBIdentity)) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketSession)
		rec, err := getIdentity(b)
		if err != nil {
			return err
		}
		fn(rec)
		return put(b, rec)
	})
}

func (s *BboltStore) SetTokens(accessToken, refreshToken string) error {
	return s.updateIdentity(func(rec *DBIdentity) {
		rec.AccessToken = accessToken
		rec.RefreshToken = refreshToken
	})
}

func (s *BboltStore) SetAccessToken(accessToken string) error {
	return s.updateIdentity(func(rec *DBIdentity) {
		rec.AccessToken = accessToken
	})
}

func (s *BboltStore) ChatMap() (map[string]int64, error) {
	chats := map[string]int64{}
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(bucketSession).Get(keyChatMap)
		if data == nil {
			return nil
		}
		var rec DBChatMap
		if err := rec.UnmarshalBinary(data); err != nil {
			return fmt.Errorf("failed to unmarshal chat map: %w", err)
		}
		maps.Copy(chats, rec.Chats)
		return nil
	})
	return chats, err
}

func (s *BboltStore) SetChatMap(chatMap map[string]int64) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return put(tx.Bucket(bucketSession), &DBChatMap{Chats: chatMap})
	})
}

func (s *BboltStore) Clear() error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		if err := tx.DeleteBucket(bucketSession); err != nil {
			return err
		}
		_, err := tx.CreateBucket(bucketSession)
		return err
	})
}
