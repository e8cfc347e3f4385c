package storage

import (
	"encoding"

	"besedka/internal/models"

	"github.com/vmihailenco/msgpack/v5"
)

type Storeable interface {
	Key() []byte
	encoding.BinaryMarshaler
	encoding.BinaryUnmarshaler
}

var (
	keyIdentity = []byte("identity")
	keyChatMap  = []byte("chat_map")
)

type DBIdentity struct {
	Name         string `msgpack:"name"`
	Login        string `msgpack:"login"`
	AccessToken  string `msgpack:"jwt"`
	RefreshToken string `msgpack:"refreshToken"`
}

func newDBIdentity(i models.Identity) *DBIdentity {
	return &DBIdentity{
		Name:         i.Name,
		Login:        i.Login,
		AccessToken:  i.AccessToken,
		RefreshToken: i.RefreshToken,
	}
}

func (i *DBIdentity) Identity() models.Identity {
	return models.Identity{
		Name:         i.Name,
		Login:        i.Login,
		AccessToken:  i.AccessToken,
		RefreshToken: i.RefreshToken,
	}
}

func (i *DBIdentity) Key() []byte {
	return keyIdentity
}

func (i *DBIdentity) MarshalBinary() (data []byte, err error) {
	type alias DBIdentity
	return msgpack.Marshal((*alias)(i))
}

func (i *DBIdentity) UnmarshalBinary(data []byte) error {
	type alias DBIdentity
	return msgpack.Unmarshal(data, (*alias)(i))
}

type DBChatMap struct {
	Chats map[string]int64 `msgpack:"chats"`
}

func (c *DBChatMap) Key() []byte {
	return keyChatMap
}

func (c *DBChatMap) MarshalBinary() (data []byte, err error) {
	type alias DBChatMap
	return msgpack.Marshal((*alias)(c))
}

func (c *DBChatMap) UnmarshalBinary(data []byte) error {
	type alias DBChatMap
	return msgpack.Unmarshal(data, (*alias)(c))
}
