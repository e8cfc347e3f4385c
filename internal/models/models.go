package models

// Identity is the signed-in user as the client remembers it.
type Identity struct {
	Name         string `json:"name"`
	Login        string `json:"login"`
	AccessToken  string `json:"jwt"`
	RefreshToken string `json:"refreshToken"`
}

// IsZero reports whether no user is signed in.
func (i Identity) IsZero() bool {
	return i.Name == ""
}

// Frame is one message on the chat channel, in either direction.
type Frame struct {
	ChatID   int64  `json:"chatId"`
	FromUser string `json:"fromUser"`
	ToUser   string `json:"toUser"`
	Content  string `json:"content"`
}

// Chat is one entry of the user's chat list.
type Chat struct {
	ID        int64  `json:"id"`
	UserName1 string `json:"userName1"`
	UserName2 string `json:"userName2"`
	Name      string `json:"nameChat"`
}

// Peer returns the participant of the chat that is not self.
func (c Chat) Peer(self string) string {
	if c.UserName2 == self {
		return c.UserName1
	}
	return c.UserName2
}

// HistoryEntry is one stored message returned by the chat history call.
type HistoryEntry struct {
	Name    string `json:"name"`
	Content string `json:"content"`
}

// UserInfo is the profile returned for the signed-in user.
type UserInfo struct {
	Name  string `json:"name"`
	Login string `json:"login"`
	JWT   string `json:"jwt"`
}

// SearchResult is a user found by the search call.
type SearchResult struct {
	Username string `json:"username"`
	Name     string `json:"name"`
}
