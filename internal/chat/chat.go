package chat

import (
	"sort"
	"sync"
	"time"

	"besedka/internal/models"

	"github.com/google/uuid"
)

const DefaultMaxMessages = 500

type Seq int64

type Status string

const (
	StatusSent     Status = "sent"
	StatusError    Status = "error"
	StatusReceived Status = "received"
)

type Message struct {
	Seq       Seq
	ID        string
	Timestamp int64
	From      string
	Text      string
	Own       bool
	Status    Status
}

// Transcript keeps the most recent messages exchanged with one peer in a
// ring buffer.
type Transcript struct {
	Peer string

	messages    []Message
	firstSeq    Seq
	lastSeq     Seq
	lastIndex   int
	maxMessages int

	mux sync.RWMutex
}

func NewTranscript(peer string, maxMessages int) *Transcript {
	if maxMessages <= 0 {
		maxMessages = DefaultMaxMessages
	}
	return &Transcript{
		Peer:        peer,
		maxMessages: maxMessages,
		lastIndex:   -1,
		firstSeq:    -1,
		lastSeq:     -1,
	}
}

// Append stores msg, assigning its sequence number, and returns the stored copy.
func (t *Transcript) Append(msg Message) Message {
	t.mux.Lock()
	defer t.mux.Unlock()
	return t.append(msg)
}

func (t *Transcript) append(msg Message) Message {
	t.lastSeq++
	msg.Seq = t.lastSeq
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp == 0 {
		msg.Timestamp = time.Now().UnixMilli()
	}

	switch {
	case len(t.messages) < t.maxMessages:
		if t.firstSeq == -1 {
			t.firstSeq = t.lastSeq
		}
		t.messages = append(t.messages, msg)
		t.lastIndex++
	default:
		t.firstSeq++
		i := (t.lastIndex + 1) % t.maxMessages
		t.messages[i] = msg
		t.lastIndex = i
	}
	return msg
}

// Range returns messages with from <= Seq < to that are still buffered.
func (t *Transcript) Range(from, to Seq) []Message {
	t.mux.RLock()
	defer t.mux.RUnlock()

	if t.firstSeq == -1 {
		return []Message{}
	}
	if from < t.firstSeq {
		from = t.firstSeq
	}
	if to > t.lastSeq+1 {
		to = t.lastSeq + 1
	}
	if from >= to {
		return []Message{}
	}
	return t.copyFrom(from, int(to-from))
}

// Last returns up to count most recent messages, oldest first.
func (t *Transcript) Last(count int) []Message {
	t.mux.RLock()
	defer t.mux.RUnlock()

	if t.lastSeq == -1 || count <= 0 {
		return []Message{}
	}
	if total := int(t.lastSeq - t.firstSeq + 1); count > total {
		count = total
	}
	return t.copyFrom(t.lastSeq-Seq(count)+1, count)
}

func (t *Transcript) copyFrom(from Seq, count int) []Message {
	head := 0
	if len(t.messages) == t.maxMessages {
		head = (t.lastIndex + 1) % t.maxMessages
	}
	start := (head + int(from-t.firstSeq)) % len(t.messages)

	out := make([]Message, count)
	if start+count <= len(t.messages) {
		copy(out, t.messages[start:start+count])
		return out
	}
	n := copy(out, t.messages[start:])
	copy(out[n:], t.messages[:count-n])
	return out
}

// SetStatus updates a buffered message. It reports false when seq has
// already been evicted.
func (t *Transcript) SetStatus(seq Seq, status Status) bool {
	t.mux.Lock()
	defer t.mux.Unlock()

	for i := range t.messages {
		if t.messages[i].Seq == seq {
			t.messages[i].Status = status
			return true
		}
	}
	return false
}

func (t *Transcript) Len() int {
	t.mux.RLock()
	defer t.mux.RUnlock()
	return len(t.messages)
}

func (t *Transcript) reset() {
	t.messages = nil
	t.firstSeq = -1
	t.lastSeq = -1
	t.lastIndex = -1
}

type Config struct {
	MaxMessages int
	// OnMessage is called for every message recorded through the Book.
	OnMessage func(peer string, msg Message)
}

// Book holds one transcript per peer.
type Book struct {
	maxMessages int
	onMessage   func(peer string, msg Message)

	mu          sync.Mutex
	transcripts map[string]*Transcript
}

func NewBook(config Config) *Book {
	return &Book{
		maxMessages: config.MaxMessages,
		onMessage:   config.OnMessage,
		transcripts: make(map[string]*Transcript),
	}
}

func (b *Book) Transcript(peer string) *Transcript {
	b.mu.Lock()
	defer b.mu.Unlock()

	t, ok := b.transcripts[peer]
	if !ok {
		t = NewTranscript(peer, b.maxMessages)
		b.transcripts[peer] = t
	}
	return t
}

func (b *Book) Record(peer string, msg Message) Message {
	stored := b.Transcript(peer).Append(msg)
	if b.onMessage != nil {
		b.onMessage(peer, stored)
	}
	return stored
}

// LoadHistory replaces the transcript of peer with the server history.
func (b *Book) LoadHistory(peer, self string, history []models.HistoryEntry) []Message {
	t := b.Transcript(peer)

	t.mux.Lock()
	defer t.mux.Unlock()
	t.reset()
	for _, entry := range history {
		own := entry.Name == self
		status := StatusReceived
		if own {
			status = StatusSent
		}
		t.append(Message{From: entry.Name, Text: entry.Content, Own: own, Status: status})
	}
	return t.copyAll()
}

func (t *Transcript) copyAll() []Message {
	if t.lastSeq == -1 {
		return []Message{}
	}
	return t.copyFrom(t.firstSeq, int(t.lastSeq-t.firstSeq+1))
}

func (b *Book) Peers() []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	peers := make([]string, 0, len(b.transcripts))
	for p := range b.transcripts {
		peers = append(peers, p)
	}
	sort.Strings(peers)
	return peers
}

// Clear drops every transcript.
func (b *Book) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.transcripts = make(map[string]*Transcript)
}
