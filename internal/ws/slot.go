package ws

import (
	"sync"
	"time"

	"besedka/internal/logx"
	"besedka/internal/models"

	"github.com/rs/zerolog"
)

const DefaultConnectDelay = time.Second

// ManagerFactory builds the channel for an identity.
type ManagerFactory func(identity models.Identity) (*Manager, error)

// Slot holds at most one live channel. Replacing the identity tears down the
// previous channel before the next one is created.
type Slot struct {
	factory      ManagerFactory
	connectDelay time.Duration
	afterFunc    AfterFunc
	logger       zerolog.Logger

	// swapMu serializes Replace and Close; mu guards the fields below.
	swapMu  sync.Mutex
	mu      sync.Mutex
	current *Manager
	pending Timer
}

func NewSlot(factory ManagerFactory, connectDelay time.Duration, afterFunc AfterFunc) *Slot {
	if afterFunc == nil {
		afterFunc = SystemAfterFunc
	}
	return &Slot{
		factory:      factory,
		connectDelay: connectDelay,
		afterFunc:    afterFunc,
		logger:       logx.Component("ws.slot"),
	}
}

// Replace disposes the current channel and schedules a connect for identity
// after the connect delay. It must not be called from the channel's own
// callbacks.
func (s *Slot) Replace(identity models.Identity) error {
	s.swapMu.Lock()
	defer s.swapMu.Unlock()

	s.teardown()

	m, err := s.factory(identity)
	if err != nil {
		return err
	}
	s.logger.Info().Str("user", identity.Name).Str("session_id", m.ID()).Msg("channel replaced")

	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = m
	if s.connectDelay <= 0 {
		m.Connect()
		return nil
	}
	s.pending = s.afterFunc(s.connectDelay, func() {
		s.mu.Lock()
		live := s.current == m
		s.mu.Unlock()
		if live {
			m.Connect()
		}
	})
	return nil
}

// Close disposes the current channel, if any.
func (s *Slot) Close() {
	s.swapMu.Lock()
	defer s.swapMu.Unlock()
	s.teardown()
}

func (s *Slot) Current() *Manager {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.current
}

func (s *Slot) Send(frame models.Frame) bool {
	m := s.Current()
	if m == nil {
		s.logger.Warn().Msg("no channel, frame dropped")
		return false
	}
	return m.Send(frame)
}

func (s *Slot) State() State {
	m := s.Current()
	if m == nil {
		return StateIdle
	}
	return m.State()
}

// teardown detaches the current channel and disposes it outside mu so its
// callbacks can still read the slot. Callers hold swapMu.
func (s *Slot) teardown() {
	s.mu.Lock()
	if s.pending != nil {
		s.pending.Stop()
		s.pending = nil
	}
	old := s.current
	s.current = nil
	s.mu.Unlock()

	if old != nil {
		old.Dispose()
	}
}
