package ws

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"besedka/internal/logx"
	"besedka/internal/models"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Timer is a pending reconnect or delayed connect.
type Timer interface {
	Stop() bool
}

// AfterFunc schedules f after d. time.AfterFunc satisfies it via SystemAfterFunc.
type AfterFunc func(d time.Duration, f func()) Timer

func SystemAfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

// FrameHandler receives decoded inbound frames in receipt order.
type FrameHandler func(models.Frame)

type Options struct {
	URL       string
	Dialer    Dialer
	Policy    Policy
	OnFrame   FrameHandler
	OnOpen    func()
	OnClose   func(code int, reason string)
	AfterFunc AfterFunc
	Logger    *zerolog.Logger
}

// Manager owns one logical channel: it dials, reads, writes and reconnects
// according to its Machine. All methods are safe for concurrent use.
type Manager struct {
	id        string
	url       string
	dialer    Dialer
	onFrame   FrameHandler
	onOpen    func()
	onClose   func(code int, reason string)
	afterFunc AfterFunc
	logger    zerolog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	machine  *Machine
	conn     Conn
	gen      uint64
	retry    Timer
	retrySeq uint64
	disposed bool

	writeMu sync.Mutex
}

func NewManager(opts Options) *Manager {
	if opts.Dialer == nil {
		opts.Dialer = NewGorillaDialer(false)
	}
	if opts.AfterFunc == nil {
		opts.AfterFunc = SystemAfterFunc
	}
	if opts.Policy == (Policy{}) {
		opts.Policy = DefaultPolicy()
	}
	base := logx.Logger()
	if opts.Logger != nil {
		base = opts.Logger
	}

	id := uuid.NewString()
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		id:        id,
		url:       opts.URL,
		dialer:    opts.Dialer,
		onFrame:   opts.OnFrame,
		onOpen:    opts.OnOpen,
		onClose:   opts.OnClose,
		afterFunc: opts.AfterFunc,
		logger:    base.With().Str("component", "ws").Str("session_id", id).Logger(),
		ctx:       ctx,
		cancel:    cancel,
		machine:   NewMachine(opts.Policy),
	}
}

func (m *Manager) ID() string {
	return m.id
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.machine.State()
}

func (m *Manager) Attempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.machine.Attempts()
}

// Connect starts dialing unless the channel is already active. It never blocks.
func (m *Manager) Connect() {
	m.dispatch(Event{Type: EventConnect})
}

// Close shuts the channel down with a manual-close frame and cancels any
// pending reconnect. No automatic reconnect follows.
func (m *Manager) Close() {
	m.dispatch(Event{Type: EventCloseRequested})
}

// Send writes frame if the channel is open. Otherwise the frame is dropped
// and false is returned.
func (m *Manager) Send(frame models.Frame) bool {
	m.mu.Lock()
	state := m.machine.State()
	conn := m.conn
	m.mu.Unlock()

	if state != StateOpen || conn == nil {
		m.logger.Warn().Str("state", state.String()).Msg("channel not open, frame dropped")
		return false
	}

	data, err := json.Marshal(frame)
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to encode frame")
		return false
	}

	m.writeMu.Lock()
	err = conn.WriteMessage(websocket.TextMessage, data)
	m.writeMu.Unlock()
	if err != nil {
		m.logger.Error().Err(err).Msg("failed to write frame")
		// The read loop observes the broken socket and takes the close path.
		conn.Close()
		return false
	}
	return true
}

// Dispose closes the channel and waits for its goroutines to exit. The
// Manager can not be reused afterwards. Dispose must not be called from an
// OnFrame handler.
func (m *Manager) Dispose() {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		return
	}
	m.disposed = true
	effects := m.machine.Transition(Event{Type: EventCloseRequested})
	after := m.apply(effects)
	m.mu.Unlock()

	runAll(after)
	m.cancel()
	m.wg.Wait()
}

func (m *Manager) dispatch(ev Event) {
	m.mu.Lock()
	if m.disposed {
		m.mu.Unlock()
		m.logger.Debug().Msg("channel disposed, event ignored")
		return
	}
	effects := m.machine.Transition(ev)
	after := m.apply(effects)
	m.mu.Unlock()
	runAll(after)
}

// apply performs effects that only touch manager state and returns the ones
// that must run without holding m.mu. Callers hold m.mu.
func (m *Manager) apply(effects []Effect) []func() {
	var after []func()
	for _, eff := range effects {
		switch eff.Type {
		case EffectDial:
			if m.disposed {
				continue
			}
			m.gen++
			gen := m.gen
			m.wg.Add(1)
			go m.dial(gen)
		case EffectScheduleRetry:
			if m.disposed {
				continue
			}
			m.stopRetry()
			m.retrySeq++
			seq := m.retrySeq
			m.retry = m.afterFunc(eff.Delay, func() { m.retryDue(seq) })
		case EffectCancelRetry:
			m.stopRetry()
		case EffectCloseSocket:
			if conn := m.conn; conn != nil {
				after = append(after, func() { m.closeSocket(conn) })
			}
		case EffectNotifyOpen:
			if m.onOpen != nil {
				after = append(after, m.onOpen)
			}
		case EffectNotifyClosed:
			if m.onClose != nil {
				code, reason := eff.Code, eff.Reason
				after = append(after, func() { m.onClose(code, reason) })
			}
		case EffectLog:
			e := m.logger.WithLevel(eff.Level)
			if eff.Err != nil {
				e = e.Err(eff.Err)
			}
			e.Msg(eff.Message)
		}
	}
	return after
}

func (m *Manager) stopRetry() {
	if m.retry != nil {
		m.retry.Stop()
		m.retry = nil
	}
	// A timer that already fired must not act on a newer schedule.
	m.retrySeq++
}

func (m *Manager) retryDue(seq uint64) {
	m.mu.Lock()
	if m.disposed || seq != m.retrySeq {
		m.mu.Unlock()
		return
	}
	m.retry = nil
	effects := m.machine.Transition(Event{Type: EventRetryDue})
	after := m.apply(effects)
	m.mu.Unlock()
	runAll(after)
}

func (m *Manager) dial(gen uint64) {
	defer m.wg.Done()

	m.logger.Debug().Uint64("generation", gen).Msg("dialing channel")
	conn, err := m.dialer.Dial(m.ctx, m.url)

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		if conn != nil {
			conn.Close()
		}
		return
	}
	if err == nil && m.disposed {
		conn.Close()
		conn, err = nil, context.Canceled
	}
	if err != nil {
		effects := m.machine.Transition(Event{Type: EventClosed, Code: closeAbnormal, Err: err})
		after := m.apply(effects)
		m.mu.Unlock()
		runAll(after)
		return
	}

	m.conn = conn
	effects := m.machine.Transition(Event{Type: EventOpened})
	after := m.apply(effects)
	m.wg.Add(1)
	go m.readLoop(conn, gen)
	m.mu.Unlock()
	runAll(after)
}

func (m *Manager) readLoop(conn Conn, gen uint64) {
	defer m.wg.Done()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			code, reason := closeDetails(err)
			m.socketClosed(conn, gen, code, reason, err)
			return
		}

		var frame models.Frame
		if err := json.Unmarshal(data, &frame); err != nil {
			m.logger.Warn().Err(err).Int("bytes", len(data)).Msg("malformed inbound frame dropped")
			continue
		}
		if m.onFrame != nil {
			m.onFrame(frame)
		}
	}
}

func (m *Manager) socketClosed(conn Conn, gen uint64, code int, reason string, err error) {
	conn.Close()

	m.mu.Lock()
	if gen != m.gen {
		m.mu.Unlock()
		return
	}
	m.conn = nil
	effects := m.machine.Transition(Event{Type: EventClosed, Code: code, Reason: reason, Err: err})
	after := m.apply(effects)
	m.mu.Unlock()
	runAll(after)
}

func (m *Manager) closeSocket(conn Conn) {
	m.writeMu.Lock()
	err := conn.WriteControl(websocket.CloseMessage, closeFrame(websocket.CloseNormalClosure, ReasonManualClose), time.Now().Add(writeWait))
	m.writeMu.Unlock()
	if err != nil {
		m.logger.Debug().Err(err).Msg("close frame not delivered")
	}
	conn.Close()
}

func runAll(fns []func()) {
	for _, fn := range fns {
		fn()
	}
}
