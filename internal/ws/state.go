package ws

import (
	"fmt"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectInterval    = 3 * time.Second

	// ReasonDuplicateConnection is sent by the server when the same user
	// opens a second channel; the older one must not fight back.
	ReasonDuplicateConnection = "Duplicate connection"
	// ReasonManualClose is sent by the client when it closes on purpose.
	ReasonManualClose = "Manual close"

	// closeAbnormal is reported when the socket went away without a close frame.
	closeAbnormal = websocket.CloseAbnormalClosure
)

type State int

const (
	StateIdle State = iota
	StateConnecting
	StateOpen
	StateClosing
	StateClosed
	StateReconnecting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateReconnecting:
		return "reconnecting"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

type EventType int

const (
	// EventConnect is a connect() call from the owner.
	EventConnect EventType = iota
	// EventOpened means the low-level socket finished its handshake.
	EventOpened
	// EventClosed means the socket closed, failed, or never opened.
	EventClosed
	// EventCloseRequested is a deliberate close() from the owner.
	EventCloseRequested
	// EventRetryDue fires when the reconnect interval elapsed.
	EventRetryDue
)

type Event struct {
	Type   EventType
	Code   int
	Reason string
	Err    error
}

type EffectType int

const (
	EffectDial EffectType = iota
	EffectScheduleRetry
	EffectCancelRetry
	EffectCloseSocket
	EffectNotifyOpen
	EffectNotifyClosed
	EffectLog
)

type Effect struct {
	Type EffectType

	// EffectScheduleRetry
	Delay   time.Duration
	Attempt int

	// EffectNotifyClosed
	Code   int
	Reason string

	// EffectLog
	Level   zerolog.Level
	Message string
	Err     error
}

func logEffect(level zerolog.Level, msg string) Effect {
	return Effect{Type: EffectLog, Level: level, Message: msg}
}

// Policy bounds automatic reconnection: a fixed delay between attempts and
// a fixed number of attempts, no backoff.
type Policy struct {
	MaxAttempts int
	Interval    time.Duration
}

func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: DefaultMaxReconnectAttempts,
		Interval:    DefaultReconnectInterval,
	}
}

// IsIntentionalClose reports whether a close frame tells the client to stay
// disconnected.
func IsIntentionalClose(code int, reason string) bool {
	if code != websocket.CloseNormalClosure {
		return false
	}
	return reason == ReasonDuplicateConnection || reason == ReasonManualClose
}

// Machine is the channel session state machine. It performs no I/O itself:
// Transition returns the effects the owner has to carry out.
// Machine is not safe for concurrent use.
type Machine struct {
	policy         Policy
	state          State
	attempts       int
	closeRequested bool
}

func NewMachine(policy Policy) *Machine {
	return &Machine{policy: policy, state: StateIdle}
}

func (m *Machine) State() State {
	return m.state
}

// Attempts is the number of reconnects scheduled since the last successful open.
func (m *Machine) Attempts() int {
	return m.attempts
}

func (m *Machine) Transition(ev Event) []Effect {
	switch ev.Type {
	case EventConnect:
		return m.onConnect()
	case EventOpened:
		return m.onOpened()
	case EventClosed:
		return m.onClosed(ev)
	case EventCloseRequested:
		return m.onCloseRequested()
	case EventRetryDue:
		return m.onRetryDue()
	}
	return nil
}

func (m *Machine) onConnect() []Effect {
	switch m.state {
	case StateConnecting, StateOpen:
		return []Effect{logEffect(zerolog.DebugLevel, "channel already active or connecting, skipping")}
	case StateClosing:
		return []Effect{logEffect(zerolog.DebugLevel, "channel is closing, waiting for it to finish")}
	case StateReconnecting:
		m.state = StateConnecting
		m.closeRequested = false
		return []Effect{{Type: EffectCancelRetry}, {Type: EffectDial}}
	default:
		m.state = StateConnecting
		m.closeRequested = false
		return []Effect{{Type: EffectDial}}
	}
}

func (m *Machine) onOpened() []Effect {
	switch m.state {
	case StateConnecting:
		m.state = StateOpen
		m.attempts = 0
		return []Effect{
			logEffect(zerolog.InfoLevel, "channel open"),
			{Type: EffectNotifyOpen},
		}
	case StateClosing:
		// close() arrived while the handshake was in flight.
		return []Effect{{Type: EffectCloseSocket}}
	}
	return nil
}

func (m *Machine) onClosed(ev Event) []Effect {
	switch m.state {
	case StateConnecting, StateOpen, StateClosing:
	default:
		return nil
	}

	m.state = StateClosed
	effects := []Effect{
		{Type: EffectLog, Level: zerolog.WarnLevel, Message: fmt.Sprintf("channel closed, code %d reason %q", ev.Code, ev.Reason), Err: ev.Err},
		{Type: EffectNotifyClosed, Code: ev.Code, Reason: ev.Reason},
	}

	if m.closeRequested || IsIntentionalClose(ev.Code, ev.Reason) {
		m.closeRequested = false
		return append(effects, logEffect(zerolog.InfoLevel, "intentional close, not reconnecting"))
	}

	if m.attempts >= m.policy.MaxAttempts {
		return append(effects, logEffect(zerolog.ErrorLevel, "reconnect attempts exhausted"))
	}

	m.attempts++
	m.state = StateReconnecting
	return append(effects,
		logEffect(zerolog.InfoLevel, fmt.Sprintf("reconnect scheduled (attempt %d/%d)", m.attempts, m.policy.MaxAttempts)),
		Effect{Type: EffectScheduleRetry, Delay: m.policy.Interval, Attempt: m.attempts},
	)
}

func (m *Machine) onCloseRequested() []Effect {
	switch m.state {
	case StateConnecting, StateOpen:
		m.state = StateClosing
		m.closeRequested = true
		return []Effect{
			{Type: EffectCancelRetry},
			{Type: EffectCloseSocket},
			logEffect(zerolog.InfoLevel, "closing channel"),
		}
	case StateReconnecting:
		m.state = StateClosed
		return []Effect{
			{Type: EffectCancelRetry},
			logEffect(zerolog.InfoLevel, "pending reconnect cancelled"),
		}
	}
	return []Effect{{Type: EffectCancelRetry}}
}

func (m *Machine) onRetryDue() []Effect {
	if m.state != StateReconnecting {
		return nil
	}
	m.state = StateConnecting
	return []Effect{{Type: EffectDial}}
}
