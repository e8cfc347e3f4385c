package ws

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func effectTypes(effects []Effect) []EffectType {
	var types []EffectType
	for _, e := range effects {
		if e.Type == EffectLog {
			continue
		}
		types = append(types, e.Type)
	}
	return types
}

func openMachine(t *testing.T) *Machine {
	t.Helper()
	m := NewMachine(DefaultPolicy())
	m.Transition(Event{Type: EventConnect})
	m.Transition(Event{Type: EventOpened})
	require.Equal(t, StateOpen, m.State())
	return m
}

func TestMachineConnect(t *testing.T) {
	t.Run("idle dials", func(t *testing.T) {
		m := NewMachine(DefaultPolicy())
		effects := m.Transition(Event{Type: EventConnect})
		require.Equal(t, []EffectType{EffectDial}, effectTypes(effects))
		require.Equal(t, StateConnecting, m.State())
	})

	t.Run("connect is idempotent while active", func(t *testing.T) {
		m := NewMachine(DefaultPolicy())
		m.Transition(Event{Type: EventConnect})
		require.Empty(t, effectTypes(m.Transition(Event{Type: EventConnect})))

		m.Transition(Event{Type: EventOpened})
		require.Empty(t, effectTypes(m.Transition(Event{Type: EventConnect})))

		m.Transition(Event{Type: EventCloseRequested})
		require.Equal(t, StateClosing, m.State())
		require.Empty(t, effectTypes(m.Transition(Event{Type: EventConnect})))
	})

	t.Run("reconnecting dials immediately", func(t *testing.T) {
		m := openMachine(t)
		m.Transition(Event{Type: EventClosed, Code: closeAbnormal})
		require.Equal(t, StateReconnecting, m.State())

		effects := m.Transition(Event{Type: EventConnect})
		require.Equal(t, []EffectType{EffectCancelRetry, EffectDial}, effectTypes(effects))
		require.Equal(t, StateConnecting, m.State())
	})
}

func TestMachineOpenResetsAttempts(t *testing.T) {
	m := openMachine(t)
	m.Transition(Event{Type: EventClosed, Code: closeAbnormal})
	m.Transition(Event{Type: EventRetryDue})
	m.Transition(Event{Type: EventClosed, Code: closeAbnormal})
	require.Equal(t, 2, m.Attempts())

	m.Transition(Event{Type: EventRetryDue})
	effects := m.Transition(Event{Type: EventOpened})
	require.Equal(t, []EffectType{EffectNotifyOpen}, effectTypes(effects))
	require.Equal(t, 0, m.Attempts())
}

func TestMachineAbnormalCloseSchedulesOneRetry(t *testing.T) {
	m := openMachine(t)
	effects := m.Transition(Event{Type: EventClosed, Code: closeAbnormal})
	require.Equal(t, []EffectType{EffectNotifyClosed, EffectScheduleRetry}, effectTypes(effects))
	require.Equal(t, StateReconnecting, m.State())
	require.Equal(t, 1, m.Attempts())

	retry := effects[len(effects)-1]
	require.Equal(t, 3*time.Second, retry.Delay)
	require.Equal(t, 1, retry.Attempt)

	// A second close report for the same socket is ignored.
	require.Nil(t, m.Transition(Event{Type: EventClosed, Code: closeAbnormal}))
	require.Equal(t, 1, m.Attempts())
}

func TestMachineAttemptCeiling(t *testing.T) {
	m := NewMachine(DefaultPolicy())
	m.Transition(Event{Type: EventConnect})

	for attempt := 1; attempt <= DefaultMaxReconnectAttempts; attempt++ {
		effects := m.Transition(Event{Type: EventClosed, Code: closeAbnormal})
		require.Contains(t, effectTypes(effects), EffectScheduleRetry)
		require.Equal(t, attempt, m.Attempts())
		m.Transition(Event{Type: EventRetryDue})
		require.Equal(t, StateConnecting, m.State())
	}

	effects := m.Transition(Event{Type: EventClosed, Code: closeAbnormal})
	require.Equal(t, []EffectType{EffectNotifyClosed}, effectTypes(effects))
	require.Equal(t, StateClosed, m.State())
	require.Equal(t, DefaultMaxReconnectAttempts, m.Attempts())

	// Terminal until the owner connects again.
	require.Nil(t, m.Transition(Event{Type: EventRetryDue}))
	require.Equal(t, StateClosed, m.State())
}

func TestMachineIntentionalClose(t *testing.T) {
	cases := []struct {
		name   string
		code   int
		reason string
		retry  bool
	}{
		{name: "duplicate connection", code: 1000, reason: ReasonDuplicateConnection},
		{name: "manual close frame", code: 1000, reason: ReasonManualClose},
		{name: "normal closure other reason", code: 1000, reason: "bye", retry: true},
		{name: "going away", code: 1001, reason: ReasonDuplicateConnection, retry: true},
		{name: "abnormal", code: closeAbnormal, retry: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := openMachine(t)
			effects := m.Transition(Event{Type: EventClosed, Code: tc.code, Reason: tc.reason})
			require.Equal(t, tc.retry, contains(effectTypes(effects), EffectScheduleRetry))
			if tc.retry {
				require.Equal(t, StateReconnecting, m.State())
			} else {
				require.Equal(t, StateClosed, m.State())
			}
		})
	}
}

func TestMachineCloseRequested(t *testing.T) {
	t.Run("open", func(t *testing.T) {
		m := openMachine(t)
		effects := m.Transition(Event{Type: EventCloseRequested})
		require.Equal(t, []EffectType{EffectCancelRetry, EffectCloseSocket}, effectTypes(effects))
		require.Equal(t, StateClosing, m.State())

		// The socket reports an abnormal code after a local close; still no retry.
		effects = m.Transition(Event{Type: EventClosed, Code: closeAbnormal})
		require.Equal(t, []EffectType{EffectNotifyClosed}, effectTypes(effects))
		require.Equal(t, StateClosed, m.State())
	})

	t.Run("while dialing", func(t *testing.T) {
		m := NewMachine(DefaultPolicy())
		m.Transition(Event{Type: EventConnect})
		m.Transition(Event{Type: EventCloseRequested})

		effects := m.Transition(Event{Type: EventOpened})
		require.Equal(t, []EffectType{EffectCloseSocket}, effectTypes(effects))
		require.Equal(t, StateClosing, m.State())
	})

	t.Run("reconnecting", func(t *testing.T) {
		m := openMachine(t)
		m.Transition(Event{Type: EventClosed, Code: closeAbnormal})

		effects := m.Transition(Event{Type: EventCloseRequested})
		require.Equal(t, []EffectType{EffectCancelRetry}, effectTypes(effects))
		require.Equal(t, StateClosed, m.State())
		require.Nil(t, m.Transition(Event{Type: EventRetryDue}))
	})

	t.Run("connect after close keeps attempt count", func(t *testing.T) {
		m := openMachine(t)
		m.Transition(Event{Type: EventClosed, Code: closeAbnormal})
		m.Transition(Event{Type: EventCloseRequested})
		require.Equal(t, 1, m.Attempts())

		m.Transition(Event{Type: EventConnect})
		require.Equal(t, StateConnecting, m.State())
		require.Equal(t, 1, m.Attempts())
	})
}

func TestStateString(t *testing.T) {
	require.Equal(t, "reconnecting", StateReconnecting.String())
	require.Equal(t, "state(42)", State(42).String())
}

func contains(types []EffectType, want EffectType) bool {
	for _, tp := range types {
		if tp == want {
			return true
		}
	}
	return false
}
