package connectivity

import (
	"time"

	"github.com/cenkalti/backoff"
	"github.com/pkg/errors"

	"github.com/sweeney/sensor-node/internal/clock"
)

// ErrAttemptsExhausted is reported by Err once the machine gave up.
var ErrAttemptsExhausted = errors.New("connectivity: connect attempts exhausted")

// State is the link lifecycle state.
type State int

const (
	Idle State = iota
	Connecting
	Connected
	Disconnected
	Reconnecting
)

func (s State) String() string {
	switch s {
	case Idle:
		return "IDLE"
	case Connecting:
		return "CONNECTING"
	case Connected:
		return "CONNECTED"
	case Disconnected:
		return "DISCONNECTED"
	case Reconnecting:
		return "RECONNECTING"
	default:
		return "UNKNOWN"
	}
}

// LinkStatus is what the transport reports about the underlying link.
type LinkStatus int

const (
	// LinkDown means no link and no attempt in flight.
	LinkDown LinkStatus = iota
	// LinkPending means a connect request is in flight.
	LinkPending
	// LinkUp means the link is established.
	LinkUp
	// LinkFailed means the last connect request completed unsuccessfully.
	LinkFailed
)

// Transport is the network collaborator. None of its methods may block.
type Transport interface {
	Connect()
	Disconnect()
	Status() LinkStatus
}

// Config bounds the retry behaviour.
type Config struct {
	ConnectTimeout time.Duration
	// AttemptCeiling is the maximum number of connect attempts (initial plus
	// retries) in one Start cycle.
	AttemptCeiling int
	// Backoff yields the delay before each retry. Nil means a constant 1s.
	Backoff backoff.BackOff
}

// Transition describes one state change.
type Transition struct {
	From    State
	To      State
	At      clock.Instant
	Attempt int
}

// Machine is the single connectivity state for the process. It is owned by
// the control loop and not safe for concurrent use.
type Machine struct {
	cfg       Config
	transport Transport
	clock     clock.Source

	state     State
	enteredAt clock.Instant
	attempts  int
	delay     time.Duration
	err       error

	onTransition func(Transition)
}

// New creates a Machine in Idle.
func New(cfg Config, t Transport, src clock.Source) *Machine {
	if cfg.Backoff == nil {
		cfg.Backoff = backoff.NewConstantBackOff(time.Second)
	}
	if cfg.AttemptCeiling < 1 {
		cfg.AttemptCeiling = 1
	}
	return &Machine{
		cfg:       cfg,
		transport: t,
		clock:     src,
		state:     Idle,
		enteredAt: src.Now(),
	}
}

// OnTransition registers a listener called after every state change.
func (m *Machine) OnTransition(fn func(Transition)) {
	m.onTransition = fn
}

// Start begins a fresh connect cycle from any state other than Connecting or
// Connected. It resets the attempt counter and the backoff sequence.
func (m *Machine) Start() {
	if m.state == Connecting || m.state == Connected {
		return
	}
	m.attempts = 0
	m.err = nil
	m.cfg.Backoff.Reset()
	m.enter(Connecting)
	m.transport.Connect()
}

// Stop disconnects and returns to Idle.
func (m *Machine) Stop() {
	if m.state == Idle {
		return
	}
	m.transport.Disconnect()
	m.enter(Idle)
}

// Tick evaluates link status, timeouts and backoff. Call it from the scheduler.
func (m *Machine) Tick() {
	now := m.clock.Now()
	elapsed := clock.Since(now, m.enteredAt)

	switch m.state {
	case Connecting:
		switch m.transport.Status() {
		case LinkUp:
			m.attempts = 0
			m.cfg.Backoff.Reset()
			m.enter(Connected)
			return
		case LinkFailed:
		default:
			if elapsed < m.cfg.ConnectTimeout {
				return
			}
		}
		m.transport.Disconnect()
		if m.attempts+1 < m.cfg.AttemptCeiling {
			m.backoff()
			return
		}
		m.err = errors.Wrapf(ErrAttemptsExhausted, "%d attempts", m.attempts+1)
		m.enter(Disconnected)

	case Connected:
		if m.transport.Status() != LinkUp {
			m.backoff()
		}

	case Reconnecting:
		if elapsed >= m.delay {
			m.attempts++
			m.enter(Connecting)
			m.transport.Connect()
		}
	}
}

func (m *Machine) backoff() {
	m.delay = m.cfg.Backoff.NextBackOff()
	if m.delay == backoff.Stop {
		m.err = errors.Wrap(ErrAttemptsExhausted, "backoff stopped")
		m.enter(Disconnected)
		return
	}
	m.enter(Reconnecting)
}

func (m *Machine) enter(s State) {
	from := m.state
	m.state = s
	m.enteredAt = m.clock.Now()
	if m.onTransition != nil {
		m.onTransition(Transition{From: from, To: s, At: m.enteredAt, Attempt: m.attempts})
	}
}

// State returns the current state.
func (m *Machine) State() State { return m.state }

// IsConnected reports whether the link is up.
func (m *Machine) IsConnected() bool { return m.state == Connected }

// Attempts returns the retry counter for the current cycle.
func (m *Machine) Attempts() int { return m.attempts }

// BackoffDelay returns the delay chosen for the current or last Reconnecting.
func (m *Machine) BackoffDelay() time.Duration { return m.delay }

// EnteredAt returns when the current state was entered.
func (m *Machine) EnteredAt() clock.Instant { return m.enteredAt }

// Err returns ErrAttemptsExhausted (wrapped) while Disconnected after giving
// up, nil otherwise.
func (m *Machine) Err() error {
	if m.state != Disconnected {
		return nil
	}
	return m.err
}
