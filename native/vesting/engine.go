package vesting

import (
	"errors"
	"log/slog"
	"time"

	"tokenvesting/core/events"
	"tokenvesting/core/state"
	"tokenvesting/native/custody"
	"tokenvesting/observability/metrics"
)

var errNilState = errors.New("vesting engine: state not configured")

// Engine wires the schedule manager, grant manager and claim engine to the
// record store and asset custody. It keeps no state between invocations;
// each operation is one unit of work on the record store.
type Engine struct {
	state     *state.Manager
	ledger    *custody.Ledger
	namespace string
	emitter   events.Emitter
	logger    *slog.Logger
	telemetry *metrics.VestingMetrics
	nowFn     func() int64
}

// NewEngine creates a vesting engine deriving addresses under the ledger's
// namespace. Events go to a no-op emitter until SetEmitter is called.
func NewEngine(st *state.Manager, ledger *custody.Ledger) *Engine {
	return &Engine{
		state:     st,
		ledger:    ledger,
		namespace: ledger.Namespace(),
		emitter:   events.NoopEmitter{},
		logger:    slog.Default().With(slog.String("component", "vesting")),
		telemetry: metrics.Vesting(),
		nowFn:     func() int64 { return time.Now().Unix() },
	}
}

// SetEmitter configures the event emitter used by the engine. Passing nil resets
// the emitter to a no-op implementation.
func (e *Engine) SetEmitter(emitter events.Emitter) {
	if emitter == nil {
		e.emitter = events.NoopEmitter{}
		return
	}
	e.emitter = emitter
}

// SetLogger overrides the engine logger.
func (e *Engine) SetLogger(logger *slog.Logger) {
	if logger == nil {
		logger = slog.Default()
	}
	e.logger = logger.With(slog.String("component", "vesting"))
}

// SetNowFunc overrides the time source used by ClaimNow. Primarily intended
// for tests to provide deterministic timestamps.
func (e *Engine) SetNowFunc(now func() int64) {
	if now == nil {
		e.nowFn = func() int64 { return time.Now().Unix() }
		return
	}
	e.nowFn = now
}

// Now returns the engine's current time in unix seconds.
func (e *Engine) Now() int64 {
	if e == nil || e.nowFn == nil {
		return time.Now().Unix()
	}
	return e.nowFn()
}

// Namespace returns the derivation namespace.
func (e *Engine) Namespace() string { return e.namespace }

// atomic runs fn as one unit of work and releases its events only after the
// work commits.
func (e *Engine) atomic(fn func(tx *state.Txn, buf *events.Buffer) error) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	buf := new(events.Buffer)
	if err := e.state.Atomic(func(tx *state.Txn) error { return fn(tx, buf) }); err != nil {
		return err
	}
	buf.Flush(e.emitter)
	return nil
}

func (e *Engine) view(fn func(tx *state.Txn) error) error {
	if e == nil || e.state == nil {
		return errNilState
	}
	return e.state.View(fn)
}

func loadSchedule(st custody.Store, addr [20]byte) (*Schedule, error) {
	schedule := new(Schedule)
	if err := st.Read(kindSchedule, addr[:], schedule); err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return nil, ErrScheduleNotFound
		}
		return nil, err
	}
	return schedule, nil
}

func loadGrant(st custody.Store, addr [20]byte) (*Grant, error) {
	stored := new(storedGrant)
	if err := st.Read(kindGrant, addr[:], stored); err != nil {
		if errors.Is(err, state.ErrNotFound) {
			return nil, ErrGrantNotFound
		}
		return nil, err
	}
	return stored.toGrant(), nil
}

// Schedule loads the schedule at addr.
func (e *Engine) Schedule(addr [20]byte) (*Schedule, error) {
	var out *Schedule
	err := e.view(func(tx *state.Txn) error {
		var err error
		out, err = loadSchedule(tx, addr)
		return err
	})
	return out, err
}

// Grant loads the grant at addr.
func (e *Engine) Grant(addr [20]byte) (*Grant, error) {
	var out *Grant
	err := e.view(func(tx *state.Txn) error {
		var err error
		out, err = loadGrant(tx, addr)
		return err
	})
	return out, err
}

// Schedules lists every schedule in creation order.
func (e *Engine) Schedules() ([]*Schedule, error) {
	var out []*Schedule
	err := e.view(func(tx *state.Txn) error {
		addrs, err := tx.Index(kindSchedule, scheduleListOwner)
		if err != nil {
			return err
		}
		out = make([]*Schedule, 0, len(addrs))
		for _, addr := range addrs {
			schedule, err := loadSchedule(tx, addr)
			if err != nil {
				return err
			}
			out = append(out, schedule)
		}
		return nil
	})
	return out, err
}

// Grants lists the grants drawn from schedule in creation order.
func (e *Engine) Grants(schedule [20]byte) ([]*Grant, error) {
	var out []*Grant
	err := e.view(func(tx *state.Txn) error {
		if _, err := loadSchedule(tx, schedule); err != nil {
			return err
		}
		addrs, err := tx.Index(kindGrant, schedule[:])
		if err != nil {
			return err
		}
		out = make([]*Grant, 0, len(addrs))
		for _, addr := range addrs {
			grant, err := loadGrant(tx, addr)
			if err != nil {
				return err
			}
			out = append(out, grant)
		}
		return nil
	})
	return out, err
}
