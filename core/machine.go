package core

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	coreerrors "reflexstake/core/errors"
	"reflexstake/core/events"
	"reflexstake/core/genesis"
	"reflexstake/core/state"
	"reflexstake/crypto"
	nativecommon "reflexstake/native/common"
	"reflexstake/native/reflection"
	"reflexstake/native/staking"
	"reflexstake/observability"
	telemetry "reflexstake/observability/otel"
)

// DefaultAdapterTimeout bounds every call into the oracle or yield strategy.
const DefaultAdapterTimeout = 10 * time.Second

// Config carries the collaborators a Machine is wired with.
type Config struct {
	Authority      crypto.Address
	AdapterTimeout time.Duration
	Logger         *slog.Logger
	Clock          clockwork.Clock
	// Emitter receives every event after the metrics counter records it.
	Emitter   events.Emitter
	Store     *state.Store
	Converter FeeConverter
}

// Machine owns the reflective ledger and the staking engine and serialises
// every operation on them. Mutations take the write lock for their full
// duration, adapter round-trips included, so no caller ever observes a
// partially applied operation.
type Machine struct {
	mu sync.RWMutex

	ledger    *reflection.Ledger
	engine    *staking.Engine
	prices    staking.PriceSource
	pauses    *nativecommon.PauseSet
	authority crypto.Address
	store     *state.Store
	converter FeeConverter
	emitter   events.Emitter
	logger    *slog.Logger
	clock     clockwork.Clock
	timeout   time.Duration
	tracer    trace.Tracer
	sequence  uint64
}

type meteredEmitter struct {
	next events.Emitter
}

func (e meteredEmitter) Emit(ev events.Event) {
	if ev == nil {
		return
	}
	observability.Events().RecordEvent(ev.EventType())
	if e.next != nil {
		e.next.Emit(ev)
	}
}

// NewMachine wires an existing ledger and engine together under one lock.
func NewMachine(ledger *reflection.Ledger, engine *staking.Engine, prices staking.PriceSource, cfg Config) (*Machine, error) {
	if ledger == nil || engine == nil {
		return nil, fmt.Errorf("machine: ledger and engine required")
	}
	if prices == nil {
		return nil, fmt.Errorf("machine: price source required")
	}
	if cfg.Authority.IsZero() {
		return nil, fmt.Errorf("machine: authority required")
	}
	m := &Machine{
		ledger:    ledger,
		engine:    engine,
		prices:    prices,
		pauses:    nativecommon.NewPauseSet(),
		authority: cfg.Authority,
		store:     cfg.Store,
		converter: cfg.Converter,
		emitter:   meteredEmitter{next: cfg.Emitter},
		logger:    cfg.Logger,
		clock:     cfg.Clock,
		timeout:   cfg.AdapterTimeout,
		tracer:    telemetry.Tracer("machine"),
	}
	if m.logger == nil {
		m.logger = slog.Default()
	}
	if m.clock == nil {
		m.clock = clockwork.NewRealClock()
	}
	if m.timeout <= 0 {
		m.timeout = DefaultAdapterTimeout
	}
	ledger.SetEmitter(m.emitter)
	ledger.SetPauses(m.pauses)
	engine.SetEmitter(m.emitter)
	engine.SetPauses(m.pauses)
	engine.SetClock(m.clock)
	engine.SetLogger(m.logger.With(slog.String("module", nativecommon.ModuleStaking)))
	return m, nil
}

// FromGenesis builds a fresh machine from a validated genesis spec.
func FromGenesis(spec *genesis.GenesisSpec, prices staking.PriceSource, cfg Config) (*Machine, error) {
	if spec == nil {
		return nil, fmt.Errorf("machine: genesis spec required")
	}
	ledger, engine, err := genesis.BuildGenesisFromSpec(spec, prices)
	if err != nil {
		return nil, err
	}
	if cfg.Authority.IsZero() {
		cfg.Authority = spec.Authority()
	}
	return NewMachine(ledger, engine, prices, cfg)
}

// RestoreMachine rebuilds a machine from the last checkpoint in cfg.Store.
// The yield strategy is not part of a checkpoint and must be reattached.
func RestoreMachine(prices staking.PriceSource, cfg Config) (*Machine, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("machine: store required to restore")
	}
	cp, err := cfg.Store.Load()
	if err != nil {
		return nil, err
	}
	ledger, err := reflection.Restore(cp.Ledger)
	if err != nil {
		return nil, fmt.Errorf("machine: restore ledger: %w", err)
	}
	engine, err := staking.RestoreEngine(cp.Staking, ledger, prices)
	if err != nil {
		return nil, fmt.Errorf("machine: restore staking: %w", err)
	}
	m, err := NewMachine(ledger, engine, prices, cfg)
	if err != nil {
		return nil, err
	}
	for _, module := range cp.Paused {
		m.pauses.Set(module, true)
	}
	m.sequence = cp.Sequence
	return m, nil
}

// Authority returns the administrative address.
func (m *Machine) Authority() crypto.Address { return m.authority }

func (m *Machine) authorize(caller crypto.Address) error {
	if caller.IsZero() || caller != m.authority {
		return fmt.Errorf("%w: %s", coreerrors.ErrUnauthorized, caller)
	}
	return nil
}

// begin opens a span for op and returns a finisher that records its outcome on
// the span and in the module's metrics.
func (m *Machine) begin(ctx context.Context, module, op string, attrs ...attribute.KeyValue) (context.Context, func(*error)) {
	start := time.Now()
	attrs = append(attrs, attribute.String("module", module))
	ctx, span := m.tracer.Start(ctx, module+"."+op, trace.WithAttributes(attrs...))
	return ctx, func(errp *error) {
		var err error
		if errp != nil {
			err = *errp
		}
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		span.End()
		switch module {
		case nativecommon.ModuleLedger:
			observability.Ledger().Observe(op, time.Since(start), err)
		case nativecommon.ModuleStaking:
			observability.Staking().Observe(op, err)
		}
	}
}

// adapterContext bounds a context for calls that reach the oracle or strategy.
func (m *Machine) adapterContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, m.timeout)
}

// SetPaused pauses or resumes a module. Paused modules reject mutations; reads
// keep working.
func (m *Machine) SetPaused(ctx context.Context, caller crypto.Address, module string, paused bool) (err error) {
	_, done := m.begin(ctx, "admin", "set_paused", attribute.String("target", module), attribute.Bool("paused", paused))
	defer done(&err)
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.authorize(caller); err != nil {
		return err
	}
	switch module {
	case nativecommon.ModuleLedger, nativecommon.ModuleStaking:
	default:
		return fmt.Errorf("machine: unknown module %q", module)
	}
	m.pauses.Set(module, paused)
	m.logger.Warn("module pause changed", slog.String("module", module), slog.Bool("paused", paused))
	m.emitter.Emit(events.ModulePause{Module: module, Paused: paused})
	return nil
}

// Paused lists the currently paused modules.
func (m *Machine) Paused() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pauses.Paused()
}

// Checkpoint writes a consistent snapshot of the ledger and engine to the
// store in one batch and returns its sequence number.
func (m *Machine) Checkpoint(ctx context.Context) (seq uint64, err error) {
	_, done := m.begin(ctx, "admin", "checkpoint")
	defer done(&err)
	if m.store == nil {
		return 0, errors.New("machine: no store configured")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := state.Checkpoint{
		Sequence: m.sequence + 1,
		TakenAt:  m.clock.Now(),
		Ledger:   m.ledger.Export(),
		Staking:  m.engine.Export(),
		Paused:   m.pauses.Paused(),
	}
	if err := m.store.Save(cp); err != nil {
		return 0, fmt.Errorf("machine: checkpoint: %w", err)
	}
	m.sequence = cp.Sequence
	m.emitter.Emit(events.Checkpoint{Sequence: cp.Sequence})
	return cp.Sequence, nil
}
