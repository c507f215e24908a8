package harness

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/big"

	"github.com/roach88/vrelay/internal/backend"
	"github.com/roach88/vrelay/internal/caller"
	"github.com/roach88/vrelay/internal/ir"
	"github.com/roach88/vrelay/internal/manifest"
	"github.com/roach88/vrelay/internal/platform"
	"github.com/roach88/vrelay/internal/relay"
	"github.com/roach88/vrelay/internal/store"
	"github.com/roach88/vrelay/internal/testutil"
)

// Harness is the scenario execution engine.
// It runs scenarios against real backends, relays and static callers with
// deterministic handles and clock, journaling into an in-memory store.
type Harness struct {
	store     *store.Store
	registry  *platform.Registry
	manifests *manifest.LoadResult
	clock     *testutil.DeterministicClock
	trace     *testutil.DeterministicClock
	logger    *slog.Logger

	handles map[string]ir.Handle
	relays  map[string]*relay.Relay
	callers map[string]*caller.StaticCaller
}

// Option configures a Harness.
type Option func(*Harness)

// WithLogger sets the logger. Default discards all output.
func WithLogger(l *slog.Logger) Option {
	return func(h *Harness) {
		h.logger = l
	}
}

// Run executes a test scenario and returns the result.
//
// Each scenario runs in a fresh registry and in-memory database for isolation.
//
// Execution flow:
// 1. Create fresh in-memory database and registry
// 2. Load and compile backend manifests from scenario.Specs
// 3. Execute setup steps (any failure aborts the run)
// 4. Execute flow steps with expect validation
// 5. Evaluate assertions and return the result
func Run(scenario *Scenario, opts ...Option) (*Result, error) {
	st, err := store.Open(":memory:")
	if err != nil {
		return nil, fmt.Errorf("failed to create in-memory store: %w", err)
	}
	defer st.Close()

	loaded, errs := manifest.LoadDir(scenario.Specs, manifest.LoadModeFailFast)
	if len(errs) > 0 {
		return nil, fmt.Errorf("failed to load specs: %w", errs[0])
	}

	h := &Harness{
		store:     st,
		registry:  platform.NewRegistry(testutil.NewSequentialHandleGenerator()),
		manifests: loaded,
		clock:     testutil.NewDeterministicClock(),
		trace:     testutil.NewDeterministicClock(),
		logger:    slog.New(slog.NewTextHandler(io.Discard, nil)),
		handles:   make(map[string]ir.Handle),
		relays:    make(map[string]*relay.Relay),
		callers:   make(map[string]*caller.StaticCaller),
	}
	for _, opt := range opts {
		opt(h)
	}

	ctx := context.Background()
	result := NewResult()

	for i, step := range scenario.Setup {
		event, err := h.execute(ctx, step)
		result.AddTrace(event)
		if err != nil {
			return nil, fmt.Errorf("setup step %d (%s): %w", i, step.Op, err)
		}
		if msg := checkExpect(step, event); msg != "" {
			return nil, fmt.Errorf("setup step %d (%s): %s", i, step.Op, msg)
		}
	}

	for i, step := range scenario.Flow {
		event, err := h.execute(ctx, step)
		result.AddTrace(event)

		if step.Expect == nil && err != nil {
			result.AddErrorf("flow[%d] %s: unexpected error: %v", i, step.Op, err)
			continue
		}
		if msg := checkExpect(step, event); msg != "" {
			result.AddErrorf("flow[%d] %s: %s", i, step.Op, msg)
		}

		h.logger.Info("flow step completed",
			"step", i,
			"op", step.Op,
			"outcome", event.Outcome,
			"seq", event.Seq,
		)
	}

	actx := &AssertionContext{
		Ctx:     ctx,
		Store:   st,
		Relays:  h.relays,
		Handles: h.handles,
	}
	for _, msg := range EvaluateAssertions(result, scenario.Assertions, actx) {
		result.AddError(msg)
	}

	return result, nil
}

// execute runs one step and returns its trace event.
// The returned error is the step's own failure; the event records it too.
func (h *Harness) execute(ctx context.Context, step Step) (TraceEvent, error) {
	event := TraceEvent{
		Op:   step.Op,
		Args: stepArgs(step),
		Seq:  h.trace.Next(),
	}

	value, err := h.dispatch(ctx, step)
	switch {
	case err != nil:
		event.Outcome = outcomeOf(err)
		h.logger.Debug("step failed", "op", step.Op, "error", err)
	default:
		event.Outcome = OutcomeOK
		if value != nil {
			event.Value = value.String()
		}
	}
	return event, err
}

func (h *Harness) dispatch(ctx context.Context, step Step) (*big.Int, error) {
	switch step.Op {
	case OpDeployBackend:
		spec, ok := h.manifests.Backend(step.Backend)
		if !ok {
			return nil, fmt.Errorf("no backend manifest named %q", step.Backend)
		}
		handle, _, err := backend.Deploy(h.registry, spec)
		if err != nil {
			return nil, err
		}
		h.bind(step.As, handle)
		return nil, nil

	case OpDeployRelay:
		version := relay.DefaultVersion
		if step.Version != nil {
			version = *step.Version
		}
		name := step.As
		if name == "" {
			name = fmt.Sprintf("relay-%d", len(h.relays)+1)
		}
		r, handle, err := relay.DeployNamed(ctx, h.registry, h.store, name, h.resolve(step.Backend), version,
			relay.WithJournal(h.store),
			relay.WithClock(h.clock),
			relay.WithLogger(h.logger),
		)
		if err != nil {
			return nil, err
		}
		h.relays[name] = r
		h.bind(name, handle)
		return nil, nil

	case OpStaticCaller:
		c, err := caller.New(h.registry, h.resolve(step.Target), caller.WithLogger(h.logger))
		if err != nil {
			return nil, err
		}
		if step.As != "" {
			h.callers[step.As] = c
		}
		return nil, nil

	case OpRegisterSize:
		r, err := h.relay(step.Relay)
		if err != nil {
			return nil, err
		}
		return nil, r.RegisterExpectedSize(ctx, step.Signature, step.Size)

	case OpUpgrade:
		r, err := h.relay(step.Relay)
		if err != nil {
			return nil, err
		}
		return nil, r.Upgrade(ctx, *step.Version, h.resolve(step.Backend))

	case OpRollback:
		r, err := h.relay(step.Relay)
		if err != nil {
			return nil, err
		}
		return nil, r.Rollback(ctx, *step.Version, h.resolve(step.Backend))

	case OpCall:
		c, ok := h.callers[step.Caller]
		if !ok {
			return nil, fmt.Errorf("unknown caller %q", step.Caller)
		}
		return c.Call(ctx, step.Signature)

	default:
		return nil, fmt.Errorf("unknown op %q", step.Op)
	}
}

// bind records an alias. Empty aliases are ignored.
func (h *Harness) bind(alias string, handle ir.Handle) {
	if alias != "" {
		h.handles[alias] = handle
	}
}

// resolve maps an alias to its handle; anything else is a raw handle.
func (h *Harness) resolve(ref string) ir.Handle {
	return resolveRef(h.handles, ref)
}

func (h *Harness) relay(alias string) (*relay.Relay, error) {
	r, ok := h.relays[alias]
	if !ok {
		return nil, fmt.Errorf("unknown relay %q", alias)
	}
	return r, nil
}

func resolveRef(handles map[string]ir.Handle, ref string) ir.Handle {
	if handle, ok := handles[ref]; ok {
		return handle
	}
	return ir.Handle(ref)
}

// outcomeOf maps an error to its trace outcome.
func outcomeOf(err error) string {
	if code := ir.CodeOf(err); code != "" {
		return string(code)
	}
	return OutcomeError
}

// checkExpect compares a step's trace event with its expect clause.
// Returns "" when the expectation holds.
func checkExpect(step Step, event TraceEvent) string {
	if step.Expect == nil {
		return ""
	}

	if want := step.Expect.Error; want != "" {
		if event.Outcome != want {
			return fmt.Sprintf("expected error %s, got outcome %s", want, event.Outcome)
		}
		return ""
	}

	if event.Outcome != OutcomeOK {
		return fmt.Sprintf("expected value %d, got outcome %s", *step.Expect.Value, event.Outcome)
	}
	want := big.NewInt(*step.Expect.Value).String()
	if event.Value != want {
		return fmt.Sprintf("expected value %s, got %s", want, event.Value)
	}
	return ""
}

// stepArgs returns the step's inputs as written in the scenario.
// Aliases are kept unresolved so traces read like the scenario.
func stepArgs(step Step) map[string]any {
	args := map[string]any{}
	set := func(key, value string) {
		if value != "" {
			args[key] = value
		}
	}
	set("as", step.As)
	set("backend", step.Backend)
	set("relay", step.Relay)
	set("target", step.Target)
	set("caller", step.Caller)
	set("signature", step.Signature)
	if step.Version != nil {
		args["version"] = *step.Version
	}
	if step.Op == OpRegisterSize {
		args["size"] = int64(step.Size)
	}
	return args
}
