package relay

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"github.com/roach88/vrelay/internal/abi"
	"github.com/roach88/vrelay/internal/ir"
	"github.com/roach88/vrelay/internal/platform"
)

// DefaultVersion labels the initial backend when the administrator gives none.
const DefaultVersion int64 = 1

// Journal receives administrative changes before they are applied.
// Implemented by *store.Store.
type Journal interface {
	RecordVersionChange(ctx context.Context, change ir.VersionChange) error
	RecordSizeRegistration(ctx context.Context, reg ir.SizeRegistration) error
}

// State is a snapshot of a relay's pointer and label.
type State struct {
	Relay   ir.Handle `json:"relay"`
	Backend ir.Handle `json:"backend"`
	Version int64     `json:"version"`
}

// Relay forwards every payload to its current backend.
//
// Thread-safety: all methods are safe for concurrent use. See package
// documentation for the ordering guarantees.
type Relay struct {
	mu      sync.RWMutex
	backend ir.Handle
	version int64
	sizes   map[ir.Selector]ir.SizeEntry

	self     ir.Handle
	resolver platform.Resolver
	journal  Journal
	clock    Clock
	metrics  *Metrics
	logger   *slog.Logger
}

// Option configures a Relay.
type Option func(*Relay)

// WithHandle sets the relay's own address. Required for self-reference
// checks and journal records; Deploy sets it automatically.
func WithHandle(h ir.Handle) Option {
	return func(r *Relay) {
		r.self = h
	}
}

// WithJournal records every administrative change in j before applying it.
func WithJournal(j Journal) Option {
	return func(r *Relay) {
		r.journal = j
	}
}

// WithClock sets the clock used to stamp journal records.
//
// Default: NewClock() starting at 0.
// Use NewClockAt(store.MaxSeq()) when restoring a persisted relay.
func WithClock(c Clock) Option {
	return func(r *Relay) {
		r.clock = c
	}
}

// WithMetrics reports forwards and swaps to m.
func WithMetrics(m *Metrics) Option {
	return func(r *Relay) {
		r.metrics = m
	}
}

// WithLogger sets the structured logger. Default: slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Relay) {
		r.logger = l
	}
}

// WithSizes preloads the size registry without journaling.
// Used when restoring a relay from the store.
func WithSizes(entries []ir.SizeEntry) Option {
	return func(r *Relay) {
		for _, e := range entries {
			r.sizes[e.Selector] = e
		}
	}
}

func newRelay(resolver platform.Resolver, opts []Option) *Relay {
	r := &Relay{
		resolver: resolver,
		sizes:    make(map[ir.Selector]ir.SizeEntry),
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.clock == nil {
		r.clock = NewClock()
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	return r
}

// New creates a relay pointing at backend with the given version label and
// journals the initial assignment as a ChangeInit record.
//
// Fails with INVALID_TARGET if backend cannot be resolved.
func New(ctx context.Context, resolver platform.Resolver, backend ir.Handle, version int64, opts ...Option) (*Relay, error) {
	r := newRelay(resolver, opts)
	if err := r.swap(ctx, ir.ChangeInit, version, backend); err != nil {
		return nil, err
	}
	return r, nil
}

// Restore recreates a relay from persisted state without journaling.
// The backend must still resolve.
func Restore(resolver platform.Resolver, state State, opts ...Option) (*Relay, error) {
	r := newRelay(resolver, append([]Option{WithHandle(state.Relay)}, opts...))
	if err := r.checkTarget(state.Backend); err != nil {
		return nil, fmt.Errorf("restore relay %s: %w", state.Relay, err)
	}
	r.backend = state.Backend
	r.version = state.Version
	r.observeVersion()
	return r, nil
}

// Deploy creates a relay and places it in reg, so it can be targeted by
// static callers and by other relays.
func Deploy(ctx context.Context, reg *platform.Registry, backend ir.Handle, version int64, opts ...Option) (*Relay, ir.Handle, error) {
	h := reg.NewHandle()
	r, err := New(ctx, reg, backend, version, append(opts, WithHandle(h))...)
	if err != nil {
		return nil, "", err
	}
	if _, err := reg.DeployAt(h, r); err != nil {
		return nil, "", fmt.Errorf("deploy relay: %w", err)
	}
	return r, h, nil
}

// Reserver is a journal that tracks relays by name and must reserve one
// before its initial assignment is recorded. Implemented by *store.Store.
type Reserver interface {
	CreateRelay(ctx context.Context, name string, h ir.Handle) error
	DeleteRelay(ctx context.Context, name string) error
}

// DeployNamed is Deploy for a named relay: the name is reserved in res
// before the initial assignment is journaled, and released again if the
// relay is rejected. Pass res as the journal with WithJournal.
func DeployNamed(ctx context.Context, reg *platform.Registry, res Reserver, name string, backend ir.Handle, version int64, opts ...Option) (*Relay, ir.Handle, error) {
	h := reg.NewHandle()
	if err := res.CreateRelay(ctx, name, h); err != nil {
		return nil, "", err
	}

	r, err := New(ctx, reg, backend, version, append(opts, WithHandle(h))...)
	if err != nil {
		if derr := res.DeleteRelay(ctx, name); derr != nil {
			return nil, "", errors.Join(err, derr)
		}
		return nil, "", err
	}
	if _, err := reg.DeployAt(h, r); err != nil {
		err = fmt.Errorf("deploy relay: %w", err)
		if derr := res.DeleteRelay(ctx, name); derr != nil {
			return nil, "", errors.Join(err, derr)
		}
		return nil, "", err
	}
	return r, h, nil
}

// Handle returns the relay's own address.
func (r *Relay) Handle() ir.Handle {
	return r.self
}

// State returns the current backend and version.
func (r *Relay) State() State {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return State{Relay: r.self, Backend: r.backend, Version: r.version}
}

// Forward sends payload verbatim to the current backend and returns its raw
// result. Backend errors are returned unchanged; there is no retry or fallback.
func (r *Relay) Forward(ctx context.Context, payload []byte) ([]byte, error) {
	ctx, err := platform.EnterCall(ctx)
	if err != nil {
		r.observeForward("error")
		return nil, err
	}

	r.mu.RLock()
	current := r.backend
	r.mu.RUnlock()

	target, err := r.resolver.Resolve(current)
	if err != nil {
		r.observeForward("error")
		return nil, err
	}

	out, err := target.Invoke(ctx, payload)
	if err != nil {
		r.observeForward("error")
		r.logger.Debug("forward failed", "relay", r.self, "backend", current, "error", err)
		return nil, err
	}
	r.observeForward("ok")
	return out, nil
}

// Invoke implements platform.Callable by forwarding.
func (r *Relay) Invoke(ctx context.Context, payload []byte) ([]byte, error) {
	return r.Forward(ctx, payload)
}

// Upgrade points the relay at backend and labels it version.
func (r *Relay) Upgrade(ctx context.Context, version int64, backend ir.Handle) error {
	return r.swap(ctx, ir.ChangeUpgrade, version, backend)
}

// Rollback points the relay at backend and labels it version.
// It is the same operation as Upgrade; version may be lower than the
// current one, and nothing checks that backend was active before.
func (r *Relay) Rollback(ctx context.Context, version int64, backend ir.Handle) error {
	return r.swap(ctx, ir.ChangeRollback, version, backend)
}

// swap validates, journals, then applies a backend change.
func (r *Relay) swap(ctx context.Context, kind ir.ChangeKind, version int64, backend ir.Handle) error {
	if err := r.checkTarget(backend); err != nil {
		return fmt.Errorf("%s: %w", kind, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	change := ir.VersionChange{
		Relay:           r.self,
		Kind:            kind,
		Version:         version,
		Backend:         backend,
		PreviousVersion: r.version,
		PreviousBackend: r.backend,
		Seq:             r.clock.Next(),
	}
	id, err := ir.VersionChangeID(change)
	if err != nil {
		return fmt.Errorf("%s: %w", kind, err)
	}
	change.ID = id

	if r.journal != nil {
		if err := r.journal.RecordVersionChange(ctx, change); err != nil {
			return fmt.Errorf("%s: journal: %w", kind, err)
		}
	}

	r.backend = backend
	r.version = version

	if r.metrics != nil {
		r.metrics.VersionChangesTotal.WithLabelValues(string(r.self), string(kind)).Inc()
	}
	r.observeVersion()

	r.logger.Info("relay backend changed",
		"relay", r.self,
		"kind", kind,
		"version", version,
		"backend", backend,
		"previous_version", change.PreviousVersion,
		"previous_backend", change.PreviousBackend,
		"seq", change.Seq,
	)
	return nil
}

// checkTarget rejects handles a swap must never store: empty, unresolvable,
// or leading back to this relay through a chain of relays.
func (r *Relay) checkTarget(backend ir.Handle) error {
	if backend.IsZero() {
		return ir.NewInvalidTargetError(backend, "empty handle")
	}
	if !r.self.IsZero() && backend == r.self {
		return ir.NewInvalidTargetError(backend, "relay cannot delegate to itself")
	}
	target, err := r.resolver.Resolve(backend)
	if err != nil {
		return err
	}
	if r.self.IsZero() {
		return nil
	}

	// Only other relays are locked here; r.mu is not held yet.
	seen := map[ir.Handle]bool{backend: true}
	for {
		next, ok := target.(*Relay)
		if !ok {
			return nil
		}
		hop := next.State().Backend
		if hop == r.self {
			return ir.NewInvalidTargetError(backend, "relay chain leads back to this relay")
		}
		if seen[hop] {
			return nil
		}
		seen[hop] = true
		if target, err = r.resolver.Resolve(hop); err != nil {
			return nil
		}
	}
}

// RegisterExpectedSize records how many result bytes a static caller should
// expect for signature. Re-registering a signature overwrites it.
func (r *Relay) RegisterExpectedSize(ctx context.Context, signature string, size int) error {
	parsed, err := abi.ParseSignature(signature)
	if err != nil {
		return err
	}
	if size <= 0 {
		return ir.NewInvalidSizeError(signature, size)
	}

	entry := ir.SizeEntry{
		Signature: parsed.Canonical(),
		Selector:  abi.SelectorOf(parsed),
		Size:      size,
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	reg := ir.SizeRegistration{Relay: r.self, Entry: entry, Seq: r.clock.Next()}
	id, err := ir.SizeRegistrationID(reg)
	if err != nil {
		return fmt.Errorf("register size: %w", err)
	}
	reg.ID = id

	if r.journal != nil {
		if err := r.journal.RecordSizeRegistration(ctx, reg); err != nil {
			return fmt.Errorf("register size: journal: %w", err)
		}
	}

	r.sizes[entry.Selector] = entry

	if r.metrics != nil {
		r.metrics.SizeRegistrationsTotal.WithLabelValues(string(r.self)).Inc()
	}
	r.logger.Info("expected size registered",
		"relay", r.self,
		"signature", entry.Signature,
		"selector", entry.Selector.String(),
		"size", size,
		"seq", reg.Seq,
	)
	return nil
}

// ExpectedSize looks up the registered result width for a selector.
func (r *Relay) ExpectedSize(sel ir.Selector) (ir.SizeEntry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.sizes[sel]
	return e, ok
}

// Sizes returns every registered entry ordered by signature.
func (r *Relay) Sizes() []ir.SizeEntry {
	r.mu.RLock()
	entries := make([]ir.SizeEntry, 0, len(r.sizes))
	for _, e := range r.sizes {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	slices.SortFunc(entries, func(a, b ir.SizeEntry) int {
		return strings.Compare(a.Signature, b.Signature)
	})
	return entries
}

func (r *Relay) observeForward(outcome string) {
	if r.metrics != nil {
		r.metrics.ForwardsTotal.WithLabelValues(string(r.self), outcome).Inc()
	}
}

func (r *Relay) observeVersion() {
	if r.metrics != nil {
		r.metrics.CurrentVersion.WithLabelValues(string(r.self)).Set(float64(r.version))
	}
}
