package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/roach88/vrelay/internal/backend"
	"github.com/roach88/vrelay/internal/config"
	"github.com/roach88/vrelay/internal/ir"
	"github.com/roach88/vrelay/internal/manifest"
	"github.com/roach88/vrelay/internal/platform"
	"github.com/roach88/vrelay/internal/relay"
	"github.com/roach88/vrelay/internal/store"
)

// Workspace is the process-local view of the persisted relays.
//
// Backends are stateless, so every process redeploys the manifests at
// their content-addressed handles. Relays are then restored from the
// store and resume journaling where the last process stopped.
type Workspace struct {
	Store    *store.Store
	Registry *platform.Registry
	Metrics  *relay.Metrics

	backends map[string]ir.Handle
	relays   map[string]*relay.Relay
	gatherer prometheus.Gatherer
	clock    *relay.LogicalClock
	logger   *slog.Logger
}

// OpenWorkspace opens the database, deploys every manifest in cfg.Specs
// and restores every relay whose backend is reachable.
func OpenWorkspace(ctx context.Context, cfg config.Config, logger *slog.Logger) (*Workspace, error) {
	loaded, errs := manifest.LoadDir(cfg.Specs, manifest.LoadModeFailFast)
	if len(errs) > 0 {
		return nil, fmt.Errorf("load manifests from %s: %w", cfg.Specs, errs[0])
	}

	st, err := store.Open(cfg.Database)
	if err != nil {
		return nil, err
	}

	seq, err := st.MaxSeq(ctx)
	if err != nil {
		st.Close()
		return nil, err
	}

	promReg := prometheus.NewRegistry()
	w := &Workspace{
		Store:    st,
		Registry: platform.NewRegistry(platform.UUIDv7Generator{}),
		Metrics:  relay.NewMetrics(promReg),
		backends: make(map[string]ir.Handle),
		relays:   make(map[string]*relay.Relay),
		gatherer: promReg,
		clock:    relay.NewClockAt(seq),
		logger:   logger,
	}

	for _, spec := range loaded.Backends {
		h, _, err := backend.Deploy(w.Registry, spec)
		if err != nil {
			st.Close()
			return nil, err
		}
		w.backends[spec.Name] = h
		logger.Debug("backend deployed", "name", spec.Name, "version", spec.Version, "handle", h)
	}

	if err := w.restore(ctx); err != nil {
		st.Close()
		return nil, err
	}
	return w, nil
}

// restore brings back persisted relays. A relay may point at another
// relay, so restoring repeats until no further relay becomes reachable.
func (w *Workspace) restore(ctx context.Context) error {
	pending, err := w.Store.ListRelays(ctx)
	if err != nil {
		return err
	}

	for len(pending) > 0 {
		var blocked []store.RelayRecord
		for _, rec := range pending {
			if _, err := w.Registry.Resolve(rec.Backend); err != nil {
				blocked = append(blocked, rec)
				continue
			}
			r, err := relay.Restore(w.Registry, relay.State{
				Relay:   rec.Handle,
				Backend: rec.Backend,
				Version: rec.Version,
			}, w.relayOptions(relay.WithSizes(rec.Sizes))...)
			if err != nil {
				return err
			}
			if _, err := w.Registry.DeployAt(rec.Handle, r); err != nil {
				return fmt.Errorf("restore relay %q: %w", rec.Name, err)
			}
			w.relays[rec.Name] = r
		}
		if len(blocked) == len(pending) {
			for _, rec := range blocked {
				w.logger.Warn("relay backend unavailable", "relay", rec.Name, "backend", rec.Backend)
			}
			break
		}
		pending = blocked
	}
	return nil
}

func (w *Workspace) relayOptions(extra ...relay.Option) []relay.Option {
	return append([]relay.Option{
		relay.WithJournal(w.Store),
		relay.WithClock(w.clock),
		relay.WithMetrics(w.Metrics),
		relay.WithLogger(w.logger),
	}, extra...)
}

// Close releases the database.
func (w *Workspace) Close() error {
	w.logMetrics()
	return w.Store.Close()
}

// Relay returns the named relay.
func (w *Workspace) Relay(ctx context.Context, name string) (*relay.Relay, error) {
	if r, ok := w.relays[name]; ok {
		return r, nil
	}
	rec, err := w.Store.LoadRelay(ctx, name)
	if err != nil {
		return nil, err
	}
	return nil, ir.NewInvalidTargetError(rec.Backend, fmt.Sprintf("backend of relay %q is not deployed", name))
}

// InitRelay creates, journals and deploys a named relay.
func (w *Workspace) InitRelay(ctx context.Context, name, backendRef string, version int64) (*relay.Relay, error) {
	r, _, err := relay.DeployNamed(ctx, w.Registry, w.Store, name, w.Resolve(backendRef), version, w.relayOptions()...)
	if err != nil {
		return nil, err
	}
	w.relays[name] = r
	return r, nil
}

// Resolve maps a reference to a handle. Manifest names are tried first,
// then relay names; anything else is taken as a raw handle.
func (w *Workspace) Resolve(ref string) ir.Handle {
	if h, ok := w.backends[ref]; ok {
		return h
	}
	if r, ok := w.relays[ref]; ok {
		return r.Handle()
	}
	return ir.Handle(ref)
}

// Name maps a handle back to the manifest or relay name it belongs to.
func (w *Workspace) Name(h ir.Handle) string {
	for name, bh := range w.backends {
		if bh == h {
			return name
		}
	}
	for name, r := range w.relays {
		if r.Handle() == h {
			return name
		}
	}
	return ""
}

// logMetrics reports the relay collectors at debug level.
func (w *Workspace) logMetrics() {
	families, err := w.gatherer.Gather()
	if err != nil {
		w.logger.Debug("gather metrics", "error", err)
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			attrs := []any{"metric", mf.GetName()}
			for _, lp := range m.GetLabel() {
				attrs = append(attrs, lp.GetName(), lp.GetValue())
			}
			switch {
			case m.GetCounter() != nil:
				attrs = append(attrs, "value", m.GetCounter().GetValue())
			case m.GetGauge() != nil:
				attrs = append(attrs, "value", m.GetGauge().GetValue())
			}
			w.logger.Debug("relay metric", attrs...)
		}
	}
}

// openWorkspace is the common prologue of the stateful commands.
func openWorkspace(ctx context.Context, opts *RootOptions, formatter *OutputFormatter) (*Workspace, error) {
	cfg, err := opts.Settings()
	if err != nil {
		return nil, formatter.Fail("invalid configuration", err)
	}
	w, err := OpenWorkspace(ctx, cfg, newLogger(cfg, formatter.GetErrWriter()))
	if err != nil {
		var le *manifest.LoadError
		if errors.As(err, &le) {
			_ = formatter.Error(le.Code, le.Error(), nil)
			return nil, WrapExitError(ExitCommandError, "failed to open workspace", err)
		}
		return nil, formatter.Fail("failed to open workspace", err)
	}
	return w, nil
}
