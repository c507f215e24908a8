package relay

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/vrelay/internal/abi"
	"github.com/roach88/vrelay/internal/backend"
	"github.com/roach88/vrelay/internal/ir"
	"github.com/roach88/vrelay/internal/platform"
	"github.com/roach88/vrelay/internal/testutil"
)

// fixture is a registry with UpgradeableV1 (getUint()=1) and
// UpgradeableV2 (getUint()=2) deployed.
type fixture struct {
	reg *platform.Registry
	v1  ir.Handle
	v2  ir.Handle
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	reg := platform.NewRegistry(testutil.NewSequentialHandleGenerator())
	return &fixture{
		reg: reg,
		v1:  deployBackend(t, reg, "UpgradeableV1", 1, 1),
		v2:  deployBackend(t, reg, "UpgradeableV2", 2, 2),
	}
}

func deployBackend(t *testing.T, reg *platform.Registry, name string, version, value int64) ir.Handle {
	t.Helper()
	b, err := backend.New(ir.BackendSpec{
		Name:    name,
		Version: version,
		Operations: []ir.OperationSpec{
			{Signature: "getUint()", Returns: "uint256", Value: ir.IRInt(value)},
		},
	})
	require.NoError(t, err)
	h, err := reg.Deploy(b)
	require.NoError(t, err)
	return h
}

func getUint(t *testing.T, c platform.Callable) int64 {
	t.Helper()
	payload, err := abi.EncodeCall("getUint()")
	require.NoError(t, err)
	out, err := c.Invoke(context.Background(), payload)
	require.NoError(t, err)
	return abi.DecodeUint(out).Int64()
}

// recordingJournal captures records and optionally fails.
type recordingJournal struct {
	mu      sync.Mutex
	changes []ir.VersionChange
	sizes   []ir.SizeRegistration
	fail    error
}

func (j *recordingJournal) RecordVersionChange(_ context.Context, c ir.VersionChange) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.fail != nil {
		return j.fail
	}
	j.changes = append(j.changes, c)
	return nil
}

func (j *recordingJournal) RecordSizeRegistration(_ context.Context, r ir.SizeRegistration) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.fail != nil {
		return j.fail
	}
	j.sizes = append(j.sizes, r)
	return nil
}

func TestRelay_ForwardsToInitialBackend(t *testing.T) {
	f := newFixture(t)

	r, h, err := Deploy(context.Background(), f.reg, f.v1, DefaultVersion)
	require.NoError(t, err)

	assert.Equal(t, State{Relay: h, Backend: f.v1, Version: 1}, r.State())
	assert.Equal(t, int64(1), getUint(t, r))
}

func TestRelay_UpgradeChangesObservedResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, _, err := Deploy(ctx, f.reg, f.v1, 1)
	require.NoError(t, err)
	require.Equal(t, int64(1), getUint(t, r))

	require.NoError(t, r.Upgrade(ctx, 2, f.v2))

	assert.Equal(t, int64(2), getUint(t, r))
	assert.Equal(t, f.v2, r.State().Backend)
	assert.Equal(t, int64(2), r.State().Version)
}

func TestRelay_RollbackRestoresPreviousResult(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, _, err := Deploy(ctx, f.reg, f.v1, 1)
	require.NoError(t, err)
	require.NoError(t, r.Upgrade(ctx, 2, f.v2))
	require.NoError(t, r.Rollback(ctx, 1, f.v1))

	assert.Equal(t, int64(1), getUint(t, r))
	assert.Equal(t, State{Relay: r.Handle(), Backend: f.v1, Version: 1}, r.State())
}

func TestRelay_RollbackStoresExactlyWhatItIsGiven(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, _, err := Deploy(ctx, f.reg, f.v1, 1)
	require.NoError(t, err)
	require.NoError(t, r.Upgrade(ctx, 2, f.v2))

	// No history check: "rolling back" to the current backend is accepted
	// and only relabels it.
	require.NoError(t, r.Rollback(ctx, 1, f.v2))

	assert.Equal(t, int64(2), getUint(t, r))
	assert.Equal(t, int64(1), r.State().Version)
}

func TestRelay_UpgradeAcceptsLowerVersion(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, _, err := Deploy(ctx, f.reg, f.v2, 2)
	require.NoError(t, err)

	require.NoError(t, r.Upgrade(ctx, 1, f.v1))
	assert.Equal(t, int64(1), getUint(t, r))
}

func TestRelay_RejectsInvalidTargets(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, h, err := Deploy(ctx, f.reg, f.v1, 1)
	require.NoError(t, err)

	tests := []struct {
		name   string
		target ir.Handle
	}{
		{"empty", ""},
		{"unknown", "0xdeadbeef"},
		{"self", h},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.Upgrade(ctx, 9, tt.target)
			require.Error(t, err)
			assert.True(t, ir.IsInvalidTarget(err), "got %v", err)

			err = r.Rollback(ctx, 9, tt.target)
			require.Error(t, err)
			assert.True(t, ir.IsInvalidTarget(err), "got %v", err)

			// Rejected swaps leave the relay untouched
			assert.Equal(t, State{Relay: h, Backend: f.v1, Version: 1}, r.State())
			assert.Equal(t, int64(1), getUint(t, r))
		})
	}
}

func TestNew_RejectsUnresolvableBackend(t *testing.T) {
	f := newFixture(t)

	_, err := New(context.Background(), f.reg, "0xmissing", 1)
	require.Error(t, err)
	assert.True(t, ir.IsInvalidTarget(err))
}

func TestRelay_JournalsBeforeApplying(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	j := &recordingJournal{}

	r, h, err := Deploy(ctx, f.reg, f.v1, 1, WithJournal(j))
	require.NoError(t, err)
	require.NoError(t, r.Upgrade(ctx, 2, f.v2))
	require.NoError(t, r.Rollback(ctx, 1, f.v1))

	require.Len(t, j.changes, 3)

	first := j.changes[0]
	assert.Equal(t, ir.ChangeInit, first.Kind)
	assert.Equal(t, h, first.Relay)
	assert.Equal(t, f.v1, first.Backend)
	assert.True(t, first.PreviousBackend.IsZero())
	assert.Equal(t, int64(1), first.Seq)

	up := j.changes[1]
	assert.Equal(t, ir.ChangeUpgrade, up.Kind)
	assert.Equal(t, f.v1, up.PreviousBackend)
	assert.Equal(t, int64(1), up.PreviousVersion)
	assert.Equal(t, f.v2, up.Backend)
	assert.Equal(t, int64(2), up.Version)

	down := j.changes[2]
	assert.Equal(t, ir.ChangeRollback, down.Kind)
	assert.Equal(t, f.v2, down.PreviousBackend)
	assert.Equal(t, f.v1, down.Backend)

	// IDs are content-addressed and distinct
	assert.Len(t, first.ID, 64)
	assert.NotEqual(t, first.ID, up.ID)
	assert.NotEqual(t, up.ID, down.ID)
	assert.Less(t, up.Seq, down.Seq)
}

func TestRelay_JournalFailureRejectsChange(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	j := &recordingJournal{}

	r, _, err := Deploy(ctx, f.reg, f.v1, 1, WithJournal(j))
	require.NoError(t, err)

	j.fail = errors.New("disk full")

	err = r.Upgrade(ctx, 2, f.v2)
	require.Error(t, err)
	assert.ErrorIs(t, err, j.fail)
	assert.Equal(t, f.v1, r.State().Backend)
	assert.Equal(t, int64(1), getUint(t, r))

	err = r.RegisterExpectedSize(ctx, "getUint()", 32)
	require.Error(t, err)
	assert.Empty(t, r.Sizes())
}

func TestRelay_DeterministicClockStampsRecords(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	j := &recordingJournal{}
	// A restored journal already holds seq 1..10
	clock := testutil.NewDeterministicClockAt(10)

	r, _, err := Deploy(ctx, f.reg, f.v1, 1, WithJournal(j), WithClock(clock))
	require.NoError(t, err)
	require.NoError(t, r.RegisterExpectedSize(ctx, "getUint()", 32))
	require.NoError(t, r.Upgrade(ctx, 2, f.v2))

	// A rejected swap must not consume a seq
	require.Error(t, r.Upgrade(ctx, 3, "0xdead"))

	require.Len(t, j.changes, 2)
	require.Len(t, j.sizes, 1)
	assert.Equal(t, int64(11), j.changes[0].Seq)
	assert.Equal(t, int64(12), j.sizes[0].Seq)
	assert.Equal(t, int64(13), j.changes[1].Seq)
	assert.Equal(t, []int64{11, 12, 13}, clock.Issued())
}

func TestRelay_RegisterExpectedSize(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, _, err := Deploy(ctx, f.reg, f.v1, 1)
	require.NoError(t, err)

	sel, err := abi.Selector("getUint()")
	require.NoError(t, err)

	_, ok := r.ExpectedSize(sel)
	assert.False(t, ok)

	require.NoError(t, r.RegisterExpectedSize(ctx, "getUint()", 32))
	e, ok := r.ExpectedSize(sel)
	require.True(t, ok)
	assert.Equal(t, ir.SizeEntry{Signature: "getUint()", Selector: sel, Size: 32}, e)

	// Re-registering overwrites; whitespace does not change the key
	require.NoError(t, r.RegisterExpectedSize(ctx, " getUint ( ) ", 64))
	e, ok = r.ExpectedSize(sel)
	require.True(t, ok)
	assert.Equal(t, 64, e.Size)
	assert.Len(t, r.Sizes(), 1)
}

func TestRelay_RegisterExpectedSizeRejectsBadInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, _, err := Deploy(ctx, f.reg, f.v1, 1)
	require.NoError(t, err)

	err = r.RegisterExpectedSize(ctx, "getUint()", 0)
	assert.Equal(t, ir.ErrCodeInvalidSize, ir.CodeOf(err))

	err = r.RegisterExpectedSize(ctx, "getUint()", -32)
	assert.Equal(t, ir.ErrCodeInvalidSize, ir.CodeOf(err))

	err = r.RegisterExpectedSize(ctx, "not a signature", 32)
	assert.Equal(t, ir.ErrCodeInvalidSignature, ir.CodeOf(err))

	assert.Empty(t, r.Sizes())
}

func TestRelay_SizesSortedBySignature(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, _, err := Deploy(ctx, f.reg, f.v1, 1)
	require.NoError(t, err)
	require.NoError(t, r.RegisterExpectedSize(ctx, "totalSupply()", 32))
	require.NoError(t, r.RegisterExpectedSize(ctx, "getUint()", 32))

	sizes := r.Sizes()
	require.Len(t, sizes, 2)
	assert.Equal(t, "getUint()", sizes[0].Signature)
	assert.Equal(t, "totalSupply()", sizes[1].Signature)
}

func TestRelay_ForwardPropagatesBackendErrors(t *testing.T) {
	f := newFixture(t)

	r, _, err := Deploy(context.Background(), f.reg, f.v1, 1)
	require.NoError(t, err)

	payload, err := abi.EncodeCall("missing()")
	require.NoError(t, err)

	_, err = r.Forward(context.Background(), payload)
	require.Error(t, err)
	assert.True(t, ir.IsUnknownOperation(err))
}

func TestRelay_ForwardPassesPayloadVerbatim(t *testing.T) {
	reg := platform.NewRegistry(testutil.NewFixedHandleGenerator("0xrecorder", "0xrelay"))
	rec := &recorder{}
	target, err := reg.Deploy(rec)
	require.NoError(t, err)

	r, h, err := Deploy(context.Background(), reg, target, 1)
	require.NoError(t, err)
	assert.Equal(t, ir.Handle("0xrelay"), h)
	assert.Equal(t, ir.Handle("0xrecorder"), r.State().Backend)

	payload := []byte{0x01, 0x02, 0x03, 0x04, 0xff, 0x00}
	out, err := r.Forward(context.Background(), payload)
	require.NoError(t, err)

	assert.Equal(t, payload, rec.last)
	assert.Equal(t, []byte("ok"), out)
}

type recorder struct {
	last []byte
}

func (r *recorder) Invoke(_ context.Context, payload []byte) ([]byte, error) {
	r.last = append([]byte(nil), payload...)
	return []byte("ok"), nil
}

func TestRelay_ChainedRelays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inner, innerHandle, err := Deploy(ctx, f.reg, f.v1, 1)
	require.NoError(t, err)
	outer, _, err := Deploy(ctx, f.reg, innerHandle, 1)
	require.NoError(t, err)

	assert.Equal(t, int64(1), getUint(t, outer))

	require.NoError(t, inner.Upgrade(ctx, 2, f.v2))
	assert.Equal(t, int64(2), getUint(t, outer))
}

func TestRelay_RejectsCycleThroughOtherRelays(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	a, aHandle, err := Deploy(ctx, f.reg, f.v1, 1)
	require.NoError(t, err)
	b, bHandle, err := Deploy(ctx, f.reg, aHandle, 1)
	require.NoError(t, err)
	_, cHandle, err := Deploy(ctx, f.reg, bHandle, 1)
	require.NoError(t, err)

	// a -> b -> a
	err = a.Upgrade(ctx, 2, bHandle)
	require.Error(t, err)
	assert.True(t, ir.IsInvalidTarget(err))
	assert.Contains(t, err.Error(), "leads back")

	// a -> c -> b -> a
	err = a.Rollback(ctx, 0, cHandle)
	require.Error(t, err)
	assert.True(t, ir.IsInvalidTarget(err))

	assert.Equal(t, State{Relay: aHandle, Backend: f.v1, Version: 1}, a.State())
	assert.Equal(t, int64(1), getUint(t, b))

	// Pointing a relay down an acyclic chain is still allowed
	_, dHandle, err := Deploy(ctx, f.reg, f.v2, 2)
	require.NoError(t, err)
	require.NoError(t, b.Upgrade(ctx, 2, dHandle))
	assert.Equal(t, int64(2), getUint(t, b))
}

func TestRelay_CycleHitsDepthLimit(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// A callable outside the relay type can still close a loop; the depth
	// limit stops it at call time.
	loop := &forwarder{reg: f.reg}
	loopHandle, err := f.reg.Deploy(loop)
	require.NoError(t, err)
	a, aHandle, err := Deploy(ctx, f.reg, loopHandle, 1)
	require.NoError(t, err)
	loop.to = aHandle

	payload, err := abi.EncodeCall("getUint()")
	require.NoError(t, err)

	_, err = a.Forward(ctx, payload)
	require.Error(t, err)
	assert.ErrorIs(t, err, platform.ErrCallDepthExceeded)
}

// forwarder passes every payload on to another handle.
type forwarder struct {
	reg *platform.Registry
	to  ir.Handle
}

func (f *forwarder) Invoke(ctx context.Context, payload []byte) ([]byte, error) {
	target, err := f.reg.Resolve(f.to)
	if err != nil {
		return nil, err
	}
	return target.Invoke(ctx, payload)
}

func TestRestore(t *testing.T) {
	f := newFixture(t)
	j := &recordingJournal{}

	r, err := Restore(f.reg, State{Relay: "0xrelay", Backend: f.v2, Version: 2},
		WithJournal(j),
		WithSizes([]ir.SizeEntry{{Signature: "getUint()", Selector: mustSelector(t, "getUint()"), Size: 32}}),
	)
	require.NoError(t, err)

	assert.Equal(t, ir.Handle("0xrelay"), r.Handle())
	assert.Equal(t, int64(2), getUint(t, r))
	assert.Len(t, r.Sizes(), 1)
	assert.Empty(t, j.changes, "restore must not journal")
}

func TestRestore_MissingBackend(t *testing.T) {
	f := newFixture(t)

	_, err := Restore(f.reg, State{Relay: "0xrelay", Backend: "0xgone", Version: 1})
	require.Error(t, err)
	assert.True(t, ir.IsInvalidTarget(err))
}

func mustSelector(t *testing.T, sig string) ir.Selector {
	t.Helper()
	sel, err := abi.Selector(sig)
	require.NoError(t, err)
	return sel
}

func TestRelay_Metrics(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	promReg := prometheus.NewRegistry()
	m := NewMetrics(promReg)

	r, h, err := Deploy(ctx, f.reg, f.v1, 1, WithMetrics(m))
	require.NoError(t, err)
	relay := string(h)

	getUint(t, r)
	getUint(t, r)
	require.NoError(t, r.Upgrade(ctx, 2, f.v2))
	require.NoError(t, r.RegisterExpectedSize(ctx, "getUint()", 32))

	payload, err := abi.EncodeCall("missing()")
	require.NoError(t, err)
	_, err = r.Forward(ctx, payload)
	require.Error(t, err)

	assert.Equal(t, 2.0, promtestutil.ToFloat64(m.ForwardsTotal.WithLabelValues(relay, "ok")))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.ForwardsTotal.WithLabelValues(relay, "error")))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.VersionChangesTotal.WithLabelValues(relay, "init")))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.VersionChangesTotal.WithLabelValues(relay, "upgrade")))
	assert.Equal(t, 1.0, promtestutil.ToFloat64(m.SizeRegistrationsTotal.WithLabelValues(relay)))
	assert.Equal(t, 2.0, promtestutil.ToFloat64(m.CurrentVersion.WithLabelValues(relay)))
}

func TestRelay_ConcurrentForwardAndUpgrade(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	r, _, err := Deploy(ctx, f.reg, f.v1, 1)
	require.NoError(t, err)

	payload, err := abi.EncodeCall("getUint()")
	require.NoError(t, err)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 100; j++ {
				out, err := r.Forward(ctx, payload)
				if !assert.NoError(t, err) {
					return
				}
				v := abi.DecodeUint(out).Int64()
				// Every observed result comes from exactly one backend
				assert.True(t, v == 1 || v == 2, "unexpected value %d", v)
			}
		}()
	}
	for i := 0; i < 50; i++ {
		if i%2 == 0 {
			require.NoError(t, r.Upgrade(ctx, 2, f.v2))
		} else {
			require.NoError(t, r.Rollback(ctx, 1, f.v1))
		}
	}
	wg.Wait()
}

// reservingJournal tracks reserved names on top of recordingJournal.
type reservingJournal struct {
	recordingJournal
	names map[string]ir.Handle
}

func (j *reservingJournal) CreateRelay(_ context.Context, name string, h ir.Handle) error {
	if _, taken := j.names[name]; taken {
		return errors.New("name taken")
	}
	j.names[name] = h
	return nil
}

func (j *reservingJournal) DeleteRelay(_ context.Context, name string) error {
	delete(j.names, name)
	return nil
}

func TestDeployNamed(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	j := &reservingJournal{names: map[string]ir.Handle{}}

	r, h, err := DeployNamed(ctx, f.reg, j, "proxy", f.v1, 1, WithJournal(j))
	require.NoError(t, err)

	assert.Equal(t, h, j.names["proxy"])
	assert.Equal(t, h, r.Handle())
	require.Len(t, j.changes, 1)
	assert.Equal(t, h, j.changes[0].Relay)

	resolved, err := f.reg.Resolve(h)
	require.NoError(t, err)
	assert.Same(t, r, resolved)
}

func TestDeployNamed_ReleasesNameOnRejection(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	j := &reservingJournal{names: map[string]ir.Handle{}}

	_, _, err := DeployNamed(ctx, f.reg, j, "proxy", "0xmissing", 1, WithJournal(j))
	require.Error(t, err)
	assert.True(t, ir.IsInvalidTarget(err))
	assert.NotContains(t, j.names, "proxy")

	_, _, err = DeployNamed(ctx, f.reg, j, "proxy", f.v1, 1, WithJournal(j))
	require.NoError(t, err)
}

func TestDeployNamed_ReleasesNameWhenHandleTaken(t *testing.T) {
	ctx := context.Background()
	reg := platform.NewRegistry(testutil.NewFixedHandleGenerator("0xtaken"))
	_, err := reg.DeployAt("0xtarget", &recorder{})
	require.NoError(t, err)
	_, err = reg.DeployAt("0xtaken", &recorder{})
	require.NoError(t, err)
	j := &reservingJournal{names: map[string]ir.Handle{}}

	_, _, err = DeployNamed(ctx, reg, j, "proxy", "0xtarget", 1, WithJournal(j))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already in use")
	assert.NotContains(t, j.names, "proxy")

	_, err = reg.Resolve("0xtaken")
	require.NoError(t, err)
}
