package coordinator

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hwh/pkg/backend"
	"hwh/pkg/backend/pool"
	"hwh/pkg/descriptor"
	"hwh/pkg/stream"
)

type uartSource struct {
	lines *stream.Broadcaster[string]
}

func (u *uartSource) Close() error                                     { return nil }
func (u *uartSource) Info() map[string]string                          { return nil }
func (u *uartSource) AsBus() (backend.Bus, bool)                       { return nil, false }
func (u *uartSource) AsDebug() (backend.Debug, bool)                   { return nil, false }
func (u *uartSource) AsGlitch() (backend.Glitch, bool)                 { return nil, false }
func (u *uartSource) AsLogicAnalyzer() (backend.LogicAnalyzer, bool)   { return nil, false }
func (u *uartSource) Lines() *stream.Broadcaster[string]               { return u.lines }

type glitchTarget struct {
	triggerCount int32
	armCount     int32
}

func (g *glitchTarget) Close() error                                   { return nil }
func (g *glitchTarget) Info() map[string]string                        { return nil }
func (g *glitchTarget) AsBus() (backend.Bus, bool)                     { return nil, false }
func (g *glitchTarget) AsDebug() (backend.Debug, bool)                 { return nil, false }
func (g *glitchTarget) AsGlitch() (backend.Glitch, bool)               { return g, true }
func (g *glitchTarget) AsLogicAnalyzer() (backend.LogicAnalyzer, bool) { return nil, false }

func (g *glitchTarget) Configure(widthNs, offsetNs uint64, repeat int) error { return nil }
func (g *glitchTarget) Arm() error {
	atomic.AddInt32(&g.armCount, 1)
	return nil
}
func (g *glitchTarget) Trigger() error {
	atomic.AddInt32(&g.triggerCount, 1)
	return nil
}
func (g *glitchTarget) Disarm() error { return nil }

type fakeEnum struct{ descs []descriptor.Descriptor }

func (f *fakeEnum) Scan() ([]descriptor.Descriptor, error) { return f.descs, nil }
func (f *fakeEnum) Events() <-chan descriptor.Event        { return nil }

func buildTestPool(t *testing.T) (*pool.Pool, *uartSource, *glitchTarget, descriptor.Descriptor, descriptor.Descriptor) {
	t.Helper()
	src := &uartSource{lines: stream.NewBroadcaster[string](32)}
	tgt := &glitchTarget{}

	reg := backend.NewRegistry()
	reg.Register(backend.Driver{Kind: "uart-source", Open: func(ctx context.Context, d descriptor.Descriptor) (backend.Instance, error) {
		return src, nil
	}})
	reg.Register(backend.Driver{Kind: "glitch-target", Open: func(ctx context.Context, d descriptor.Descriptor) (backend.Instance, error) {
		return tgt, nil
	}})

	srcDesc := descriptor.NewDescriptor(1, 1, "A", "Source", "uart-source", descriptor.CapUART)
	tgtDesc := descriptor.NewDescriptor(2, 2, "B", "Target", "glitch-target", descriptor.CapVoltageGlitch)

	p := pool.New(reg, &fakeEnum{descs: []descriptor.Descriptor{srcDesc, tgtDesc}})
	_, err := p.Scan(context.Background())
	require.NoError(t, err)
	_, err = p.Open(context.Background(), srcDesc.ID)
	require.NoError(t, err)
	_, err = p.Open(context.Background(), tgtDesc.ID)
	require.NoError(t, err)

	return p, src, tgt, srcDesc, tgtDesc
}

// TestCoordinatorDebounceAndCooldown follows scenario 4's shape: three
// matching lines at t≈0, t≈10ms, t≈660ms with debounce=100ms,
// cooldown=500ms fire exactly twice (the t≈10ms line is dropped by
// debounce).
func TestCoordinatorDebounceAndCooldown(t *testing.T) {
	p, src, tgt, srcDesc, tgtDesc := buildTestPool(t)
	c := New(p, 16)

	require.NoError(t, c.AddRoute(TriggerRoute{
		Name:           "boot-glitch",
		SourceDeviceID: srcDesc.ID,
		SourcePattern:  "BOOT OK",
		Action:         Action{TargetDeviceID: tgtDesc.ID, Operation: OpGlitchTrigger},
		Enabled:        true,
		DebounceMs:     100,
		CooldownMs:     500,
	}))

	require.NoError(t, c.Arm(context.Background()))
	defer c.Disarm()

	subID, evCh := c.Events().Subscribe()
	defer c.Events().Unsubscribe(subID)

	src.lines.Publish("BOOT OK")
	waitEvent(t, evCh)

	time.Sleep(10 * time.Millisecond) // well under the 100ms debounce window
	src.lines.Publish("BOOT OK")

	time.Sleep(650 * time.Millisecond) // past the 500ms cooldown from t=0
	src.lines.Publish("BOOT OK")
	waitEvent(t, evCh)

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(2), atomic.LoadInt32(&tgt.triggerCount))

	route, ok := c.Route("boot-glitch")
	require.True(t, ok)
	assert.Equal(t, uint64(2), route.FiredCount())
}

func TestCoordinatorTargetMissingIsNonFatal(t *testing.T) {
	p, src, _, srcDesc, _ := buildTestPool(t)
	c := New(p, 16)

	require.NoError(t, c.AddRoute(TriggerRoute{
		Name:           "dead-target",
		SourceDeviceID: srcDesc.ID,
		SourcePattern:  "X",
		Action:         Action{TargetDeviceID: "does-not-exist", Operation: OpGlitchTrigger},
		Enabled:        true,
	}))
	require.NoError(t, c.Arm(context.Background()))
	defer c.Disarm()

	subID, evCh := c.Events().Subscribe()
	defer c.Events().Unsubscribe(subID)

	src.lines.Publish("X")
	ev := waitEvent(t, evCh)
	assert.False(t, ev.Success)
	assert.Contains(t, ev.Details, "target_missing")
}

// TestCoordinatorHardwareSyncArmsWithoutFiring covers the
// hardware-synchronous route mode: the coordinator configures and arms
// the target but never triggers it in software.
func TestCoordinatorHardwareSyncArmsWithoutFiring(t *testing.T) {
	p, src, tgt, srcDesc, tgtDesc := buildTestPool(t)
	c := New(p, 16)

	require.NoError(t, c.AddRoute(TriggerRoute{
		Name:           "hw-sync",
		SourceDeviceID: srcDesc.ID,
		SourcePattern:  "READY",
		Action:         Action{TargetDeviceID: tgtDesc.ID, Operation: OpGlitchConfigureArm, WidthNs: 100, Repeat: 1},
		Enabled:        true,
	}))
	require.NoError(t, c.Arm(context.Background()))
	defer c.Disarm()

	subID, evCh := c.Events().Subscribe()
	defer c.Events().Unsubscribe(subID)

	src.lines.Publish("READY")
	ev := waitEvent(t, evCh)
	assert.True(t, ev.Success)
	assert.Equal(t, int32(1), atomic.LoadInt32(&tgt.armCount))
	assert.Equal(t, int32(0), atomic.LoadInt32(&tgt.triggerCount))
}

func TestCoordinatorArmRequiresEnabledRoute(t *testing.T) {
	p, _, _, _, _ := buildTestPool(t)
	c := New(p, 16)
	err := c.Arm(context.Background())
	assert.Error(t, err)
}

func waitEvent(t *testing.T, ch <-chan Event) Event {
	t.Helper()
	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for coordinator event")
		return Event{}
	}
}
