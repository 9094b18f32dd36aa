package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"hwh/pkg/backend"
	"hwh/pkg/descriptor"
	"hwh/pkg/stream"
	"hwh/pkg/sump"
)

type fakeEnumerator struct {
	descs []descriptor.Descriptor
}

func (f *fakeEnumerator) Scan() ([]descriptor.Descriptor, error) { return f.descs, nil }
func (f *fakeEnumerator) Events() <-chan descriptor.Event        { return nil }

type fakeInstance struct {
	id        string
	lines     *stream.Broadcaster[string]
	glitchOps *int32
}

func (f *fakeInstance) Close() error { return nil }
func (f *fakeInstance) Info() map[string]string { return map[string]string{"driver": "fake"} }
func (f *fakeInstance) AsBus() (backend.Bus, bool) { return nil, false }
func (f *fakeInstance) AsDebug() (backend.Debug, bool) { return nil, false }
func (f *fakeInstance) AsGlitch() (backend.Glitch, bool) { return f, true }
func (f *fakeInstance) AsLogicAnalyzer() (backend.LogicAnalyzer, bool) { return nil, false }
func (f *fakeInstance) Lines() *stream.Broadcaster[string] { return f.lines }

func (f *fakeInstance) Configure(widthNs, offsetNs uint64, repeat int) error { return nil }
func (f *fakeInstance) Arm() error                                          { return nil }
func (f *fakeInstance) Trigger() error {
	atomic.AddInt32(f.glitchOps, 1)
	return nil
}
func (f *fakeInstance) Disarm() error { return nil }

func testRegistry(t *testing.T) (*backend.Registry, *int32) {
	t.Helper()
	var ops int32
	reg := backend.NewRegistry()
	reg.Register(backend.Driver{
		Kind: "fake",
		Open: func(ctx context.Context, d descriptor.Descriptor) (backend.Instance, error) {
			return &fakeInstance{id: d.ID, lines: stream.NewBroadcaster[string](8), glitchOps: &ops}, nil
		},
	})
	return reg, &ops
}

func TestPoolOpenIsIdempotent(t *testing.T) {
	reg, _ := testRegistry(t)
	desc := descriptor.NewDescriptor(1, 2, "p0", "Fake", "fake")
	p := New(reg, &fakeEnumerator{descs: []descriptor.Descriptor{desc}})

	_, err := p.Scan(context.Background())
	require.NoError(t, err)

	l1, err := p.Open(context.Background(), desc.ID)
	require.NoError(t, err)
	l2, err := p.Open(context.Background(), desc.ID)
	require.NoError(t, err)
	assert.Equal(t, l1.DeviceID, l2.DeviceID)
	assert.True(t, p.Connected(desc.ID))
}

func TestPoolUnknownDeviceID(t *testing.T) {
	reg, _ := testRegistry(t)
	p := New(reg, &fakeEnumerator{})
	_, err := p.Open(context.Background(), "nope")
	var be *backend.Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, backend.KindTargetMissing, be.Kind)
}

func TestPoolRoleNotSupported(t *testing.T) {
	reg, _ := testRegistry(t)
	desc := descriptor.NewDescriptor(1, 2, "p0", "Fake", "fake")
	p := New(reg, &fakeEnumerator{descs: []descriptor.Descriptor{desc}})
	_, _ = p.Scan(context.Background())
	_, err := p.Open(context.Background(), desc.ID)
	require.NoError(t, err)

	err = p.WithBus(context.Background(), desc.ID, func(_ context.Context, b backend.Bus) error { return nil })
	var be *backend.Error
	require.ErrorAs(t, err, &be)
	assert.Equal(t, backend.KindRoleNotSupported, be.Kind)
}

// TestPoolMutatorIsExclusive gives N goroutines the glitch mutator lease and
// checks they run strictly one at a time ("for every backend lease L,
// while L is held no other mutator lease on the same device is active").
func TestPoolMutatorIsExclusive(t *testing.T) {
	reg, ops := testRegistry(t)
	desc := descriptor.NewDescriptor(1, 2, "p0", "Fake", "fake")
	p := New(reg, &fakeEnumerator{descs: []descriptor.Descriptor{desc}})
	_, _ = p.Scan(context.Background())
	_, err := p.Open(context.Background(), desc.ID)
	require.NoError(t, err)

	var wg sync.WaitGroup
	var concurrent int32
	var maxConcurrent int32
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := p.WithGlitch(context.Background(), desc.ID, func(_ context.Context, g backend.Glitch) error {
				n := atomic.AddInt32(&concurrent, 1)
				for {
					old := atomic.LoadInt32(&maxConcurrent)
					if n <= old || atomic.CompareAndSwapInt32(&maxConcurrent, old, n) {
						break
					}
				}
				time.Sleep(time.Millisecond)
				atomic.AddInt32(&concurrent, -1)
				return g.Trigger()
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), maxConcurrent)
	assert.Equal(t, int32(20), atomic.LoadInt32(ops))
}

type blockingAnalyzer struct {
	fakeInstance
	captureStarted chan struct{}
}

func (b *blockingAnalyzer) AsLogicAnalyzer() (backend.LogicAnalyzer, bool) { return b, true }

// Capture blocks until the operation context is cancelled, standing in
// for a SUMP acquisition that never sees its trigger.
func (b *blockingAnalyzer) Capture(ctx context.Context, cfg sump.Config, timeout time.Duration) (*sump.Capture, error) {
	close(b.captureStarted)
	<-ctx.Done()
	return nil, backend.New(backend.KindCancelled, "sump_capture", b.id, ctx.Err())
}

// TestCloseCancelsInFlightCapture walks scenario 6: a capture is started,
// the device is closed underneath it, and the operation returns Cancelled
// well inside the 1s cancellation budget with the device disconnected.
func TestCloseCancelsInFlightCapture(t *testing.T) {
	var ops int32
	reg := backend.NewRegistry()
	analyzer := &blockingAnalyzer{captureStarted: make(chan struct{})}
	reg.Register(backend.Driver{
		Kind: "fake-la",
		Open: func(ctx context.Context, d descriptor.Descriptor) (backend.Instance, error) {
			analyzer.id = d.ID
			analyzer.lines = stream.NewBroadcaster[string](8)
			analyzer.glitchOps = &ops
			return analyzer, nil
		},
	})
	desc := descriptor.NewDescriptor(3, 4, "p1", "FakeLA", "fake-la", descriptor.CapLogicAnalyzer)
	p := New(reg, &fakeEnumerator{descs: []descriptor.Descriptor{desc}})
	_, _ = p.Scan(context.Background())
	_, err := p.Open(context.Background(), desc.ID)
	require.NoError(t, err)

	captureErr := make(chan error, 1)
	go func() {
		captureErr <- p.WithLogicAnalyzer(context.Background(), desc.ID, func(ctx context.Context, la backend.LogicAnalyzer) error {
			_, err := la.Capture(ctx, sump.Config{SampleCount: 1024, Channels: 8}, 10*time.Second)
			return err
		})
	}()

	<-analyzer.captureStarted
	require.NoError(t, p.Close(desc.ID))

	select {
	case err := <-captureErr:
		var be *backend.Error
		require.ErrorAs(t, err, &be)
		assert.Equal(t, backend.KindCancelled, be.Kind)
	case <-time.After(time.Second):
		t.Fatal("capture did not cancel within the 1s budget")
	}
	assert.False(t, p.Connected(desc.ID))
}

func TestPoolSubscribeSharesOneBroadcaster(t *testing.T) {
	reg, _ := testRegistry(t)
	desc := descriptor.NewDescriptor(1, 2, "p0", "Fake", "fake")
	p := New(reg, &fakeEnumerator{descs: []descriptor.Descriptor{desc}})
	_, _ = p.Scan(context.Background())
	_, err := p.Open(context.Background(), desc.ID)
	require.NoError(t, err)

	id1, ch1, err := p.Subscribe(desc.ID)
	require.NoError(t, err)
	id2, ch2, err := p.Subscribe(desc.ID)
	require.NoError(t, err)

	e, _ := p.lookup(desc.ID)
	e.instance.(*fakeInstance).lines.Publish("BOOT OK")

	assert.Equal(t, "BOOT OK", <-ch1)
	assert.Equal(t, "BOOT OK", <-ch2)

	p.Unsubscribe(desc.ID, id1)
	p.Unsubscribe(desc.ID, id2)
}
