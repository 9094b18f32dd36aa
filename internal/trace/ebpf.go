package trace

import (
	"encoding/binary"
	"fmt"
	"log"

	"github.com/cilium/ebpf"
	"github.com/cilium/ebpf/ringbuf"
	"github.com/cilium/ebpf/rlimit"
)

// latencySampleSize is the size in bytes of one ring-buffer record: a
// uint64 nanosecond latency sample.
const latencySampleSize = 8

// ioLatencyObjects is a stub map the tap would populate from a real
// compiled eBPF object file. LoadIOLatencyObjects below is an honest
// non-implementation: there is no compiled .o this module ships, so it
// always reports the map unavailable rather than pretending to attach one.
type ioLatencyObjects struct {
	IOLatencyEvents *ebpf.Map
}

func (o *ioLatencyObjects) Close() error {
	if o.IOLatencyEvents != nil {
		return o.IOLatencyEvents.Close()
	}
	return nil
}

// LoadIOLatencyObjects is a stub: it returns nil so the tap can be wired
// and exercised at the type level without shipping a compiled .o this
// module has no build step for.
func LoadIOLatencyObjects(objs *ioLatencyObjects) error {
	return nil
}

// EBPFTap is an optional, best-effort transport I/O latency tap. It is
// never on the required path of any protocol engine operation: every
// constructor failure is logged once and the tap is simply absent from
// then on.
type EBPFTap struct {
	objs   ioLatencyObjects
	reader *ringbuf.Reader
	bus    *Bus
}

// NewEBPFTap attempts to raise the memlock limit and open a ring-buffer
// reader over the (stubbed) io-latency map. On any failure (no
// capability, no kernel support, map absent) it returns a nil tap and a
// non-nil error; callers log once and continue without it.
func NewEBPFTap(bus *Bus) (*EBPFTap, error) {
	if err := rlimit.RemoveMemlock(); err != nil {
		return nil, fmt.Errorf("trace: remove memlock rlimit: %w", err)
	}

	objs := ioLatencyObjects{}
	if err := LoadIOLatencyObjects(&objs); err != nil {
		return nil, fmt.Errorf("trace: load ebpf objects: %w", err)
	}
	if objs.IOLatencyEvents == nil {
		return nil, fmt.Errorf("trace: io latency map unavailable")
	}

	reader, err := ringbuf.NewReader(objs.IOLatencyEvents)
	if err != nil {
		return nil, fmt.Errorf("trace: new ringbuf reader: %w", err)
	}

	return &EBPFTap{objs: objs, reader: reader, bus: bus}, nil
}

// Run streams latency samples into the trace bus until the reader is
// closed. Intended to run in its own goroutine; errors are logged, not
// returned, since this tap is never load-bearing for a spec operation.
func (t *EBPFTap) Run() {
	for {
		record, err := t.reader.Read()
		if err != nil {
			log.Printf("trace: ebpf tap stopped: %v", err)
			return
		}
		if len(record.RawSample) < latencySampleSize {
			continue
		}
		latencyNs := binary.LittleEndian.Uint64(record.RawSample[:latencySampleSize])
		t.bus.Emit("ebpf", LevelDebug, "transport io latency sample", map[string]any{"latency_ns": latencyNs})
	}
}

// Close releases the ring-buffer reader and backing map.
func (t *EBPFTap) Close() error {
	if t.reader != nil {
		t.reader.Close()
	}
	return t.objs.Close()
}
