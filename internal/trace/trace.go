// Package trace is the structured event stream every subsystem emits to,
// in place of a callback parameter threaded through every call. Plain
// operational messages still go through log.Printf; this stream is
// reserved for structured, subscribable facts about backend and
// coordinator activity.
package trace

import (
	"fmt"
	"time"

	"hwh/pkg/stream"
)

// Level is the severity of a trace Event.
type Level int

const (
	LevelDebug Level = iota
	LevelInfo
	LevelWarn
	LevelError
)

func (l Level) String() string {
	switch l {
	case LevelDebug:
		return "debug"
	case LevelInfo:
		return "info"
	case LevelWarn:
		return "warn"
	case LevelError:
		return "error"
	default:
		return "unknown"
	}
}

// Event is one structured fact emitted by a subsystem (frame codec, BPIO2
// client, SUMP client, glitch controller, pool, coordinator).
type Event struct {
	Subsystem string
	Level     Level
	Message   string
	Fields    map[string]any
	At        time.Time
}

// Bus is the bounded multi-producer/multi-subscriber event stream, using
// the same bounded-stream, oldest-drop-on-overflow rule as every other
// broadcast stream in this module. A nil *Bus is
// valid and discards every Emit call, so subsystems can hold a *Bus field
// that defaults to "no tracing" without a nil check at every call site.
type Bus struct {
	broadcaster *stream.Broadcaster[Event]
}

// NewBus returns a trace bus buffering up to capacity events per
// subscriber.
func NewBus(capacity int) *Bus {
	return &Bus{broadcaster: stream.NewBroadcaster[Event](capacity)}
}

// Emit publishes an event. Safe to call on a nil *Bus.
func (b *Bus) Emit(subsystem string, level Level, message string, fields map[string]any) {
	if b == nil {
		return
	}
	b.broadcaster.Publish(Event{Subsystem: subsystem, Level: level, Message: message, Fields: fields, At: time.Now()})
}

// Emitf is Emit with fmt.Sprintf-style formatting and no structured
// fields.
func (b *Bus) Emitf(subsystem string, level Level, format string, args ...any) {
	b.Emit(subsystem, level, fmt.Sprintf(format, args...), nil)
}

// Subscribe registers a receiver for every event published from this point
// on.
func (b *Bus) Subscribe() (int, <-chan Event) {
	if b == nil {
		return 0, nil
	}
	return b.broadcaster.Subscribe()
}

// Unsubscribe releases a subscription from Subscribe.
func (b *Bus) Unsubscribe(id int) {
	if b == nil {
		return
	}
	b.broadcaster.Unsubscribe(id)
}

// Dropped returns how many events have been dropped for subscriber
// overflow.
func (b *Bus) Dropped() uint64 {
	if b == nil {
		return 0
	}
	return b.broadcaster.Dropped()
}
