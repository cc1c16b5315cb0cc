package loop

import (
	"context"
	"sync"

	"github.com/effective-security/actionai/pkg/llms"
	"github.com/effective-security/actionai/registry"
)

// EventType is the type of a Stream event.
type EventType string

const (
	// EventText carries a chunk of the model text.
	EventText EventType = "text"
	// EventToolCall carries a tool call requested by the model.
	EventToolCall EventType = "tool_call"
	// EventToolResult carries the result of a tool call.
	EventToolResult EventType = "tool_result"
	// EventDone carries the Result, it is the last event of a successful run.
	EventDone EventType = "done"
	// EventError carries the Failure, it is the last event of a failed run.
	EventError EventType = "error"
)

// Event is produced by Stream.
type Event struct {
	Type       EventType
	Text       string
	ToolCall   *llms.ToolCall
	ToolResult *ToolResult
	Result     *Result
	Failure    *Failure
}

type emitFunc func(Event) bool

// emitter delivers events to the channel until it is closed.
// Late events from an abandoned model call are dropped.
type emitter struct {
	ctx    context.Context
	ch     chan Event
	stop   chan struct{}
	lock   sync.RWMutex
	closed bool
}

func newEmitter(ctx context.Context, size int) *emitter {
	return &emitter{
		ctx:  ctx,
		ch:   make(chan Event, size),
		stop: make(chan struct{}),
	}
}

func (e *emitter) emit(ev Event) bool {
	e.lock.RLock()
	defer e.lock.RUnlock()
	if e.closed {
		return false
	}
	select {
	case e.ch <- ev:
		return true
	case <-e.ctx.Done():
		return false
	case <-e.stop:
		return false
	}
}

// last delivers the final event. When the run was cancelled with a full
// buffer the oldest buffered events are dropped to make room for it.
func (e *emitter) last(ev Event) {
	if e.emit(ev) {
		return
	}
	e.lock.Lock()
	defer e.lock.Unlock()
	for {
		select {
		case e.ch <- ev:
			return
		default:
		}
		select {
		case <-e.ch:
		default:
		}
	}
}

func (e *emitter) close() {
	close(e.stop)
	e.lock.Lock()
	defer e.lock.Unlock()
	e.closed = true
	close(e.ch)
}

// Stream runs the conversation as Run does and delivers its events on the returned channel.
// The channel is closed after the done or error event, which is always the last one delivered.
// The caller must drain the channel or cancel ctx,
// cancelling ctx stops the run and releases the in-flight model call.
func Stream(ctx context.Context, model llms.Model, reg *registry.Registry, history []llms.Message, opts ...Option) <-chan Event {
	cfg := NewConfig(opts...)
	ctx, cancel := context.WithCancel(ctx)
	e := newEmitter(ctx, cfg.EventBuffer)

	go func() {
		defer cancel()

		res, failure := run(ctx, model, reg, history, cfg, e.emit)
		if failure != nil {
			e.last(Event{Type: EventError, Failure: failure})
		} else {
			e.last(Event{Type: EventDone, Result: res})
		}
		e.close()
	}()

	return e.ch
}
