package loop_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/effective-security/actionai/loop"
	"github.com/effective-security/actionai/pkg/llms"
	"github.com/effective-security/actionai/registry"
	"github.com/effective-security/actionai/resource"
	"github.com/effective-security/actionai/resource/memory"
	"github.com/effective-security/actionai/tools"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

var firstID = uuid.MustParse("3c9e0000-4444-4d2a-9b00-000000000001").String()

type step func(ctx context.Context, messages []llms.Message, o *llms.CallOptions) (*llms.ContentResponse, error)

// scripted is a model replaying steps, the last step repeats.
type scripted struct {
	lock     sync.Mutex
	steps    []step
	calls    int
	requests [][]llms.Message
	options  []*llms.CallOptions
}

func newScripted(steps ...step) *scripted {
	return &scripted{steps: steps}
}

func (m *scripted) GetProviderType() llms.ProviderType {
	return llms.ProviderFake
}

func (m *scripted) GetName() string {
	return "scripted"
}

func (m *scripted) GenerateContent(ctx context.Context, messages []llms.Message, options ...llms.CallOption) (*llms.ContentResponse, error) {
	o := llms.NewCallOptions(llms.CallOptions{}, options...)

	m.lock.Lock()
	idx := min(m.calls, len(m.steps)-1)
	m.calls++
	m.requests = append(m.requests, messages)
	m.options = append(m.options, o)
	fn := m.steps[idx]
	m.lock.Unlock()

	return fn(ctx, messages, o)
}

func (m *scripted) Calls() int {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.calls
}

func (m *scripted) Request(i int) []llms.Message {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.requests[i]
}

func (m *scripted) Options(i int) *llms.CallOptions {
	m.lock.Lock()
	defer m.lock.Unlock()
	return m.options[i]
}

func answer(text string) step {
	return func(context.Context, []llms.Message, *llms.CallOptions) (*llms.ContentResponse, error) {
		return &llms.ContentResponse{
			Choices: []*llms.ContentChoice{{Content: text, StopReason: "stop"}},
		}, nil
	}
}

func callTools(calls ...llms.ToolCall) step {
	return func(context.Context, []llms.Message, *llms.CallOptions) (*llms.ContentResponse, error) {
		return &llms.ContentResponse{
			Choices: []*llms.ContentChoice{{StopReason: "tool_calls", ToolCalls: calls}},
		}, nil
	}
}

func fail(err error) step {
	return func(context.Context, []llms.Message, *llms.CallOptions) (*llms.ContentResponse, error) {
		return nil, err
	}
}

// block waits for the call to be cancelled.
func block(entered chan<- struct{}) step {
	var once sync.Once
	return func(ctx context.Context, _ []llms.Message, _ *llms.CallOptions) (*llms.ContentResponse, error) {
		if entered != nil {
			once.Do(func() { close(entered) })
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(10 * time.Second):
			return nil, errors.New("not cancelled")
		}
	}
}

func toolCall(id, name, args string) llms.ToolCall {
	return llms.ToolCall{
		ID:           id,
		Type:         "function",
		FunctionCall: &llms.FunctionCall{Name: name, Arguments: args},
	}
}

func postResource() *resource.Resource {
	return &resource.Resource{
		Name:      "post",
		Namespace: "blog",
		Fields: []*resource.Field{
			{Name: "id", Type: resource.TypeUUID, Public: true, Filterable: true},
			{Name: "title", Type: resource.TypeString, Public: true, Filterable: true, Sortable: true},
			{Name: "secret", Type: resource.TypeString, AllowNil: true},
		},
		PrimaryKey: []string{"id"},
		Operations: []*resource.Operation{
			{Name: "read", Kind: resource.KindQuery},
			{Name: "destroy", Kind: resource.KindDelete},
			{Name: "publish", Kind: resource.KindCustom},
		},
	}
}

func newProvider(t *testing.T) *memory.Provider {
	t.Helper()
	p := memory.New()
	require.NoError(t, p.Register(postResource(),
		memory.Record{"id": firstID, "title": "First", "secret": "s1"},
		memory.Record{"id": uuid.NewString(), "title": "Second", "secret": "s2"},
	))
	return p
}

func newRegistry(t *testing.T, p resource.Provider, opts ...registry.Option) *registry.Registry {
	t.Helper()
	reg, err := registry.Build(context.Background(), p, registry.Selection{AllOperations: true}, opts...)
	require.NoError(t, err)
	require.Equal(t, []string{"read_post", "destroy_post", "publish_post"}, reg.Names())
	return reg
}

// recorder counts the callback events.
type recorder struct {
	lock   sync.Mutex
	events []string
	failed *loop.Failure
}

var _ loop.Callback = (*recorder)(nil)

func (r *recorder) add(ev string) {
	r.lock.Lock()
	defer r.lock.Unlock()
	r.events = append(r.events, ev)
}

func (r *recorder) Events() []string {
	r.lock.Lock()
	defer r.lock.Unlock()
	return append([]string(nil), r.events...)
}

func (r *recorder) OnLoopStart(context.Context, llms.Model, []llms.Message) {
	r.add("loop_start")
}

func (r *recorder) OnLoopEnd(context.Context, llms.Model, *loop.Result) {
	r.add("loop_end")
}

func (r *recorder) OnLoopError(_ context.Context, _ llms.Model, f *loop.Failure) {
	r.lock.Lock()
	r.failed = f
	r.lock.Unlock()
	r.add("loop_error")
}

func (r *recorder) OnLLMCallStart(context.Context, llms.Model, []llms.Message) {
	r.add("llm_start")
}

func (r *recorder) OnLLMCallEnd(context.Context, llms.Model, *llms.ContentResponse) {
	r.add("llm_end")
}

func (r *recorder) OnToolNotFound(_ context.Context, name string) {
	r.add("tool_not_found:" + name)
}

func (r *recorder) OnToolStart(_ context.Context, tool tools.ITool, _ string) {
	r.add("tool_start:" + tool.Name())
}

func (r *recorder) OnToolEnd(_ context.Context, tool tools.ITool, _ string, _ string) {
	r.add("tool_end:" + tool.Name())
}

func (r *recorder) OnToolError(_ context.Context, tool tools.ITool, _ string, _ error) {
	r.add("tool_error:" + tool.Name())
}
