package loop

import (
	"context"

	"github.com/effective-security/actionai/pkg/llms"
	"github.com/effective-security/actionai/tools"
)

// Callback receives the events of a loop run.
// Tool events may be delivered concurrently when parallel tools are enabled.
type Callback interface {
	tools.Callback

	OnLoopStart(ctx context.Context, model llms.Model, history []llms.Message)
	OnLoopEnd(ctx context.Context, model llms.Model, res *Result)
	OnLoopError(ctx context.Context, model llms.Model, failure *Failure)

	OnLLMCallStart(ctx context.Context, model llms.Model, messages []llms.Message)
	OnLLMCallEnd(ctx context.Context, model llms.Model, resp *llms.ContentResponse)

	OnToolNotFound(ctx context.Context, name string)
}
