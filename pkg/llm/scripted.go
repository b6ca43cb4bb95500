package llm

import (
	"context"
	"sync"

	sserr "github.com/StricklySoft/stricklysoft-analytics/pkg/errors"
	"github.com/StricklySoft/stricklysoft-analytics/pkg/tool"
)

// Scripted is a deterministic [Client] that replays queued responses and
// errors in order, then falls back to an echo of the last user message.
// analyticsd uses it when no provider is configured.
type Scripted struct {
	mu        sync.Mutex
	provider  string
	responses []*Response
	errs      []error
	calls     [][]Message
	pingErr   error
}

// NewScripted returns a client reporting provider as its provider name.
func NewScripted(provider string) *Scripted {
	return &Scripted{provider: provider}
}

// Enqueue appends a response to replay.
func (s *Scripted) Enqueue(resp *Response) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, resp)
	s.errs = append(s.errs, nil)
	return s
}

// EnqueueError appends a failure to replay.
func (s *Scripted) EnqueueError(err error) *Scripted {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.responses = append(s.responses, nil)
	s.errs = append(s.errs, err)
	return s
}

// SetPingError makes Ping fail with err.
func (s *Scripted) SetPingError(err error) {
	s.mu.Lock()
	s.pingErr = err
	s.mu.Unlock()
}

// Calls returns the message lists received so far.
func (s *Scripted) Calls() [][]Message {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([][]Message(nil), s.calls...)
}

func (s *Scripted) Provider() string { return s.provider }

func (s *Scripted) Complete(ctx context.Context, messages []Message) (*Response, error) {
	return s.CompleteWithTools(ctx, messages, nil)
}

func (s *Scripted) CompleteWithTools(ctx context.Context, messages []Message, _ []tool.Spec) (*Response, error) {
	if err := ctx.Err(); err != nil {
		return nil, sserr.FromError(err)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, append([]Message(nil), messages...))

	if len(s.responses) > 0 {
		resp, err := s.responses[0], s.errs[0]
		s.responses, s.errs = s.responses[1:], s.errs[1:]
		if err != nil {
			return nil, err
		}
		out := *resp
		if out.Provider == "" {
			out.Provider = s.provider
		}
		return &out, nil
	}

	var last string
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Role == RoleUser {
			last = messages[i].Content
			break
		}
	}
	tokens := len(last)/4 + 1
	return &Response{
		Content:      last,
		Model:        "scripted",
		Provider:     s.provider,
		FinishReason: "stop",
		Usage:        Usage{PromptTokens: tokens, CompletionTokens: tokens, TotalTokens: 2 * tokens},
	}, nil
}

// Ping reports the configured ping error.
func (s *Scripted) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pingErr
}
