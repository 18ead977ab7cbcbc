package generation

import (
	"context"
	"sync"
	"time"

	"github.com/statline-ai/statline/pkg/models"
	"github.com/statline-ai/statline/pkg/provider"
)

// step scripts one provider call.
type step struct {
	text      string
	chunks    []string
	usage     *models.Usage
	err       error
	streamErr error
	block     bool
	delay     time.Duration
}

// scripted replays steps in order, repeating the last one.
type scripted struct {
	name  string
	mu    sync.Mutex
	calls int
	steps []step
	reqs  []provider.Request
}

func (s *scripted) Name() string { return s.name }

func (s *scripted) Generate(ctx context.Context, req provider.Request) (provider.Response, error) {
	s.mu.Lock()
	st := s.steps[min(s.calls, len(s.steps)-1)]
	s.calls++
	s.reqs = append(s.reqs, req)
	s.mu.Unlock()

	if st.delay > 0 {
		select {
		case <-time.After(st.delay):
		case <-ctx.Done():
			return nil, provider.Classify(ctx.Err(), 0)
		}
	}
	if st.err != nil {
		return nil, st.err
	}
	if req.Stream && (st.chunks != nil || st.streamErr != nil || st.block) {
		return &provider.Chunked{Stream: &fakeStream{ctx: ctx, step: st}}, nil
	}
	return &provider.Complete{Text: st.text, Usage: st.usage}, nil
}

func (s *scripted) callCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

type fakeStream struct {
	ctx    context.Context
	step   step
	i      int
	err    error
	closed bool
}

func (f *fakeStream) Next() bool {
	if f.i < len(f.step.chunks) {
		f.i++
		return true
	}
	if f.step.block {
		<-f.ctx.Done()
		f.err = provider.Classify(f.ctx.Err(), 0)
		return false
	}
	f.err = f.step.streamErr
	return false
}

func (f *fakeStream) Text() string {
	if f.i == 0 || f.i > len(f.step.chunks) {
		return ""
	}
	return f.step.chunks[f.i-1]
}

func (f *fakeStream) Usage() *models.Usage { return f.step.usage }
func (f *fakeStream) Err() error           { return f.err }
func (f *fakeStream) Close() error {
	f.closed = true
	return nil
}

type fakeBudget struct{ err error }

func (b fakeBudget) Check(context.Context, string) error { return b.err }
