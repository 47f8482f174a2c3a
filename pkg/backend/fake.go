package backend

import (
	"context"
	"io"
	"sync"

	"github.com/go-go-golems/docagent/pkg/conversation"
	"github.com/pkg/errors"
)

// ScriptedChat is an in-memory ChatBackend that replays canned responses.
// It records every request it receives.
type ScriptedChat struct {
	Caps      Capabilities
	Responses []*ChatResponse
	// Err, when set, is returned by Complete instead of a response.
	Err error
	// PingErrs are returned by successive Ping calls; nil afterwards.
	PingErrs []error

	mu       sync.Mutex
	requests []*ChatRequest
	pings    int
}

var _ ChatBackend = (*ScriptedChat)(nil)

func (s *ScriptedChat) Name() string { return "scripted" }

func (s *ScriptedChat) Capabilities() Capabilities { return s.Caps }

func (s *ScriptedChat) Complete(ctx context.Context, req *ChatRequest) (*ChatResponse, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *req
	cp.Messages = append([]conversation.Turn(nil), req.Messages...)
	s.requests = append(s.requests, &cp)
	if s.Err != nil {
		return nil, s.Err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if len(s.Responses) == 0 {
		return nil, errors.New("no scripted response left")
	}
	resp := s.Responses[0]
	s.Responses = s.Responses[1:]
	return resp, nil
}

func (s *ScriptedChat) Ping(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pings++
	if len(s.PingErrs) == 0 {
		return nil
	}
	err := s.PingErrs[0]
	s.PingErrs = s.PingErrs[1:]
	return err
}

func (s *ScriptedChat) Requests() []*ChatRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*ChatRequest(nil), s.requests...)
}

func (s *ScriptedChat) Pings() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pings
}

// SliceStream is an EventStream over a fixed list of events.
type SliceStream struct {
	Events []Event
	closed bool
}

func (s *SliceStream) Next(ctx context.Context) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}
	if s.closed || len(s.Events) == 0 {
		return Event{}, io.EOF
	}
	e := s.Events[0]
	s.Events = s.Events[1:]
	return e, nil
}

func (s *SliceStream) Close() error {
	s.closed = true
	return nil
}
