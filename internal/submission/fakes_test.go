package submission

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"
	"time"

	"pubformatter/pkg/types"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
)

type fakeProcessor struct {
	mu       sync.Mutex
	calls    int
	payloads []*types.RequestPayload
	document []byte
	err      error

	// started receives once per call when set; release blocks the call until closed
	started chan struct{}
	release chan struct{}
}

func (p *fakeProcessor) Process(ctx context.Context, payload *types.RequestPayload) ([]byte, error) {
	p.mu.Lock()
	p.calls++
	p.payloads = append(p.payloads, payload)
	started, release := p.started, p.release
	document, err := p.document, p.err
	p.mu.Unlock()

	if started != nil {
		started <- struct{}{}
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, fmt.Errorf("%w: %w", types.ErrTransport, ctx.Err())
		}
	}

	return document, err
}

func (p *fakeProcessor) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

func (p *fakeProcessor) SetResult(document []byte, err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.document, p.err = document, err
}

type memStorage struct {
	mu      sync.Mutex
	objects map[string][]byte
}

func newMemStorage() *memStorage {
	return &memStorage{objects: make(map[string][]byte)}
}

func (s *memStorage) Put(_ context.Context, key string, content []byte, _ string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = append([]byte(nil), content...)
	return nil
}

func (s *memStorage) Open(_ context.Context, key string) (io.ReadCloser, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	content, ok := s.objects[key]
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrHandleNotFound, key)
	}
	return io.NopCloser(bytes.NewReader(content)), nil
}

func (s *memStorage) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.objects, key)
	return nil
}

func (s *memStorage) Keys() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	keys := make([]string, 0, len(s.objects))
	for key := range s.objects {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

type memRecorder struct {
	mu          sync.Mutex
	submissions map[string]types.Submission
	released    []string
}

func newMemRecorder() *memRecorder {
	return &memRecorder{submissions: make(map[string]types.Submission)}
}

func (r *memRecorder) CreateSubmission(_ context.Context, submission *types.Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.submissions[submission.ID] = *submission
	return nil
}

func (r *memRecorder) UpdateSubmission(_ context.Context, submission *types.Submission) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.submissions[submission.ID]; !ok {
		return types.ErrSubmissionNotFound
	}
	r.submissions[submission.ID] = *submission
	return nil
}

func (r *memRecorder) MarkHandleReleased(_ context.Context, handleID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.released = append(r.released, handleID)
	return nil
}

func (r *memRecorder) Submissions() []types.Submission {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]types.Submission, 0, len(r.submissions))
	for _, s := range r.submissions {
		out = append(out, s)
	}
	return out
}

func (r *memRecorder) Released() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.released...)
}

type testClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type harness struct {
	workflow  *Workflow
	processor *fakeProcessor
	storage   *memStorage
	recorder  *memRecorder
	clock     *testClock
	logs      *test.Hook
}

func newHarness(t *testing.T, policy Policy) *harness {
	t.Helper()

	logger, hook := test.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)

	h := &harness{
		processor: &fakeProcessor{document: []byte("generated docx")},
		storage:   newMemStorage(),
		recorder:  newMemRecorder(),
		clock:     &testClock{now: time.Date(2024, 3, 15, 12, 0, 0, 0, time.UTC)},
		logs:      hook,
	}

	h.workflow = New(Config{
		SessionID: "session-1",
		Policy:    policy,
		HandleTTL: time.Hour,
	}, h.processor, h.storage, h.recorder, logger)
	h.workflow.now = h.clock.Now

	return h
}
