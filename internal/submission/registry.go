package submission

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Factory builds the workflow for a new session
type Factory func(sessionID string) *Workflow

// Registry keeps one Workflow per browser session and tears down sessions that
// have been idle for longer than idleTTL.
type Registry struct {
	factory Factory
	idleTTL time.Duration
	logger  *logrus.Logger

	mu        sync.Mutex
	workflows map[string]*Workflow
}

func NewRegistry(factory Factory, idleTTL time.Duration, logger *logrus.Logger) *Registry {
	return &Registry{
		factory:   factory,
		idleTTL:   idleTTL,
		logger:    logger,
		workflows: make(map[string]*Workflow),
	}
}

// Get returns the workflow for sessionID, creating it on first use
func (r *Registry) Get(sessionID string) *Workflow {
	r.mu.Lock()
	defer r.mu.Unlock()

	wf, ok := r.workflows[sessionID]
	if !ok {
		wf = r.factory(sessionID)
		r.workflows[sessionID] = wf
	}

	return wf
}

// Lookup returns the workflow for sessionID without creating one
func (r *Registry) Lookup(sessionID string) (*Workflow, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	wf, ok := r.workflows[sessionID]
	return wf, ok
}

// Discard closes and forgets the workflow for sessionID
func (r *Registry) Discard(ctx context.Context, sessionID string) {
	r.mu.Lock()
	wf, ok := r.workflows[sessionID]
	delete(r.workflows, sessionID)
	r.mu.Unlock()

	if ok {
		wf.Close(ctx)
	}
}

func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.workflows)
}

// Sweep releases expired handles and discards idle sessions. It returns the
// number of handles released and sessions discarded.
func (r *Registry) Sweep(ctx context.Context, now time.Time) (released, discarded int) {
	r.mu.Lock()
	snapshot := make(map[string]*Workflow, len(r.workflows))
	for id, wf := range r.workflows {
		snapshot[id] = wf
	}
	r.mu.Unlock()

	for id, wf := range snapshot {
		if wf.ReleaseExpired(ctx, now) {
			released++
		}

		if r.idleTTL <= 0 || wf.Busy() || now.Sub(wf.LastUsed()) < r.idleTTL {
			continue
		}

		r.mu.Lock()
		// the session may have been replaced since the snapshot
		if r.workflows[id] == wf {
			delete(r.workflows, id)
		} else {
			wf = nil
		}
		r.mu.Unlock()

		if wf != nil {
			wf.Close(ctx)
			discarded++
		}
	}

	if released > 0 || discarded > 0 {
		r.logger.WithFields(logrus.Fields{
			"released":  released,
			"discarded": discarded,
		}).Info("swept submission sessions")
	}

	return released, discarded
}

// RunSweeper calls Sweep every interval until ctx is done
func (r *Registry) RunSweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			r.Sweep(ctx, now)
		}
	}
}

// Close tears down every session
func (r *Registry) Close(ctx context.Context) {
	r.mu.Lock()
	workflows := r.workflows
	r.workflows = make(map[string]*Workflow)
	r.mu.Unlock()

	for _, wf := range workflows {
		wf.Close(ctx)
	}
}
