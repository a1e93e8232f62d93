package submission

import (
	"context"
	"io"
	"time"

	"pubformatter/pkg/types"
)

// Processor sends an encoded payload to the document processing service and
// returns the generated document. Failures match types.ErrBackend or
// types.ErrTransport.
type Processor interface {
	Process(ctx context.Context, payload *types.RequestPayload) ([]byte, error)
}

// ProcessorFunc adapts a function to the Processor interface
type ProcessorFunc func(ctx context.Context, payload *types.RequestPayload) ([]byte, error)

func (f ProcessorFunc) Process(ctx context.Context, payload *types.RequestPayload) ([]byte, error) {
	return f(ctx, payload)
}

// Storage holds the content behind download handles
type Storage interface {
	Put(ctx context.Context, key string, content []byte, contentType string) error
	Open(ctx context.Context, key string) (io.ReadCloser, error)
	Delete(ctx context.Context, key string) error
}

// Recorder persists submission attempts
type Recorder interface {
	CreateSubmission(ctx context.Context, submission *types.Submission) error
	UpdateSubmission(ctx context.Context, submission *types.Submission) error
	MarkHandleReleased(ctx context.Context, handleID string) error
}

// ExpiredHandleLister finds handles that outlived their expiry without being
// released
type ExpiredHandleLister interface {
	ExpiredHandles(ctx context.Context, before time.Time) ([]*types.Submission, error)
	MarkHandleReleased(ctx context.Context, handleID string) error
}

// NopRecorder discards every record. The CLI uses it.
type NopRecorder struct{}

func (NopRecorder) CreateSubmission(context.Context, *types.Submission) error { return nil }
func (NopRecorder) UpdateSubmission(context.Context, *types.Submission) error { return nil }
func (NopRecorder) MarkHandleReleased(context.Context, string) error          { return nil }
