package submission

import (
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"slices"
	"sync"
	"time"

	"pubformatter/internal/utils"
	"pubformatter/internal/workflow"
	"pubformatter/pkg/types"

	"github.com/sirupsen/logrus"
)

const DefaultHandleTTL = time.Hour

var errWorkflowClosed = errors.New("workflow closed")

type Config struct {
	SessionID string
	Policy    Policy
	HandleTTL time.Duration
}

// Workflow drives the submissions of one form instance. At most one request
// to the processing service is outstanding per Workflow; the generated
// document is held behind a single download handle that is released when it
// is superseded, delivered (auto policy), expired or the workflow is closed.
type Workflow struct {
	sessionID string
	policy    Policy
	handleTTL time.Duration

	processor Processor
	storage   Storage
	recorder  Recorder
	logger    *logrus.Logger

	now   func() time.Time
	newID func() string

	mu       sync.Mutex
	machine  workflow.StateMachine
	current  *types.DownloadHandle
	attempt  *types.Submission
	lastUsed time.Time
	closed   bool
}

func New(config Config, processor Processor, storage Storage, recorder Recorder, logger *logrus.Logger) *Workflow {
	if config.Policy == "" {
		config.Policy = PolicyButton
	}
	if config.HandleTTL <= 0 {
		config.HandleTTL = DefaultHandleTTL
	}
	if recorder == nil {
		recorder = NopRecorder{}
	}

	return &Workflow{
		sessionID: config.SessionID,
		policy:    config.Policy,
		handleTTL: config.HandleTTL,
		processor: processor,
		storage:   storage,
		recorder:  recorder,
		logger:    logger,
		now:       time.Now,
		newID:     utils.NanoID,
		machine:   newMachine(config.Policy),
		lastUsed:  time.Now(),
	}
}

func (w *Workflow) Policy() Policy {
	return w.policy
}

// Submit validates the form, sends it to the processing service and stores
// the generated document behind a new download handle. Calling Submit while a
// previous call is still in flight returns types.ErrSubmissionInFlight
// without dispatching anything.
func (w *Workflow) Submit(ctx context.Context, form *types.SubmissionForm) (*types.DownloadHandle, error) {
	previous, err := w.begin(ctx)
	if err != nil {
		return nil, err
	}
	w.releaseHandle(ctx, previous)

	entry := w.logger.WithField("session_id", w.sessionID)

	if form == nil {
		w.fire(ctx, workflow.TriggerReject, workflow.TriggerReset)
		return nil, errors.New("form is nil")
	}

	suffix, err := Validate(form.DOINumber)
	if err != nil {
		w.fire(ctx, workflow.TriggerReject, workflow.TriggerReset)
		entry.WithField("doi_number", form.DOINumber).Info("rejected submission with invalid doi")
		return nil, err
	}

	doi := suffix.Compose()
	payload, err := BuildPayload(form, doi)
	if err != nil {
		w.fire(ctx, workflow.TriggerReject, workflow.TriggerReset)
		return nil, fmt.Errorf("build payload: %w", err)
	}

	record := &types.Submission{
		ID:             w.newID(),
		SessionID:      w.sessionID,
		JournalName:    form.JournalName,
		AuthorName:     form.AuthorName,
		Email:          form.Email,
		DOI:            string(doi),
		SourceFileName: form.File.Name,
		Status:         types.SubmissionStatusSubmitting,
		CreatedAt:      w.now(),
	}
	w.accept(ctx, record)

	if err := w.recorder.CreateSubmission(context.WithoutCancel(ctx), record); err != nil {
		entry.WithError(err).Error("failed to record submission")
	}

	entry.WithFields(logrus.Fields{
		"submission_id": record.ID,
		"doi":           doi,
		"payload_bytes": len(payload.Body),
	}).Info("sending document to processing service")

	document, err := w.processor.Process(ctx, payload)
	if err != nil {
		w.fail(ctx, record, err)
		return nil, err
	}

	handle, err := w.PresentResult(ctx, document)
	if err != nil {
		w.fail(ctx, record, err)
		return nil, err
	}

	return handle, nil
}

// Download copies the content behind handleID to dst. Under the auto policy
// the first delivery releases the handle and returns the workflow to idle;
// under the button policy the handle stays usable until it expires or is
// superseded.
func (w *Workflow) Download(ctx context.Context, handleID string, dst io.Writer) (*types.DownloadHandle, error) {
	w.mu.Lock()
	handle := w.current
	if handle == nil || handle.ID != handleID {
		w.mu.Unlock()
		return nil, types.ErrHandleNotFound
	}

	now := w.now()
	if handle.Expired(now) {
		w.mu.Unlock()
		w.releaseCurrent(ctx, handle)
		return nil, types.ErrHandleExpired
	}

	deliver := w.machine.State() == workflow.StateSucceeded
	if !deliver {
		if err := w.machine.Fire(ctx, workflow.TriggerDownload); err != nil {
			w.logger.WithError(err).Error("failed to record download transition")
		}
	}
	w.lastUsed = now
	w.mu.Unlock()

	if deliver {
		defer w.releaseCurrent(ctx, handle)
	}

	rc, err := w.storage.Open(ctx, handle.StorageKey)
	if err != nil {
		return nil, fmt.Errorf("open handle %s: %w", handle.ID, err)
	}
	defer rc.Close()

	if _, err := io.Copy(dst, rc); err != nil {
		return nil, fmt.Errorf("copy handle %s: %w", handle.ID, err)
	}

	return handle, nil
}

// Release drops the current download handle, if any, and returns a resting
// workflow to idle.
func (w *Workflow) Release(ctx context.Context) {
	w.releaseCurrent(ctx, nil)
}

// Close releases the handle and makes any in flight result be discarded as
// soon as it arrives.
func (w *Workflow) Close(ctx context.Context) {
	w.mu.Lock()
	w.closed = true
	w.mu.Unlock()

	w.Release(ctx)
}

// ReleaseExpired releases the current handle if it expired before now
func (w *Workflow) ReleaseExpired(ctx context.Context, now time.Time) bool {
	w.mu.Lock()
	handle := w.current
	w.mu.Unlock()

	if handle == nil || !handle.Expired(now) {
		return false
	}

	return w.releaseCurrent(ctx, handle)
}

func (w *Workflow) UIState() types.UIState {
	w.mu.Lock()
	defer w.mu.Unlock()

	state := w.machine.State()
	ui := types.UIState{
		State:    state.String(),
		Loading:  state == workflow.StateSubmitting,
		CanReset: slices.Contains(w.machine.PermittedTriggers(), workflow.TriggerReset),
	}

	if state == workflow.StateAwaitingDownload && w.current != nil {
		handle := *w.current
		ui.DownloadReady = &handle
	}

	return ui
}

// Current returns a copy of the current download handle, if any
func (w *Workflow) Current() *types.DownloadHandle {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.current == nil {
		return nil
	}
	handle := *w.current
	return &handle
}

// Busy reports whether a submission is between validation and delivery
func (w *Workflow) Busy() bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch w.machine.State() {
	case workflow.StateValidating, workflow.StateSubmitting, workflow.StateSucceeded:
		return true
	}
	return false
}

func (w *Workflow) LastUsed() time.Time {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastUsed
}

func (w *Workflow) begin(ctx context.Context) (*types.DownloadHandle, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.lastUsed = w.now()

	if w.closed {
		return nil, errWorkflowClosed
	}

	if !w.machine.CanFire(workflow.TriggerSubmit) {
		return nil, types.ErrSubmissionInFlight
	}

	if err := w.machine.Fire(ctx, workflow.TriggerSubmit); err != nil {
		return nil, err
	}

	// a new attempt hides the previous result
	previous := w.current
	w.current = nil

	return previous, nil
}

// PresentResult stores a generated document under a fresh download handle and
// moves the workflow on according to its policy. It is only valid while a
// submission is in flight.
func (w *Workflow) PresentResult(ctx context.Context, document []byte) (*types.DownloadHandle, error) {
	w.mu.Lock()
	ready := w.machine.CanFire(workflow.TriggerSucceed)
	record := w.attempt
	w.mu.Unlock()

	if !ready {
		return nil, fmt.Errorf("present result: %w", workflow.ErrInvalidTransition)
	}

	now := w.now()
	handleID := w.newID()

	handle := &types.DownloadHandle{
		ID:          handleID,
		SessionID:   w.sessionID,
		StorageKey:  path.Join(w.sessionID, handleID, types.DownloadFilename),
		Filename:    types.DownloadFilename,
		ContentType: types.DocxContentType,
		Size:        int64(len(document)),
		CreatedAt:   now,
		ExpiresAt:   now.Add(w.handleTTL),
	}

	if err := w.storage.Put(ctx, handle.StorageKey, document, handle.ContentType); err != nil {
		return nil, fmt.Errorf("store generated document: %w", err)
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.releaseHandle(ctx, handle)
		return nil, errWorkflowClosed
	}

	err := w.machine.Fire(ctx, workflow.TriggerSucceed)
	if err == nil && w.policy == PolicyButton {
		err = w.machine.Fire(ctx, workflow.TriggerAwait)
	}
	w.current = handle
	w.mu.Unlock()

	if err != nil {
		w.logger.WithError(err).Error("failed to transition after successful submission")
	}

	entry := w.logger.WithFields(logrus.Fields{
		"session_id": w.sessionID,
		"handle_id":  handle.ID,
	})

	if record != nil {
		record.Status = types.SubmissionStatusSucceeded
		record.HandleID = utils.StringPtr(handle.ID)
		record.StorageKey = utils.StringPtr(handle.StorageKey)
		record.DocumentBytes = utils.Int64Ptr(handle.Size)
		record.CompletedAt = utils.TimePtr(now)
		record.HandleExpiresAt = utils.TimePtr(handle.ExpiresAt)
		if err := w.recorder.UpdateSubmission(context.WithoutCancel(ctx), record); err != nil {
			entry.WithError(err).WithField("submission_id", record.ID).Error("failed to record submission outcome")
		}
		entry = entry.WithField("submission_id", record.ID)
	}

	entry.WithFields(logrus.Fields{
		"bytes":  handle.Size,
		"policy": w.policy,
	}).Info("generated document ready")

	return handle, nil
}

func (w *Workflow) fail(ctx context.Context, record *types.Submission, cause error) {
	w.fire(ctx, workflow.TriggerFail, workflow.TriggerReset)

	category := types.FailureCategoryOf(cause)

	record.Status = types.SubmissionStatusFailed
	record.CompletedAt = utils.TimePtr(w.now())
	if category != "" {
		record.FailureCategory = utils.StringPtr(string(category))
	}
	if code := types.StatusCodeOf(cause); code != 0 {
		record.StatusCode = utils.IntPtr(code)
	}
	if err := w.recorder.UpdateSubmission(context.WithoutCancel(ctx), record); err != nil {
		w.logger.WithError(err).WithField("submission_id", record.ID).Error("failed to record submission outcome")
	}

	w.logger.WithError(cause).WithFields(logrus.Fields{
		"session_id":       w.sessionID,
		"submission_id":    record.ID,
		"failure_category": category,
	}).Warn("submission failed")
}

// accept moves a validated submission into flight and remembers its record
func (w *Workflow) accept(ctx context.Context, record *types.Submission) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if err := w.machine.Fire(ctx, workflow.TriggerAccept); err != nil {
		w.logger.WithError(err).Error("unexpected workflow transition")
	}
	w.attempt = record
}

// fire runs the triggers in order under the lock and stops at the first error
func (w *Workflow) fire(ctx context.Context, triggers ...workflow.Trigger) {
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, trigger := range triggers {
		if err := w.machine.Fire(ctx, trigger); err != nil {
			w.logger.WithError(err).WithField("trigger", trigger).Error("unexpected workflow transition")
			return
		}
	}
}

// releaseCurrent releases the current handle when it is match, or any current
// handle when match is nil. It reports whether a handle was released.
func (w *Workflow) releaseCurrent(ctx context.Context, match *types.DownloadHandle) bool {
	w.mu.Lock()
	handle := w.current
	if handle == nil || (match != nil && handle != match) {
		w.mu.Unlock()
		return false
	}
	w.current = nil

	switch w.machine.State() {
	case workflow.StateSucceeded:
		// deliver is guarded by the auto policy
		err := w.machine.Fire(ctx, workflow.TriggerDeliver)
		if errors.Is(err, workflow.ErrGuardFailed) {
			err = w.machine.Fire(ctx, workflow.TriggerReset)
		}
		if err != nil {
			w.logger.WithError(err).Error("unexpected workflow transition")
		}
	case workflow.StateAwaitingDownload:
		_ = w.machine.Fire(ctx, workflow.TriggerReset)
	}
	w.mu.Unlock()

	w.releaseHandle(ctx, handle)
	return true
}

func (w *Workflow) releaseHandle(ctx context.Context, handle *types.DownloadHandle) {
	if handle == nil {
		return
	}

	ctx = context.WithoutCancel(ctx)
	entry := w.logger.WithFields(logrus.Fields{
		"session_id": w.sessionID,
		"handle_id":  handle.ID,
	})

	if err := w.storage.Delete(ctx, handle.StorageKey); err != nil {
		entry.WithError(err).Error("failed to delete download handle content")
	}

	if err := w.recorder.MarkHandleReleased(ctx, handle.ID); err != nil {
		entry.WithError(err).Error("failed to record handle release")
	}

	entry.Debug("released download handle")
}
