package server

import (
	"errors"
	"fmt"
	"net/http"

	"pubformatter/internal/submission"
	"pubformatter/pkg/types"
)

const multipartMemory = 32 << 20

func (s *Service) handlePostSubmit(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sessionID, err := sessionIDFromContext(ctx)
	if err != nil {
		s.logger.WithError(err).Error("session id not found in context")
		s.internalServerError(w)
		return
	}

	wf := s.registry.Get(sessionID)

	maxBytes := s.config.MaxUploadMB << 20
	tooLarge := fmt.Sprintf("The document must be smaller than %d MB.", s.config.MaxUploadMB)

	// room for the text fields and multipart framing on top of the document
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes+1<<20)
	err = r.ParseMultipartForm(multipartMemory)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			s.renderFormError(w, r, wf, nil, nil, tooLarge, http.StatusRequestEntityTooLarge)
			return
		}
		s.logger.WithError(err).Error("failed to parse multipart form")
		s.renderFormError(w, r, wf, nil, nil, "The form could not be read.", http.StatusBadRequest)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	var form = new(types.SubmissionForm)
	err = decoder.Decode(form, r.PostForm)
	if err != nil {
		s.logger.WithError(err).Error("failed to decode form")
		s.renderFormError(w, r, wf, nil, nil, "The form could not be read.", http.StatusBadRequest)
		return
	}

	file, header, err := r.FormFile("file")
	switch {
	case err == nil:
		defer file.Close()

		form.File, err = submission.ReadUpload(header.Filename, file, maxBytes)
		if err != nil {
			s.logger.WithError(err).WithField("file_name", header.Filename).Warn("rejected upload")
			s.renderFormError(w, r, wf, form, map[string]string{"file": tooLarge}, tooLarge, http.StatusRequestEntityTooLarge)
			return
		}
	case errors.Is(err, http.ErrMissingFile):
		// reported by validateForm
	default:
		s.logger.WithError(err).Error("failed to read uploaded file")
		s.renderFormError(w, r, wf, form, nil, "The document could not be read.", http.StatusBadRequest)
		return
	}

	if fieldErrors := validateForm(form, s.sanitizer); len(fieldErrors) > 0 {
		msg := "Please correct the highlighted fields."
		if doiMsg, ok := fieldErrors["doiNumber"]; ok && len(fieldErrors) == 1 {
			msg = doiMsg
		}
		s.renderFormError(w, r, wf, form, fieldErrors, msg, http.StatusUnprocessableEntity)
		return
	}

	handle, err := wf.Submit(ctx, form)
	if err != nil {
		s.renderSubmitError(w, r, wf, form, err)
		return
	}

	if wf.Policy() == submission.PolicyAuto {
		s.deliver(w, r, wf, handle.ID, s.downloadStartedCookie(r.PostForm.Get("download_marker")))
		return
	}

	s.redirectWithNotice(w, r, "Your formatted document is ready to download.")
}

func (s *Service) renderSubmitError(w http.ResponseWriter, r *http.Request, wf *submission.Workflow, form *types.SubmissionForm, err error) {
	if errors.Is(err, types.ErrSubmissionInFlight) {
		s.renderFormError(w, r, wf, form, nil, "Your document is still being processed.", http.StatusConflict)
		return
	}

	category := types.FailureCategoryOf(err)

	data := s.formPageData(wf, form)
	data.Error = category.Message()
	data.FailureCategory = string(category)

	status := http.StatusInternalServerError
	switch category {
	case types.FailureInvalidDoiFormat:
		status = http.StatusUnprocessableEntity
		data.FieldErrors["doiNumber"] = category.Message()
	case types.FailureBackend, types.FailureTransport:
		status = http.StatusBadGateway
	default:
		s.logger.WithError(err).Error("submission failed unexpectedly")
	}

	if err := s.renderTemplate(w, r, "page.form", status, data); err != nil {
		s.logger.WithError(err).Error("failed to render form page")
		s.internalServerError(w)
	}
}

func (s *Service) renderFormError(w http.ResponseWriter, r *http.Request, wf *submission.Workflow, form *types.SubmissionForm, fieldErrors map[string]string, msg string, status int) {
	data := s.formPageData(wf, form)
	data.Error = msg
	if fieldErrors != nil {
		data.FieldErrors = fieldErrors
	}

	if err := s.renderTemplate(w, r, "page.form", status, data); err != nil {
		s.logger.WithError(err).Error("failed to render form page")
		s.internalServerError(w)
	}
}
