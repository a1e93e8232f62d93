package server

import (
	"net/http"
	"net/url"
	"strings"

	"pubformatter/internal/submission"
	"pubformatter/internal/workflow"
	"pubformatter/pkg/types"
)

func (s *Service) handleGetForm(w http.ResponseWriter, r *http.Request) {
	sessionID, err := sessionIDFromContext(r.Context())
	if err != nil {
		s.logger.WithError(err).Error("session id not found in context")
		s.internalServerError(w)
		return
	}

	// only a submission creates a workflow, a plain visit renders idle
	wf, _ := s.registry.Lookup(sessionID)

	data := s.formPageData(wf, nil)
	data.Notice = strings.TrimSpace(r.URL.Query().Get("notice"))
	data.Error = strings.TrimSpace(r.URL.Query().Get("error"))

	err = s.renderTemplate(w, r, "page.form", http.StatusOK, data)
	if err != nil {
		s.logger.WithError(err).Error("failed to render form page")
		s.internalServerError(w)
		return
	}
}

// formPageData builds the form page for the workflow's current state, or an
// idle page when wf is nil. A download link is only issued while a result is
// waiting to be saved.
func (s *Service) formPageData(wf *submission.Workflow, form *types.SubmissionForm) *types.FormPageData {
	data := &types.FormPageData{
		BasePageData: types.BasePageData{Title: "Format Publication"},
		FieldErrors:  make(map[string]string),
		DOIPrefix:    types.DOIPrefix,
		Policy:       string(s.policy),
		UI:           types.UIState{State: workflow.StateIdle.String()},
	}

	if wf != nil {
		data.Policy = string(wf.Policy())
		data.UI = wf.UIState()
	}

	if form != nil {
		data.Form = *form
		data.Form.File = nil
	}

	if handle := data.UI.DownloadReady; handle != nil {
		token, err := s.signDownloadToken(handle)
		if err != nil {
			s.logger.WithError(err).WithField("handle_id", handle.ID).Error("failed to sign download token")
		} else {
			data.DownloadURL = "/download/" + token
		}
	}

	return data
}

func (s *Service) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (s *Service) redirectWithNotice(w http.ResponseWriter, r *http.Request, notice string) {
	v := url.Values{}
	v.Set("notice", notice)
	http.Redirect(w, r, "/?"+v.Encode(), http.StatusSeeOther)
}

func (s *Service) internalServerError(w http.ResponseWriter) {
	http.Error(w, "internal server error", http.StatusInternalServerError)
}
