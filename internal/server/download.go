package server

import (
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"

	"pubformatter/internal"
	"pubformatter/internal/submission"
	"pubformatter/pkg/types"

	"github.com/lestrrat-go/jwx/v3/jwa"
	"github.com/lestrrat-go/jwx/v3/jwt"
)

const claimSessionID = "sid"

var errInvalidDownloadToken = errors.New("invalid download token")

var downloadMarkerReg = regexp.MustCompile(`^[0-9A-Za-z]{1,64}$`)

// signDownloadToken issues an HS256 token naming the handle and the session
// that owns it. The token expires with the handle.
func (s *Service) signDownloadToken(handle *types.DownloadHandle) (string, error) {
	token, err := jwt.NewBuilder().
		Subject(handle.ID).
		Claim(claimSessionID, handle.SessionID).
		IssuedAt(handle.CreatedAt).
		Expiration(handle.ExpiresAt).
		Build()
	if err != nil {
		return "", fmt.Errorf("build download token: %w", err)
	}

	signed, err := jwt.Sign(token, jwt.WithKey(jwa.HS256(), s.tokenKey))
	if err != nil {
		return "", fmt.Errorf("sign download token: %w", err)
	}

	return string(signed), nil
}

// parseDownloadToken verifies the signature and returns the handle and session
// ids. Expiry is left to the workflow, which answers with ErrHandleExpired.
func (s *Service) parseDownloadToken(raw string) (handleID, sessionID string, err error) {
	token, err := jwt.Parse(
		[]byte(raw),
		jwt.WithKey(jwa.HS256(), s.tokenKey),
		jwt.WithValidate(false),
	)
	if err != nil {
		return "", "", fmt.Errorf("%w: %w", errInvalidDownloadToken, err)
	}

	handleID, ok := token.Subject()
	if !ok || handleID == "" {
		return "", "", fmt.Errorf("%w: missing subject", errInvalidDownloadToken)
	}

	if err := token.Get(claimSessionID, &sessionID); err != nil || sessionID == "" {
		return "", "", fmt.Errorf("%w: missing session", errInvalidDownloadToken)
	}

	return handleID, sessionID, nil
}

func (s *Service) handleGetDownload(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	sessionID, err := sessionIDFromContext(ctx)
	if err != nil {
		s.logger.WithError(err).Error("session id not found in context")
		s.internalServerError(w)
		return
	}

	handleID, tokenSessionID, err := s.parseDownloadToken(r.PathValue("token"))
	if err != nil {
		s.logger.WithError(err).Debug("rejected download token")
		http.NotFound(w, r)
		return
	}

	// links only work in the session that requested the document
	if tokenSessionID != sessionID {
		http.NotFound(w, r)
		return
	}

	wf, ok := s.registry.Lookup(sessionID)
	if !ok {
		http.NotFound(w, r)
		return
	}

	s.deliver(w, r, wf, handleID, nil)
}

// deliver streams a handle as an attachment. Headers are only written once
// content is available so a failed lookup can still answer with an error
// status. A non-nil started cookie is sent along with the attachment.
func (s *Service) deliver(w http.ResponseWriter, r *http.Request, wf *submission.Workflow, handleID string, started *http.Cookie) {
	aw := &attachmentWriter{w: w, started: started}
	if current := wf.Current(); current != nil && current.ID == handleID {
		aw.handle = current
	}

	handle, err := wf.Download(r.Context(), handleID, aw)
	switch {
	case err == nil:
		aw.handle = handle
		aw.writeHeader()
	case errors.Is(err, types.ErrHandleExpired):
		s.renderFormError(w, r, wf, nil, nil, "The download link has expired. Submit the form again.", http.StatusGone)
	case errors.Is(err, types.ErrHandleNotFound) && !aw.wrote:
		http.NotFound(w, r)
	case !aw.wrote:
		s.logger.WithError(err).WithField("handle_id", handleID).Error("failed to deliver document")
		s.internalServerError(w)
	default:
		// the response is already committed, nothing left to tell the client
		s.logger.WithError(err).WithField("handle_id", handleID).Error("document delivery interrupted")
	}
}

type attachmentWriter struct {
	w       http.ResponseWriter
	handle  *types.DownloadHandle
	started *http.Cookie
	wrote   bool
}

func (a *attachmentWriter) Write(p []byte) (int, error) {
	a.writeHeader()
	return a.w.Write(p)
}

func (a *attachmentWriter) writeHeader() {
	if a.wrote {
		return
	}
	a.wrote = true

	h := a.w.Header()
	filename := types.DownloadFilename
	contentType := types.DocxContentType
	if a.handle != nil {
		filename = a.handle.Filename
		contentType = a.handle.ContentType
		h.Set("Content-Length", strconv.FormatInt(a.handle.Size, 10))
	}

	h.Set("Content-Type", contentType)
	h.Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, filename))
	h.Set("Cache-Control", "no-store")
	h.Set("X-Content-Type-Options", "nosniff")
	if a.started != nil {
		http.SetCookie(a.w, a.started)
	}
	a.w.WriteHeader(http.StatusOK)
}

// downloadStartedCookie echoes the marker the form script generated for this
// submit. The script polls for it because a saved attachment never reloads
// the page. Markers that are not short alphanumerics are ignored.
func (s *Service) downloadStartedCookie(marker string) *http.Cookie {
	if !downloadMarkerReg.MatchString(marker) {
		return nil
	}

	return &http.Cookie{
		Name:     internal.COOKIE_DOWNLOAD_NAME,
		Value:    marker,
		Path:     "/",
		MaxAge:   60,
		Secure:   s.config.Environment == "production",
		SameSite: http.SameSiteLaxMode,
	}
}

func (s *Service) handlePostReset(w http.ResponseWriter, r *http.Request) {
	sessionID, err := sessionIDFromContext(r.Context())
	if err != nil {
		s.logger.WithError(err).Error("session id not found in context")
		s.internalServerError(w)
		return
	}

	s.registry.Discard(r.Context(), sessionID)

	s.redirectWithNotice(w, r, "The form has been reset.")
}
