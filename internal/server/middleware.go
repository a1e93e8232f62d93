package server

import (
	"context"
	"net/http"
	"strings"
	"time"

	"pubformatter/internal"
	"pubformatter/internal/utils"

	"github.com/sirupsen/logrus"
)

// Context key types to avoid collisions
type contextKey string

const (
	contextKeySessionID contextKey = "session_id"
)

type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

func (s *Service) LoggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		started := time.Now()
		rw := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(rw, r)

		s.logger.WithFields(logrus.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      rw.statusCode,
			"duration_ms": time.Since(started).Milliseconds(),
		}).Info("http request")
	})
}

// WithSession makes sure every request carries a form session id, issuing a
// new encrypted session cookie when the request has none or an invalid one
func (s *Service) WithSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var sessionID string

		cookie, err := r.Cookie(internal.COOKIE_SESSION_NAME)
		if err == nil {
			err = s.cookie.Decode(internal.COOKIE_SESSION_NAME, cookie.Value, &sessionID)
			if err != nil || !utils.IsNanoID(sessionID) {
				s.logger.WithError(err).Debug("discarding invalid session cookie")
				sessionID = ""
			}
		}

		if sessionID == "" {
			sessionID = utils.NanoID()

			encoded, err := s.cookie.Encode(internal.COOKIE_SESSION_NAME, sessionID)
			if err != nil {
				s.logger.WithError(err).Error("failed to encode session cookie")
				s.internalServerError(w)
				return
			}

			http.SetCookie(w, &http.Cookie{
				Name:     internal.COOKIE_SESSION_NAME,
				Value:    encoded,
				HttpOnly: true,
				Secure:   s.config.Environment == "production",
				SameSite: http.SameSiteLaxMode,
				Path:     "/",
				MaxAge:   s.config.SessionMaxAgeSec,
			})

			s.logger.WithField("session_id", sessionID).Debug("issued new session")
		}

		ctx := context.WithValue(r.Context(), contextKeySessionID, sessionID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (s *Service) StripTrailingSlash(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := r.URL.Path

		// Only strip if path is not root and has trailing slash
		if path != "/" && strings.HasSuffix(path, "/") {
			newURL := *r.URL
			newURL.Path = strings.TrimSuffix(path, "/")

			http.Redirect(w, r, newURL.String(), http.StatusMovedPermanently)
			return
		}

		next.ServeHTTP(w, r)
	})
}
