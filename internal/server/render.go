package server

import (
	"bytes"
	"net/http"
)

// renderTemplate executes the template into a buffer first so a template error
// never leaves a half written page behind a success status
func (s *Service) renderTemplate(w http.ResponseWriter, r *http.Request, templateName string, status int, data any) error {
	var buf bytes.Buffer
	if err := s.templates.ExecuteTemplate(&buf, templateName, data); err != nil {
		return err
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	w.WriteHeader(status)
	_, err := buf.WriteTo(w)
	return err
}
