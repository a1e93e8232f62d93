package server

import (
	"context"
	"embed"
	"encoding/base64"
	"errors"
	"fmt"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"pubformatter/internal/submission"
	"pubformatter/pkg/types"

	"github.com/alexedwards/flow"
	"github.com/go-playground/form/v4"
	"github.com/gorilla/securecookie"
	"github.com/microcosm-cc/bluemonday"
	"github.com/sirupsen/logrus"
)

//go:embed templates static
var uiFS embed.FS
var decoder = form.NewDecoder()

type Service struct {
	logger    *logrus.Logger
	config    *types.Config
	templates *template.Template

	registry *submission.Registry
	policy   submission.Policy

	cookie    *securecookie.SecureCookie
	tokenKey  []byte
	sanitizer *bluemonday.Policy

	server *http.Server
}

func New(
	config *types.Config,
	logger *logrus.Logger,
	registry *submission.Registry,
) (*Service, error) {
	mux := flow.New()

	policy, err := submission.ParsePolicy(config.DownloadPolicy)
	if err != nil {
		return nil, err
	}

	hashKey := decodeKey(logger, "COOKIE_HASH_KEY", config.CookieHashKey, 32)
	blockKey := decodeKey(logger, "COOKIE_BLOCK_KEY", config.CookieBlockKey, 32)

	cookie := securecookie.New(hashKey, blockKey)
	cookie.MaxAge(config.SessionMaxAgeSec)

	s := &Service{
		logger:    logger,
		config:    config,
		registry:  registry,
		policy:    policy,
		cookie:    cookie,
		tokenKey:  decodeKey(logger, "DOWNLOAD_TOKEN_KEY", config.DownloadTokenKey, 32),
		sanitizer: bluemonday.StrictPolicy(),
		server: &http.Server{
			Addr:              fmt.Sprintf(":%d", config.ServerPort),
			Handler:           mux,
			ReadTimeout:       time.Duration(config.ReadTimeoutSec) * time.Second,
			ReadHeaderTimeout: time.Duration(config.ReadTimeoutSec) * time.Second,
			WriteTimeout:      time.Duration(config.WriteTimeoutSec) * time.Second,
			MaxHeaderBytes:    1 << 20,
		},
	}

	templates, err := loadTemplates()
	if err != nil {
		return nil, err
	}
	s.templates = templates

	s.buildRouter(mux)

	return s, nil
}

func (s *Service) Start() error {
	return s.server.ListenAndServe()
}

func (s *Service) Stop(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Service) Handler() http.Handler {
	return s.server.Handler
}

func (s *Service) buildRouter(r *flow.Mux) {
	r.Use(s.StripTrailingSlash)
	r.Use(s.LoggingMiddleware)

	r.HandleFunc("/healthz", s.handleHealth, http.MethodGet)

	r.Group(func(r *flow.Mux) {
		r.Use(s.WithSession)

		r.HandleFunc("/", s.handleGetForm, http.MethodGet)
		r.HandleFunc("/submit", s.handlePostSubmit, http.MethodPost)
		r.HandleFunc("/download/:token", s.handleGetDownload, http.MethodGet)
		r.HandleFunc("/reset", s.handlePostReset, http.MethodPost)
	})

	staticRoot, err := fs.Sub(uiFS, "static")
	if err != nil {
		s.logger.WithError(err).Fatal("failed to mount static assets")
	}
	r.Handle("/static/...", http.StripPrefix("/static/", http.FileServer(http.FS(staticRoot))), http.MethodGet)
}

func loadTemplates() (*template.Template, error) {
	funcMap := template.FuncMap{
		// journal_name -> Journal Name
		"label": func(name string) string {
			words := strings.Fields(strings.ReplaceAll(name, "_", " "))
			for i, w := range words {
				words[i] = strings.ToUpper(w[:1]) + w[1:]
			}
			return strings.Join(words, " ")
		},
		"dict": func(pairs ...any) (map[string]any, error) {
			if len(pairs)%2 != 0 {
				return nil, errors.New("dict requires key value pairs")
			}
			m := make(map[string]any, len(pairs)/2)
			for i := 0; i < len(pairs); i += 2 {
				key, ok := pairs[i].(string)
				if !ok {
					return nil, fmt.Errorf("dict key %v is not a string", pairs[i])
				}
				m[key] = pairs[i+1]
			}
			return m, nil
		},
	}

	t := template.New("").Funcs(funcMap)
	err := fs.WalkDir(uiFS, "templates", func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.HasSuffix(path, ".html") {
			return nil
		}

		data, err := fs.ReadFile(uiFS, path)
		if err != nil {
			return fmt.Errorf("read template %s: %w", path, err)
		}

		if _, err := t.Parse(string(data)); err != nil {
			return fmt.Errorf("parse template %s: %w", path, err)
		}

		return nil
	})
	if err != nil {
		return nil, err
	}

	return t, nil
}

// decodeKey decodes a base64 key from config. Without one a random key is
// generated, which only suits a single instance: sessions and download links
// do not survive a restart.
func decodeKey(logger *logrus.Logger, name, encoded string, size int) []byte {
	if encoded != "" {
		key, err := base64.StdEncoding.DecodeString(encoded)
		if err == nil && len(key) > 0 {
			return key
		}
		logger.WithError(err).WithField("key", name).Warn("invalid base64 key, generating a random one")
	} else {
		logger.WithField("key", name).Warn("key not set, generating a random one")
	}

	return securecookie.GenerateRandomKey(size)
}

func sessionIDFromContext(ctx context.Context) (string, error) {
	sessionID, ok := ctx.Value(contextKeySessionID).(string)
	if !ok || sessionID == "" {
		return "", fmt.Errorf("session id not found in context")
	}
	return sessionID, nil
}
