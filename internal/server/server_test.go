package server

import (
	"bytes"
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"testing"
	"time"

	"pubformatter/internal"
	"pubformatter/internal/storage"
	"pubformatter/internal/submission"
	"pubformatter/pkg/types"

	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var downloadLinkReg = regexp.MustCompile(`href="(/download/[^"]+)"`)

type countingProcessor struct {
	mu       sync.Mutex
	calls    int
	payloads []*types.RequestPayload
	document []byte
	err      error

	// when set, each call signals started and waits for release
	started chan struct{}
	release chan struct{}
}

func (p *countingProcessor) Process(ctx context.Context, payload *types.RequestPayload) ([]byte, error) {
	p.mu.Lock()
	p.calls++
	p.payloads = append(p.payloads, payload)
	document, err := p.document, p.err
	started, release := p.started, p.release
	p.mu.Unlock()

	if release != nil {
		started <- struct{}{}
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	return document, err
}

// Block makes the following calls wait until release is closed
func (p *countingProcessor) Block() (started <-chan struct{}, release chan<- struct{}) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.started = make(chan struct{}, 1)
	p.release = make(chan struct{})
	return p.started, p.release
}

func (p *countingProcessor) Payloads() []*types.RequestPayload {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*types.RequestPayload(nil), p.payloads...)
}

func (p *countingProcessor) Fail(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *countingProcessor) Calls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

type testEnv struct {
	server    *httptest.Server
	client    *http.Client
	processor *countingProcessor
	registry  *submission.Registry
}

func newTestEnv(t *testing.T, policy submission.Policy) *testEnv {
	t.Helper()

	logger, _ := test.NewNullLogger()
	processor := &countingProcessor{document: []byte("generated docx")}
	handles := storage.NewLocalStorage(t.TempDir(), logger)

	config := &types.Config{
		Environment:      "test",
		DownloadPolicy:   string(policy),
		MaxUploadMB:      1,
		SessionMaxAgeSec: 3600,
	}

	registry := submission.NewRegistry(func(sessionID string) *submission.Workflow {
		return submission.New(submission.Config{
			SessionID: sessionID,
			Policy:    policy,
			HandleTTL: time.Hour,
		}, processor, handles, submission.NopRecorder{}, logger)
	}, time.Hour, logger)

	svc, err := New(config, logger, registry)
	require.NoError(t, err)

	server := httptest.NewServer(svc.Handler())
	t.Cleanup(server.Close)

	return &testEnv{
		server:    server,
		client:    newClient(t),
		processor: processor,
		registry:  registry,
	}
}

func newClient(t *testing.T) *http.Client {
	t.Helper()

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	return &http.Client{
		Jar: jar,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
}

func formFields() map[string]string {
	return map[string]string{
		"journal_name":         "Cosmos",
		"volume_details":       "Vol. 3, Issue 2",
		"paper_received":       "2024-01-10",
		"paper_accepted":       "2024-02-01",
		"paper_published":      "2024-03-15",
		"author_name":          "A. Author",
		"corresponding_author": "B. Author",
		"email":                "author@example.org",
		"doiNumber":            "123456789",
		"footer_text":          "Footer text",
	}
}

func (e *testEnv) submit(t *testing.T, client *http.Client, fields map[string]string, file []byte) *http.Response {
	t.Helper()

	resp, err := client.Do(e.submitRequest(t, fields, file))
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })

	return resp
}

func (e *testEnv) submitRequest(t *testing.T, fields map[string]string, file []byte) *http.Request {
	t.Helper()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for name, value := range fields {
		require.NoError(t, mw.WriteField(name, value))
	}
	if file != nil {
		fw, err := mw.CreateFormFile("file", "paper.docx")
		require.NoError(t, err)
		_, err = fw.Write(file)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req, err := http.NewRequest(http.MethodPost, e.server.URL+"/submit", &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	return req
}

func (e *testEnv) get(t *testing.T, client *http.Client, path string) (*http.Response, string) {
	t.Helper()

	resp, err := client.Get(e.server.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	return resp, string(body)
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return string(body)
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, submission.PolicyButton)

	resp, body := env.get(t, env.client, "/healthz")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "ok", body)

	resp, _ = env.get(t, env.client, "/healthz/")
	assert.Equal(t, http.StatusMovedPermanently, resp.StatusCode)
}

func TestGetForm(t *testing.T) {
	env := newTestEnv(t, submission.PolicyButton)

	resp, body := env.get(t, env.client, "/")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "doi:10.46360/cosmos.ahe.")
	assert.Contains(t, body, `name="doiNumber"`)
	assert.Contains(t, body, "Generate Formatted Document")
	assert.NotContains(t, body, "/download/")

	u, _ := url.Parse(env.server.URL)
	assert.NotEmpty(t, env.client.Jar.Cookies(u), "session cookie should be issued")
}

func TestSubmit_InvalidDoi(t *testing.T) {
	env := newTestEnv(t, submission.PolicyButton)

	fields := formFields()
	fields["doiNumber"] = "12345"

	resp := env.submit(t, env.client, fields, []byte("document"))
	body := readBody(t, resp)

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, body, "DOI must be 9 digits")
	assert.Contains(t, body, `value="Cosmos"`, "entered values stay in the form")
	assert.Equal(t, 0, env.processor.Calls())
}

func TestSubmit_MissingFields(t *testing.T) {
	env := newTestEnv(t, submission.PolicyButton)

	fields := formFields()
	delete(fields, "footer_text")

	resp := env.submit(t, env.client, fields, nil)
	body := readBody(t, resp)

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	assert.Contains(t, body, "This field is required.")
	assert.Contains(t, body, "Upload the document to format.")
	assert.Equal(t, 0, env.processor.Calls())
}

func TestSubmit_ButtonPolicy(t *testing.T) {
	env := newTestEnv(t, submission.PolicyButton)

	resp := env.submit(t, env.client, formFields(), []byte("document"))
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Location"), "/?notice="))
	assert.Equal(t, 1, env.processor.Calls())

	_, page := env.get(t, env.client, "/")
	match := downloadLinkReg.FindStringSubmatch(page)
	require.Len(t, match, 2, "form page should offer a download link")
	link := match[1]

	t.Run("link works repeatedly", func(t *testing.T) {
		for i := 0; i < 2; i++ {
			resp, body := env.get(t, env.client, link)
			require.Equal(t, http.StatusOK, resp.StatusCode)
			assert.Equal(t, "generated docx", body)
			assert.Equal(t, `attachment; filename="formatted_publication.docx"`, resp.Header.Get("Content-Disposition"))
			assert.Equal(t, types.DocxContentType, resp.Header.Get("Content-Type"))
		}
	})

	t.Run("link is bound to the session", func(t *testing.T) {
		resp, _ := env.get(t, newClient(t), link)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("tampered link is rejected", func(t *testing.T) {
		resp, _ := env.get(t, env.client, link+"x")
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	t.Run("reset releases the document", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodPost, env.server.URL+"/reset", nil)
		require.NoError(t, err)
		resp, err := env.client.Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusSeeOther, resp.StatusCode)

		resp, _ = env.get(t, env.client, link)
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)

		_, page := env.get(t, env.client, "/")
		assert.NotContains(t, page, "/download/")
	})
}

func TestSubmit_AutoPolicyStreamsDocument(t *testing.T) {
	env := newTestEnv(t, submission.PolicyAuto)

	resp := env.submit(t, env.client, formFields(), []byte("document"))
	body := readBody(t, resp)

	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "generated docx", body)
	assert.Equal(t, `attachment; filename="formatted_publication.docx"`, resp.Header.Get("Content-Disposition"))

	payloads := env.processor.Payloads()
	require.Len(t, payloads, 1)
	parts := payloads[0].Parts
	assert.Equal(t, "doi", parts[len(parts)-1])

	_, page := env.get(t, env.client, "/")
	assert.NotContains(t, page, "/download/")
}

func TestSubmit_AutoPolicyDownloadStartedCookie(t *testing.T) {
	env := newTestEnv(t, submission.PolicyAuto)

	_, page := env.get(t, env.client, "/")
	assert.Contains(t, page, `name="download_marker"`)

	downloadCookie := func(resp *http.Response) *http.Cookie {
		for _, c := range resp.Cookies() {
			if c.Name == internal.COOKIE_DOWNLOAD_NAME {
				return c
			}
		}
		return nil
	}

	fields := formFields()
	fields["download_marker"] = "lz3k9a0f4q2"

	resp := env.submit(t, env.client, fields, []byte("document"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "generated docx", readBody(t, resp))

	cookie := downloadCookie(resp)
	require.NotNil(t, cookie, "an auto download announces itself to the page")
	assert.Equal(t, "lz3k9a0f4q2", cookie.Value)
	assert.False(t, cookie.HttpOnly, "the form script reads the cookie")

	fields["download_marker"] = "<script>"
	resp = env.submit(t, env.client, fields, []byte("document"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Nil(t, downloadCookie(resp))

	_, page = env.get(t, env.client, "/")
	assert.Contains(t, page, "Generate Formatted Document")
	assert.NotContains(t, page, "disabled")
}

func TestGetForm_DoesNotCreateWorkflow(t *testing.T) {
	env := newTestEnv(t, submission.PolicyButton)

	for i := 0; i < 20; i++ {
		resp, _ := env.get(t, newClient(t), "/")
		require.Equal(t, http.StatusOK, resp.StatusCode)
	}
	assert.Equal(t, 0, env.registry.Len())

	_, page := env.get(t, env.client, "/")
	assert.NotContains(t, page, `action="/reset"`)
	assert.NotContains(t, page, `name="download_marker"`)
	assert.Equal(t, 0, env.registry.Len())

	resp := env.submit(t, env.client, formFields(), []byte("document"))
	require.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, 1, env.registry.Len())

	_, page = env.get(t, env.client, "/")
	assert.Contains(t, page, `action="/reset"`)
}

func TestSubmit_WhileProcessing(t *testing.T) {
	env := newTestEnv(t, submission.PolicyButton)

	// establish the session before the slow submit
	env.get(t, env.client, "/")

	started, release := env.processor.Block()

	type result struct {
		resp *http.Response
		err  error
	}
	done := make(chan result, 1)
	req := env.submitRequest(t, formFields(), []byte("document"))
	go func() {
		resp, err := env.client.Do(req)
		done <- result{resp, err}
	}()

	select {
	case <-started:
	case <-time.After(5 * time.Second):
		t.Fatal("processor was not called")
	}

	_, page := env.get(t, env.client, "/")
	assert.Contains(t, page, "Processing...")
	assert.Contains(t, page, "disabled")

	resp := env.submit(t, env.client, formFields(), []byte("document"))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Contains(t, readBody(t, resp), "still being processed")
	assert.Equal(t, 1, env.processor.Calls())

	close(release)

	select {
	case res := <-done:
		require.NoError(t, res.err)
		defer res.resp.Body.Close()
		assert.Equal(t, http.StatusSeeOther, res.resp.StatusCode)
	case <-time.After(5 * time.Second):
		t.Fatal("submission did not finish")
	}

	assert.Equal(t, 1, env.processor.Calls())

	_, page = env.get(t, env.client, "/")
	assert.NotContains(t, page, "Processing...")
	assert.Regexp(t, downloadLinkReg, page)
}

func TestSubmit_ProcessorFailure(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		category string
	}{
		{"backend", &types.BackendError{StatusCode: 500}, "BackendError"},
		{"transport", types.ErrTransport, "TransportError"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, submission.PolicyButton)
			env.processor.Fail(tt.err)

			resp := env.submit(t, env.client, formFields(), []byte("document"))
			body := readBody(t, resp)

			assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
			assert.Contains(t, body, "Error processing document")
			assert.Contains(t, body, tt.category)
			assert.NotContains(t, body, "/download/")
			assert.Equal(t, 1, env.processor.Calls())
		})
	}
}

func TestSubmit_UploadTooLarge(t *testing.T) {
	env := newTestEnv(t, submission.PolicyButton)

	// over the document limit but within the request limit
	resp := env.submit(t, env.client, formFields(), bytes.Repeat([]byte("x"), 3<<19))

	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	assert.Equal(t, 0, env.processor.Calls())
}

func TestDownloadToken(t *testing.T) {
	env := newTestEnv(t, submission.PolicyButton)
	logger, _ := test.NewNullLogger()

	svc, err := New(&types.Config{DownloadPolicy: "button"}, logger, env.registry)
	require.NoError(t, err)

	now := time.Now()
	token, err := svc.signDownloadToken(&types.DownloadHandle{
		ID:        "handle-1",
		SessionID: "session-1",
		CreatedAt: now,
		ExpiresAt: now.Add(time.Hour),
	})
	require.NoError(t, err)

	handleID, sessionID, err := svc.parseDownloadToken(token)
	require.NoError(t, err)
	assert.Equal(t, "handle-1", handleID)
	assert.Equal(t, "session-1", sessionID)

	other, err := New(&types.Config{DownloadPolicy: "button"}, logger, env.registry)
	require.NoError(t, err)
	_, _, err = other.parseDownloadToken(token)
	assert.ErrorIs(t, err, errInvalidDownloadToken)
}
