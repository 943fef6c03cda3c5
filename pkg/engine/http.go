package engine

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/otherjamesbrown/turnscribe/pkg/transcript"
)

const defaultHTTPTimeout = 5 * time.Minute

// httpEngine uploads the normalized recording as multipart form data and
// reads engine JSON back.
type httpEngine struct {
	lifecycle
	url     string
	model   string
	token   string
	field   string
	client  *http.Client
	headers map[string]string
}

func newHTTPEngine(spec Spec) (*httpEngine, error) {
	if spec.URL == "" {
		return nil, fmt.Errorf("http backend: url is required")
	}
	timeout := defaultHTTPTimeout
	if v := spec.Option("timeout", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("http backend: invalid timeout %q: %w", v, err)
		}
		timeout = d
	}
	headers := make(map[string]string)
	for k, v := range spec.Options {
		if name, ok := strings.CutPrefix(k, "header."); ok {
			headers[name] = v
		}
	}
	return &httpEngine{
		url:     spec.URL,
		model:   spec.Model,
		token:   spec.Token,
		field:   spec.Option("file_field", "file"),
		client:  &http.Client{Timeout: timeout},
		headers: headers,
	}, nil
}

func (h *httpEngine) post(ctx context.Context, audioPath string) ([]byte, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	part, err := mw.CreateFormFile(h.field, filepath.Base(audioPath))
	if err != nil {
		return nil, err
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("reading %s: %w", filepath.Base(audioPath), err)
	}
	if h.model != "" {
		if err := mw.WriteField("model", h.model); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, h.url, &body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Accept", "application/json")
	if h.token != "" {
		req.Header.Set("Authorization", "Bearer "+h.token)
	}
	for k, v := range h.headers {
		req.Header.Set(k, v)
	}

	resp, err := h.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("POST %s: %w", h.url, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("POST %s: HTTP %d: %s", h.url, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}
	return respBody, nil
}

func (h *httpEngine) host() string {
	u := strings.TrimPrefix(strings.TrimPrefix(h.url, "https://"), "http://")
	host, _, _ := strings.Cut(u, "/")
	return host
}

// HTTPRecognizer calls a remote recognition service.
type HTTPRecognizer struct {
	*httpEngine
}

// NewHTTPRecognizer creates a recognizer that POSTs to spec.URL.
func NewHTTPRecognizer(spec Spec) (*HTTPRecognizer, error) {
	e, err := newHTTPEngine(spec)
	if err != nil {
		return nil, err
	}
	return &HTTPRecognizer{e}, nil
}

// Name identifies the backend in logs.
func (r *HTTPRecognizer) Name() string { return "http:" + r.host() }

// Recognize uploads the recording and parses the returned words.
func (r *HTTPRecognizer) Recognize(ctx context.Context, audioPath string) ([]transcript.Word, error) {
	if err := r.check(r.Name()); err != nil {
		return nil, err
	}
	body, err := r.post(ctx, audioPath)
	if err != nil {
		return nil, err
	}
	words, err := transcript.DecodeWords(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s response: %w", r.Name(), err)
	}
	return words, nil
}

// HTTPDiarizer calls a remote diarization service.
type HTTPDiarizer struct {
	*httpEngine
}

// NewHTTPDiarizer creates a diarizer that POSTs to spec.URL.
func NewHTTPDiarizer(spec Spec) (*HTTPDiarizer, error) {
	e, err := newHTTPEngine(spec)
	if err != nil {
		return nil, err
	}
	return &HTTPDiarizer{e}, nil
}

// Name identifies the backend in logs.
func (d *HTTPDiarizer) Name() string { return "http:" + d.host() }

// Diarize uploads the recording and parses the returned segments.
func (d *HTTPDiarizer) Diarize(ctx context.Context, audioPath string) ([]transcript.Segment, error) {
	if err := d.check(d.Name()); err != nil {
		return nil, err
	}
	body, err := d.post(ctx, audioPath)
	if err != nil {
		return nil, err
	}
	segments, err := transcript.DecodeSegments(bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%s response: %w", d.Name(), err)
	}
	return segments, nil
}
