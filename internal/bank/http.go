package bank

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/ocs-answerer/internal/resilience"
)

// MaxResponseBytes caps how much of a bank response is read.
const MaxResponseBytes = 1 << 20

// HTTPClient is the transport used for bank calls.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// buildRequest renders cfg into an HTTP request for vars. GET sends data
// as query parameters; POST sends the body template when present and
// otherwise the data as JSON.
func buildRequest(ctx context.Context, cfg Config, vars Vars) (*http.Request, error) {
	target := RenderURL(cfg.URL, vars)
	data := RenderData(cfg.Data, vars)

	var (
		body        io.Reader
		contentType string
	)
	switch cfg.method() {
	case MethodGet:
		target = AppendQuery(target, data)
	case MethodPost:
		switch {
		case cfg.Body != "":
			body = strings.NewReader(Render(cfg.Body, vars, nil))
			contentType = "application/json"
		default:
			if data == nil {
				data = map[string]any{}
			}
			payload, err := json.Marshal(data)
			if err != nil {
				return nil, eris.Wrap(err, "bank: encode request body")
			}
			body = bytes.NewReader(payload)
			contentType = "application/json"
		}
	default:
		return nil, eris.Errorf("bank: unsupported method %q", cfg.Method)
	}

	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(cfg.method()), target, body)
	if err != nil {
		return nil, eris.Wrap(err, "bank: build request")
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	return req, nil
}

// call performs the request and returns the body. Non-2xx responses are
// errors; 408/429/5xx are marked transient.
func call(client HTTPClient, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, eris.Wrap(err, "bank: request")
	}
	defer resp.Body.Close() //nolint:errcheck

	data, err := io.ReadAll(io.LimitReader(resp.Body, MaxResponseBytes))
	if err != nil {
		return nil, eris.Wrap(err, "bank: read response")
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		statusErr := eris.Errorf("bank: status %d: %s", resp.StatusCode, truncate(string(data), 200))
		if resilience.IsTransientHTTPStatus(resp.StatusCode) {
			return nil, resilience.NewTransientError(statusErr, resp.StatusCode)
		}
		return nil, statusErr
	}
	return data, nil
}

// decode turns a response body into the handler's res value.
func decode(cfg Config, body []byte) (any, error) {
	if cfg.contentType() == ContentText {
		return string(body), nil
	}
	var v any
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, eris.Wrapf(ErrHandler, "response is not JSON: %s", truncate(string(body), 100))
	}
	return v, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return fmt.Sprintf("%s...", s[:n])
}
