package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// runHTTPChecks exercises the service with the fixed GET/POST sequence:
// GET / as the minimal functional check and POST / to trigger the primary
// workload, validating each body against its structural markers.
func (p *Probe) runHTTPChecks(ctx context.Context, diags map[string]string) error {
	status, body, err := p.request(ctx, http.MethodGet, nil)
	if err != nil {
		return &HTTPError{Method: http.MethodGet, Reason: err.Error()}
	}
	diags["get_status"] = fmt.Sprintf("%d", status)
	if status != http.StatusOK {
		return &HTTPError{Method: http.MethodGet, Status: status, Reason: "unexpected status"}
	}
	if missing := missingMarker(body, p.cfg.GetMarkers); missing != "" {
		return &HTTPError{Method: http.MethodGet, Status: status, Reason: "response body missing " + missing}
	}

	status, body, err = p.request(ctx, http.MethodPost, url.Values{})
	if err != nil {
		return &HTTPError{Method: http.MethodPost, Reason: err.Error()}
	}
	diags["post_status"] = fmt.Sprintf("%d", status)
	if status != http.StatusOK {
		return &HTTPError{Method: http.MethodPost, Status: status, Reason: "unexpected status"}
	}
	if missing := missingMarker(body, p.cfg.PostMarkers); missing != "" {
		return &HTTPError{Method: http.MethodPost, Status: status, Reason: "response body missing " + missing}
	}

	return nil
}

func (p *Probe) request(ctx context.Context, method string, form url.Values) (int, string, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL()+"/", body)
	if err != nil {
		return 0, "", err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return 0, "", err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, "", err
	}
	return resp.StatusCode, string(data), nil
}

// missingMarker returns the first structural marker absent from the body,
// or "" when all are present.
func missingMarker(body string, markers []string) string {
	for _, m := range markers {
		if !strings.Contains(body, m) {
			return fmt.Sprintf("marker %q", m)
		}
	}
	return ""
}
