package source

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/alanyoungcy/arbwatch/internal/retry"
)

// maxErrorBody bounds how much of an error response is kept for logs and
// error messages.
const maxErrorBody = 1024

// Get issues a GET request and returns the response body. Non-2xx responses
// come back as *retry.HTTPError (via CheckStatus) so the retry executor can
// classify them by status code.
func Get(ctx context.Context, client *http.Client, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	return Do(client, req)
}

// Do sends a prepared request and reads the full body, mapping non-2xx
// statuses through CheckStatus. Callers that need extra headers (signed
// requests) build the request themselves and hand it here.
func Do(client *http.Client, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if err := CheckStatus(resp.StatusCode, resp.Status, body); err != nil {
		return nil, err
	}
	return body, nil
}

// CheckStatus returns nil for 2xx and a *retry.HTTPError carrying the status
// code and a bounded body snippet otherwise.
func CheckStatus(statusCode int, status string, body []byte) error {
	if statusCode >= 200 && statusCode < 300 {
		return nil
	}
	snippet := body
	if len(snippet) > maxErrorBody {
		snippet = snippet[:maxErrorBody]
	}
	return &retry.HTTPError{StatusCode: statusCode, Status: status, Body: string(snippet)}
}
