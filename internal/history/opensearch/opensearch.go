// Package opensearch indexes project run history into OpenSearch over its
// REST API.
package opensearch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/loykin/devrun/internal/history"
)

// maxErrBody caps how much of a rejected response ends up in the error.
const maxErrBody = 512

// Sink indexes one document per lifecycle event. Events carrying a run ID
// are written to <index>/_doc/<run_id>-<type>, so a resent start or stop
// replaces its earlier copy instead of adding a second one.
type Sink struct {
	client  *http.Client
	baseURL string
	index   string
}

// New returns a Sink for the cluster at baseURL, e.g. http://localhost:9200.
func New(baseURL, index string) *Sink {
	return &Sink{
		client:  &http.Client{Timeout: 5 * time.Second},
		baseURL: strings.TrimRight(baseURL, "/"),
		index:   index,
	}
}

func (s *Sink) Send(ctx context.Context, e history.Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("encode %s event for %s: %w", e.Type, e.Record.Name, err)
	}
	method, u := s.target(e)
	req, err := http.NewRequestWithContext(ctx, method, u, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("index %s event for %s: %w", e.Type, e.Record.Name, err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrBody))
		return fmt.Errorf("opensearch rejected %s event for %s: status %d: %s",
			e.Type, e.Record.Name, resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

func (s *Sink) target(e history.Event) (string, string) {
	base := s.baseURL + "/" + url.PathEscape(s.index) + "/_doc"
	if e.Record.RunID == "" {
		return http.MethodPost, base
	}
	return http.MethodPut, base + "/" + url.PathEscape(e.Record.RunID+"-"+string(e.Type))
}
