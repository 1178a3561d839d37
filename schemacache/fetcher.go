package schemacache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dialogmesh/brain/core"
	"github.com/dialogmesh/brain/registry"
)

// Fetcher retrieves the raw schema payload from a brand API.
type Fetcher interface {
	Fetch(ctx context.Context, def *registry.SchemaDefinition) (map[string]interface{}, error)
}

// HTTPFetcher calls the schema endpoint declared in the definition and
// decodes the JSON response body.
type HTTPFetcher struct {
	client *http.Client
	logger core.Logger
}

// NewHTTPFetcher creates a fetcher. A nil client gets a default one;
// per-call timeouts come from the schema definition.
func NewHTTPFetcher(client *http.Client, logger core.Logger) *HTTPFetcher {
	if client == nil {
		client = &http.Client{}
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &HTTPFetcher{client: client, logger: logger}
}

func (f *HTTPFetcher) Fetch(ctx context.Context, def *registry.SchemaDefinition) (map[string]interface{}, error) {
	timeout := def.Timeout
	if timeout <= 0 {
		timeout = core.DefaultActionTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	method := def.Endpoint.Method
	if method == "" {
		method = http.MethodGet
	}
	req, err := http.NewRequestWithContext(ctx, method, def.Endpoint.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("building schema request for %s: %w", def.ID, err)
	}
	req.Header.Set("Accept", "application/json")
	for k, v := range def.Endpoint.Headers {
		req.Header.Set(k, v)
	}
	if def.Endpoint.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+def.Endpoint.AuthToken)
	}

	resp, err := f.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("schema fetch %s timed out: %w", def.ID, core.ErrTimeout)
		}
		return nil, fmt.Errorf("schema fetch %s: %v: %w", def.ID, err, core.ErrExternalTransient)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("reading schema response for %s: %w", def.ID, core.ErrExternalTransient)
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		// fallthrough to decode
	case resp.StatusCode >= 500:
		return nil, fmt.Errorf("schema fetch %s returned %d: %w", def.ID, resp.StatusCode, core.ErrExternalTransient)
	default:
		return nil, fmt.Errorf("schema fetch %s returned %d: %w", def.ID, resp.StatusCode, core.ErrExternalPermanent)
	}

	var payload map[string]interface{}
	if err := json.Unmarshal(body, &payload); err != nil {
		preview := string(body)
		if len(preview) > 120 {
			preview = preview[:120]
		}
		f.logger.Warn("Schema response is not a JSON object", map[string]interface{}{
			"schema_id": def.ID,
			"body":      strings.TrimSpace(preview),
		})
		return nil, fmt.Errorf("decoding schema response for %s: %w", def.ID, core.ErrExternalPermanent)
	}
	return payload, nil
}
