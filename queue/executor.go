package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dialogmesh/brain/core"
	"github.com/dialogmesh/brain/registry"
	"github.com/dialogmesh/brain/session"
)

// Outcome is the classified result of one execution attempt.
type Outcome struct {
	Success    bool
	StatusCode int
	Result     map[string]interface{}
	ErrorClass registry.ErrorClass
	Err        error
}

// Executor invokes an action's external endpoint and classifies the
// response. Implementations must honor ctx cancellation.
type Executor interface {
	Execute(ctx context.Context, def *registry.ActionDefinition, params map[string]interface{}, sink session.EventSink) *Outcome
}

// HTTPExecutor calls action endpoints over HTTP. While a call is in
// flight it emits action_progress events on the session stream at the
// configured cadence.
type HTTPExecutor struct {
	client           *http.Client
	progressInterval time.Duration
	logger           core.Logger
}

// HTTPExecutorConfig configures the executor.
type HTTPExecutorConfig struct {
	// Client is the HTTP client; per-call timeouts come from the action
	// definition, so the client itself carries none.
	Client *http.Client

	// ProgressInterval is the cadence of action_progress events during a
	// call. Default: 3s.
	ProgressInterval time.Duration

	// Logger is an optional logger.
	Logger core.Logger
}

// NewHTTPExecutor creates an executor, filling config defaults.
func NewHTTPExecutor(config *HTTPExecutorConfig) *HTTPExecutor {
	cfg := HTTPExecutorConfig{}
	if config != nil {
		cfg = *config
	}
	if cfg.Client == nil {
		cfg.Client = &http.Client{}
	}
	if cfg.ProgressInterval <= 0 {
		cfg.ProgressInterval = core.DefaultProgressInterval
	}
	if cfg.Logger == nil {
		cfg.Logger = &core.NoOpLogger{}
	}
	return &HTTPExecutor{
		client:           cfg.Client,
		progressInterval: cfg.ProgressInterval,
		logger:           cfg.Logger,
	}
}

// Execute calls the endpoint with the definition's timeout and maps the
// response through its success criteria.
func (e *HTTPExecutor) Execute(ctx context.Context, def *registry.ActionDefinition, params map[string]interface{}, sink session.EventSink) *Outcome {
	timeout := def.Timeout
	if timeout <= 0 {
		timeout = core.DefaultActionTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if sink != nil {
		stop := e.emitProgress(ctx, def.ID, sink)
		defer stop()
	}

	req, err := e.buildRequest(ctx, def, params)
	if err != nil {
		return &Outcome{ErrorClass: registry.ErrorClassClientError, Err: err}
	}

	started := time.Now()
	resp, err := e.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return &Outcome{
				ErrorClass: registry.ErrorClassTimeout,
				Err:        fmt.Errorf("action %s timed out after %s: %w", def.ID, timeout, core.ErrTimeout),
			}
		}
		return &Outcome{
			ErrorClass: registry.ErrorClassNetwork,
			Err:        fmt.Errorf("action %s endpoint unreachable: %w", def.ID, err),
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &Outcome{
			ErrorClass: registry.ErrorClassNetwork,
			Err:        fmt.Errorf("action %s response read failed: %w", def.ID, err),
		}
	}

	e.logger.Debug("Action endpoint responded", map[string]interface{}{
		"action_id":   def.ID,
		"status_code": resp.StatusCode,
		"duration_ms": time.Since(started).Milliseconds(),
	})

	if matchesSuccessCriteria(def.SuccessCriteria, resp.StatusCode, body) {
		result := map[string]interface{}{}
		if len(body) > 0 {
			// Non-JSON success bodies are kept raw.
			if err := json.Unmarshal(body, &result); err != nil {
				result = map[string]interface{}{"raw": string(body)}
			}
		}
		return &Outcome{Success: true, StatusCode: resp.StatusCode, Result: result}
	}
	return &Outcome{
		StatusCode: resp.StatusCode,
		ErrorClass: classifyStatus(resp.StatusCode),
		Err:        fmt.Errorf("action %s returned %d: %s", def.ID, resp.StatusCode, truncate(string(body), 200)),
	}
}

func (e *HTTPExecutor) buildRequest(ctx context.Context, def *registry.ActionDefinition, params map[string]interface{}) (*http.Request, error) {
	method := strings.ToUpper(def.Endpoint.Method)
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if method != http.MethodGet && method != http.MethodHead {
		payload, err := json.Marshal(params)
		if err != nil {
			return nil, fmt.Errorf("encoding params for action %s: %w", def.ID, err)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, def.Endpoint.URL, body)
	if err != nil {
		return nil, fmt.Errorf("building request for action %s: %w", def.ID, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range def.Endpoint.Headers {
		req.Header.Set(k, v)
	}
	if def.Endpoint.AuthToken != "" {
		req.Header.Set("Authorization", "Bearer "+def.Endpoint.AuthToken)
	}
	return req, nil
}

// emitProgress streams action_progress at the configured cadence until
// the returned stop function is called or ctx ends.
func (e *HTTPExecutor) emitProgress(ctx context.Context, actionID string, sink session.EventSink) func() {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(e.progressInterval)
		defer ticker.Stop()
		started := time.Now()
		for {
			select {
			case <-done:
				return
			case <-ctx.Done():
				return
			case <-ticker.C:
				sink.Emit(session.UpdateActionProgress, map[string]interface{}{
					"action_id":  actionID,
					"elapsed_ms": time.Since(started).Milliseconds(),
				})
			}
		}
	}()
	var once bool
	return func() {
		if !once {
			once = true
			close(done)
		}
	}
}

// matchesSuccessCriteria applies the definition's criteria; zero values
// fall back to "any 2xx".
func matchesSuccessCriteria(criteria registry.SuccessCriteria, statusCode int, body []byte) bool {
	if criteria.StatusCode != 0 {
		if statusCode != criteria.StatusCode {
			return false
		}
	} else if statusCode < 200 || statusCode > 299 {
		return false
	}
	if criteria.BodyContains != "" && !strings.Contains(string(body), criteria.BodyContains) {
		return false
	}
	return true
}

func classifyStatus(statusCode int) registry.ErrorClass {
	if statusCode >= 500 {
		return registry.ErrorClassServerError
	}
	return registry.ErrorClassClientError
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
