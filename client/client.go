package client

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/chronodo/chrono-sync/types"
	"github.com/chronodo/chrono-sync/utils"
)

type HTTPBackendConfig struct {
	MaxConnsPerHost     int            `json:"max_conns_per_host"`
	MaxIdleConnDuration time.Duration  `json:"max_idle_conn_duration"`
	ReadTimeout         time.Duration  `json:"read_timeout"`
	WriteTimeout        time.Duration  `json:"write_timeout"`
	UserAgent           string         `json:"user_agent"`
	Breaker             *BreakerConfig `json:"breaker"`
}

// HTTPBackend talks to the authoritative todo API. It does exactly one
// attempt per call and returns classified errors; retry policy lives with
// the caller. The circuit breaker is the only state it keeps.
type HTTPBackend struct {
	logger  types.Logger
	metrics types.MetricsManager
	config  *HTTPBackendConfig
	baseURL string
	client  *fasthttp.Client
	breaker *CircuitBreaker
}

func NewHTTPBackend(ctx context.Context, logger types.Logger, config *types.BackendConfig, syncConfig *types.SyncConfig, metrics types.MetricsManager) (*HTTPBackend, error) {
	if config == nil || config.BaseURL == "" {
		return nil, types.NewErrorf("backend base url is required")
	}

	backendConfig := &HTTPBackendConfig{
		MaxConnsPerHost:     64,
		MaxIdleConnDuration: 60 * time.Second,
		ReadTimeout:         syncConfig.ReadTimeout,
		WriteTimeout:        syncConfig.WriteTimeout,
		UserAgent:           "chrono-sync",
		Breaker: &BreakerConfig{
			Enabled:          true,
			FailureThreshold: 5,
			RecoveryTimeout:  30 * time.Second,
			HalfOpenMaxCalls: 2,
		},
	}

	if config.Config != nil {
		err := utils.UnmarshalConfig(config.Config, backendConfig)
		if err != nil {
			return nil, types.WrapError(err, "failed to unmarshal backend config")
		}
	}

	backend := &HTTPBackend{
		logger:  logger,
		metrics: metrics,
		config:  backendConfig,
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		breaker: NewCircuitBreaker(logger, backendConfig.Breaker),
		client: &fasthttp.Client{
			MaxConnsPerHost:     backendConfig.MaxConnsPerHost,
			MaxIdleConnDuration: backendConfig.MaxIdleConnDuration,
			ReadTimeout:         backendConfig.ReadTimeout,
			WriteTimeout:        backendConfig.WriteTimeout,
		},
	}

	return backend, nil
}

// BreakerState exposes the circuit breaker for health reporting.
func (b *HTTPBackend) BreakerState() BreakerState {
	return b.breaker.State()
}

func (b *HTTPBackend) CreateTodo(ctx context.Context, record *types.TodoRecord) (*types.TodoRecord, error) {
	body, err := utils.Marshal(record)
	if err != nil {
		return nil, types.WrapError(err, "failed to marshal todo")
	}

	payload, err := b.do(ctx, fasthttp.MethodPost, "/todos", body, b.config.WriteTimeout)
	if err != nil {
		return nil, err
	}

	var created types.TodoRecord
	if err := utils.Unmarshal(payload, &created); err != nil {
		return nil, types.NewClassifiedError(types.ClassTransient, types.WrapError(err, "failed to decode created todo"))
	}
	return &created, nil
}

func (b *HTTPBackend) UpdateTodo(ctx context.Context, id string, patch types.TodoPatch) (*types.TodoRecord, error) {
	body, err := utils.Marshal(patch)
	if err != nil {
		return nil, types.WrapError(err, "failed to marshal patch")
	}

	payload, err := b.do(ctx, fasthttp.MethodPatch, "/todos/"+id, body, b.config.WriteTimeout)
	if err != nil {
		return nil, err
	}

	var updated types.TodoRecord
	if err := utils.Unmarshal(payload, &updated); err != nil {
		return nil, types.NewClassifiedError(types.ClassTransient, types.WrapError(err, "failed to decode updated todo"))
	}
	return &updated, nil
}

func (b *HTTPBackend) DeleteTodo(ctx context.Context, id string) error {
	_, err := b.do(ctx, fasthttp.MethodDelete, "/todos/"+id, nil, b.config.WriteTimeout)
	return err
}

type batchUpdateRequest struct {
	IDs   []string        `json:"ids"`
	Patch types.TodoPatch `json:"patch"`
}

// BatchUpdate calls the dedicated batch endpoint. Backends without one
// answer 404 or 501; that surfaces as ErrBatchUnsupported so the caller
// can fall back to per-item requests.
func (b *HTTPBackend) BatchUpdate(ctx context.Context, ids []string, patch types.TodoPatch) (*types.BatchUpdateResult, error) {
	body, err := utils.Marshal(batchUpdateRequest{IDs: ids, Patch: patch})
	if err != nil {
		return nil, types.WrapError(err, "failed to marshal batch update")
	}

	payload, err := b.do(ctx, fasthttp.MethodPost, "/todos/batch-update", body, b.config.WriteTimeout)
	if err != nil {
		return nil, batchError(err)
	}

	var result types.BatchUpdateResult
	if err := utils.Unmarshal(payload, &result); err != nil {
		return nil, types.NewClassifiedError(types.ClassTransient, types.WrapError(err, "failed to decode batch result"))
	}
	return &result, nil
}

type bulkDeleteRequest struct {
	IDs []string `json:"ids"`
}

func (b *HTTPBackend) BulkDelete(ctx context.Context, ids []string) (*types.BulkDeleteResult, error) {
	body, err := utils.Marshal(bulkDeleteRequest{IDs: ids})
	if err != nil {
		return nil, types.WrapError(err, "failed to marshal bulk delete")
	}

	payload, err := b.do(ctx, fasthttp.MethodPost, "/todos/bulk-delete", body, b.config.WriteTimeout)
	if err != nil {
		return nil, batchError(err)
	}

	var result types.BulkDeleteResult
	if err := utils.Unmarshal(payload, &result); err != nil {
		return nil, types.NewClassifiedError(types.ClassTransient, types.WrapError(err, "failed to decode bulk delete result"))
	}
	return &result, nil
}

func (b *HTTPBackend) FetchTodos(ctx context.Context, ownerID string, opts types.FetchOptions) ([]*types.TodoRecord, error) {
	path := "/todos?owner_id=" + ownerID
	if opts.BypassCache {
		path += "&cache=false"
	}
	if opts.ForceRefresh {
		path += "&refresh=true"
	}

	payload, err := b.do(ctx, fasthttp.MethodGet, path, nil, b.config.ReadTimeout)
	if err != nil {
		return nil, err
	}

	var records []*types.TodoRecord
	if err := utils.Unmarshal(payload, &records); err != nil {
		return nil, types.NewClassifiedError(types.ClassTransient, types.WrapError(err, "failed to decode todos"))
	}
	return records, nil
}

// do performs one request. The effective deadline is the earlier of the
// context deadline and the per-call timeout.
func (b *HTTPBackend) do(ctx context.Context, method, path string, body []byte, timeout time.Duration) ([]byte, error) {
	if err := b.breaker.CanExecute(); err != nil {
		b.recordMetric(method, "breaker_open", 0)
		return nil, types.NewClassifiedError(types.ClassTransient, err)
	}

	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseRequest(req)
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(b.baseURL + path)
	req.Header.SetMethod(method)
	req.Header.SetUserAgent(b.config.UserAgent)
	if body != nil {
		req.Header.SetContentType("application/json")
		req.SetBody(body)
	}

	deadline := time.Now().Add(timeout)
	if ctxDeadline, ok := ctx.Deadline(); ok && ctxDeadline.Before(deadline) {
		deadline = ctxDeadline
	}

	start := time.Now()
	err := b.client.DoDeadline(req, resp, deadline)
	elapsed := time.Since(start)

	if err != nil {
		b.breaker.RecordFailure()
		b.recordMetric(method, "transport_error", elapsed)
		b.logger.Warn("Backend request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Duration("elapsed", elapsed),
			zap.Error(err))
		return nil, types.ClassifyStatus(0, err)
	}

	status := resp.StatusCode()
	if classified := types.ClassifyStatus(status, nil); classified != nil {
		if countsAsBreakerFailure(classified) {
			b.breaker.RecordFailure()
		}
		b.recordMetric(method, fmt.Sprintf("http_%d", status), elapsed)
		b.logger.Debug("Backend request rejected",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", status),
			zap.String("class", classified.Class.String()))
		return nil, classified
	}

	b.breaker.RecordSuccess()
	b.recordMetric(method, "success", elapsed)

	payload := make([]byte, len(resp.Body()))
	copy(payload, resp.Body())
	return payload, nil
}

// batchError translates "no such endpoint" answers into the sentinel the
// sync engine keys its fallback on.
func batchError(err error) error {
	var ce *types.ClassifiedError
	if errors.As(err, &ce) {
		switch ce.Status {
		case fasthttp.StatusNotFound, fasthttp.StatusMethodNotAllowed, fasthttp.StatusNotImplemented:
			return types.ErrBatchUnsupported
		}
	}
	return err
}

func (b *HTTPBackend) recordMetric(method, result string, duration time.Duration) {
	if b.metrics == nil {
		return
	}

	b.metrics.Counter("backend_requests_total", map[string]string{
		"method": method,
		"result": result,
	}).Inc()

	if duration > 0 {
		b.metrics.Histogram("backend_request_duration_seconds",
			[]float64{0.05, 0.25, 1.0, 5.0, 15.0},
			map[string]string{"method": method},
		).Observe(duration.Seconds())
	}
}
