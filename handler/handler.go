package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/aws/aws-lambda-go/events"
	"github.com/google/uuid"

	"shopify-analytics-agent/internal/domain"
	"shopify-analytics-agent/internal/usecase"
)

const (
	RouteAnalyze       = "/api/v1/analyze"
	RouteValidateQuery = "/api/v1/validate-query"
	RouteHealth        = "/health"

	correlationHeader = "X-Correlation-Id"
	maxBodyBytes      = 64 << 10

	// statusClientClosedRequest is the de facto status for a caller that went
	// away before the response was ready.
	statusClientClosedRequest = 499
)

type Analyzer interface {
	Analyze(ctx context.Context, in usecase.AnalyzeInput) (usecase.AnalyzeOutput, error)
}

type QueryValidator interface {
	ValidateQuery(raw string) domain.ValidationResult
}

// HealthInfo is reported by the health route.
type HealthInfo struct {
	LLMConfigured       bool
	CacheBackend        string
	ConversationBackend string
}

type analyzeRequest struct {
	StoreID        string `json:"store_id"`
	Question       string `json:"question"`
	ConversationID string `json:"conversation_id,omitempty"`
}

type analyzeResponse struct {
	Answer         string            `json:"answer"`
	Confidence     domain.Confidence `json:"confidence"`
	QueryUsed      string            `json:"query_used,omitempty"`
	DataSource     domain.DataSource `json:"data_source,omitempty"`
	FallbackUsed   bool              `json:"fallback_used"`
	ConversationID string            `json:"conversation_id"`
	RawData        []domain.Row      `json:"raw_data,omitempty"`
	Clarification  bool              `json:"clarification,omitempty"`
}

type validateRequest struct {
	Query string `json:"query"`
}

type validateResponse struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
	Query  string   `json:"query"`
}

type healthResponse struct {
	Status              string `json:"status"`
	LLMConfigured       bool   `json:"llm_configured"`
	CacheBackend        string `json:"cache_backend"`
	ConversationBackend string `json:"conversation_backend"`
}

type errorResponse struct {
	Error         string `json:"error"`
	Message       string `json:"message"`
	CorrelationID string `json:"correlation_id,omitempty"`
}

type Handler struct {
	uc        Analyzer
	validator QueryValidator
	health    HealthInfo
	logger    *slog.Logger
}

type Option func(*Handler)

func WithHealth(info HealthInfo) Option {
	return func(h *Handler) { h.health = info }
}

func WithLogger(l *slog.Logger) Option {
	return func(h *Handler) {
		if l != nil {
			h.logger = l
		}
	}
}

func NewHandler(uc Analyzer, v QueryValidator, opts ...Option) (*Handler, error) {
	if uc == nil {
		return nil, errors.New("handler: use case must not be nil")
	}
	if v == nil {
		return nil, errors.New("handler: query validator must not be nil")
	}
	h := &Handler{uc: uc, validator: v, logger: slog.Default()}
	for _, o := range opts {
		o(h)
	}
	return h, nil
}

// Handle serves an API Gateway proxy event.
func (h *Handler) Handle(ctx context.Context, req events.APIGatewayProxyRequest) (events.APIGatewayProxyResponse, error) {
	start := time.Now()
	correlationID := headerValue(req.Headers, correlationHeader)
	if correlationID == "" {
		correlationID = uuid.NewString()
	}
	route := strings.TrimRight(req.Path, "/")
	if route == "" {
		route = "/"
	}

	var resp events.APIGatewayProxyResponse
	switch {
	case route == RouteAnalyze && req.HTTPMethod == http.MethodPost:
		resp = h.analyze(ctx, req, correlationID)
	case route == RouteValidateQuery && req.HTTPMethod == http.MethodPost:
		resp = h.validateQuery(req, correlationID)
	case route == RouteHealth && req.HTTPMethod == http.MethodGet:
		resp = jsonResponse(http.StatusOK, healthResponse{
			Status:              "healthy",
			LLMConfigured:       h.health.LLMConfigured,
			CacheBackend:        h.health.CacheBackend,
			ConversationBackend: h.health.ConversationBackend,
		})
	case route == RouteAnalyze || route == RouteValidateQuery || route == RouteHealth:
		resp = errorJSON(http.StatusMethodNotAllowed, "METHOD_NOT_ALLOWED", "Method not allowed.", correlationID)
	default:
		resp = errorJSON(http.StatusNotFound, "NOT_FOUND", "No such route.", correlationID)
	}
	resp.Headers[correlationHeader] = correlationID

	h.logger.Info("request_completed",
		"correlation_id", correlationID,
		"method", req.HTTPMethod,
		"route", route,
		"status", resp.StatusCode,
		"duration", time.Since(start),
	)
	return resp, nil
}

func (h *Handler) analyze(ctx context.Context, req events.APIGatewayProxyRequest, correlationID string) events.APIGatewayProxyResponse {
	var body analyzeRequest
	if err := decodeBody(req.Body, &body); err != nil {
		return errorJSON(http.StatusBadRequest, string(usecase.ErrorInvalidInput), "Request body must be a JSON object with store_id and question.", correlationID)
	}

	out, err := h.uc.Analyze(ctx, usecase.AnalyzeInput{
		StoreID:        body.StoreID,
		Question:       body.Question,
		ConversationID: body.ConversationID,
	})
	if err != nil {
		var uerr *usecase.Error
		if !errors.As(err, &uerr) {
			uerr = &usecase.Error{Code: usecase.ErrorInternal, Reason: "unexpected_error", Err: err}
		}
		status := statusFor(uerr.Code)
		level := slog.LevelWarn
		if status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		h.logger.Log(ctx, level, "analyze_failed",
			"correlation_id", correlationID,
			"store_id", body.StoreID,
			"code", uerr.Code,
			"reason", uerr.Reason,
			"error", err,
		)
		return errorJSON(status, string(uerr.Code), uerr.UserMessage(), correlationID)
	}

	return jsonResponse(http.StatusOK, analyzeResponse{
		Answer:         out.Answer,
		Confidence:     out.Confidence,
		QueryUsed:      out.QueryUsed,
		DataSource:     out.DataSource,
		FallbackUsed:   out.FallbackUsed,
		ConversationID: out.ConversationID,
		RawData:        out.RawData,
		Clarification:  out.Clarification,
	})
}

// validateQuery accepts the query either as a JSON body or as the "query"
// query-string parameter.
func (h *Handler) validateQuery(req events.APIGatewayProxyRequest, correlationID string) events.APIGatewayProxyResponse {
	query := strings.TrimSpace(req.QueryStringParameters["query"])
	if query == "" {
		var body validateRequest
		if err := decodeBody(req.Body, &body); err == nil {
			query = strings.TrimSpace(body.Query)
		}
	}
	if query == "" {
		return errorJSON(http.StatusBadRequest, string(usecase.ErrorInvalidInput), "A query is required.", correlationID)
	}

	res := h.validator.ValidateQuery(query)
	errs := make([]string, 0, len(res.Violations))
	for _, v := range res.Violations {
		errs = append(errs, v.String())
	}
	return jsonResponse(http.StatusOK, validateResponse{Valid: res.OK(), Errors: errs, Query: query})
}

// ServeHTTP adapts the handler to net/http for the long-running server.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		http.Error(w, "unreadable body", http.StatusBadRequest)
		return
	}
	headers := make(map[string]string, len(r.Header))
	for k := range r.Header {
		headers[k] = r.Header.Get(k)
	}
	params := make(map[string]string)
	for k, v := range r.URL.Query() {
		if len(v) > 0 {
			params[k] = v[0]
		}
	}

	resp, _ := h.Handle(r.Context(), events.APIGatewayProxyRequest{
		HTTPMethod:            r.Method,
		Path:                  r.URL.Path,
		Headers:               headers,
		QueryStringParameters: params,
		Body:                  string(body),
	})
	for k, v := range resp.Headers {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.StatusCode)
	_, _ = io.WriteString(w, resp.Body)
}

func statusFor(code usecase.ErrorCode) int {
	switch code {
	case usecase.ErrorInvalidInput, usecase.ErrorPlanning:
		return http.StatusBadRequest
	case usecase.ErrorUnprocessableQuestion:
		return http.StatusUnprocessableEntity
	case usecase.ErrorStoreNotAuthorized:
		return http.StatusUnauthorized
	case usecase.ErrorRateLimited:
		return http.StatusTooManyRequests
	case usecase.ErrorUpstreamUnavailable:
		return http.StatusServiceUnavailable
	case usecase.ErrorRequestCanceled:
		return statusClientClosedRequest
	default:
		return http.StatusInternalServerError
	}
}

func decodeBody(raw string, v any) error {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

func headerValue(headers map[string]string, key string) string {
	for k, v := range headers {
		if strings.EqualFold(k, key) {
			return strings.TrimSpace(v)
		}
	}
	return ""
}

func jsonResponse(status int, v any) events.APIGatewayProxyResponse {
	body, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		body = []byte(`{"error":"INTERNAL_ERROR","message":"failed to encode response"}`)
	}
	return events.APIGatewayProxyResponse{
		StatusCode: status,
		Headers:    map[string]string{"Content-Type": "application/json"},
		Body:       string(body),
	}
}

func errorJSON(status int, code, message, correlationID string) events.APIGatewayProxyResponse {
	return jsonResponse(status, errorResponse{Error: code, Message: message, CorrelationID: correlationID})
}
