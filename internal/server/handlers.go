// Package server exposes the cost-tracking proxy over HTTP.
package server

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/tidwall/gjson"

	"costtrace/internal/core"
	"costtrace/internal/ledger"
	"costtrace/internal/sessioncost"
	"costtrace/internal/telemetry"
	"costtrace/internal/tracker"
)

// Request and response headers.
const (
	HeaderSessionID      = "X-Session-Id"
	HeaderTags           = "X-Tags"
	HeaderGenerationName = "X-Generation-Name"
	HeaderTraceID        = "X-Trace-Id"
	HeaderCostTotal      = "X-Cost-Total"
	HeaderCostLocation   = "X-Cost-Location"
)

// DefaultGenerationName is used when X-Generation-Name is absent.
const DefaultGenerationName = "proxy-chat"

// Handler holds the HTTP handlers.
type Handler struct {
	tracker     *tracker.Tracker
	ledger      ledger.Reader
	environment string
	healthCheck func(ctx context.Context) error
	now         func() time.Time
}

// NewHandler creates handlers around a tracker. reader may be nil when the
// ledger is disabled.
func NewHandler(tr *tracker.Tracker, reader ledger.Reader) *Handler {
	return &Handler{tracker: tr, ledger: reader, now: time.Now}
}

// ChatCompletion handles POST /v1/chat/completions. The client's body is
// forwarded with usage accounting enabled and the upstream body is returned
// unchanged; the trace id and any reported cost are added as headers.
func (h *Handler) ChatCompletion(c echo.Context) error {
	r := c.Request()
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var httpErr *echo.HTTPError
		if errors.As(err, &httpErr) {
			return err
		}
		return handleError(c, core.NewInvalidRequestError("failed to read request body: "+err.Error(), err))
	}
	req, err := parseChatRequest(body)
	if err != nil {
		return handleError(c, err)
	}

	sessionID := r.Header.Get(HeaderSessionID)
	if sessionID == "" {
		sessionID = h.newSessionID()
	}
	extras := map[string]any{}
	if h.environment != "" {
		extras[telemetry.KeyEnvironment] = h.environment
	}
	tc := telemetry.NewContext(sessionID, splitTags(r.Header.Get(HeaderTags)), extras)

	name := r.Header.Get(HeaderGenerationName)
	if name == "" {
		name = DefaultGenerationName
	}

	ctx := telemetry.WithContext(r.Context(), tc)
	if id := c.Response().Header().Get(echo.HeaderXRequestID); id != "" {
		ctx = core.WithRequestID(ctx, id)
	}

	out, err := h.tracker.Chat(ctx, name, req, tracker.ShapeDirect)
	if err != nil {
		return handleError(c, err)
	}

	hdr := c.Response().Header()
	hdr.Set(HeaderSessionID, sessionID)
	hdr.Set(HeaderTraceID, out.TraceID)
	if out.Cost != nil {
		hdr.Set(HeaderCostTotal, strconv.FormatFloat(out.Cost.TotalOrZero(), 'f', -1, 64))
		hdr.Set(HeaderCostLocation, string(out.Location))
	}

	if len(out.Response.Raw) > 0 {
		return c.JSONBlob(http.StatusOK, out.Response.Raw)
	}
	return c.JSON(http.StatusOK, out.Response)
}

// SessionCostResponse is the body of GET /v1/sessions/:id/cost.
type SessionCostResponse struct {
	SessionID string                 `json:"session_id"`
	Totals    sessioncost.Summary    `json:"totals"`
	Ledger    *ledger.SessionSummary `json:"ledger,omitempty"`
}

// SessionCost handles GET /v1/sessions/:id/cost.
func (h *Handler) SessionCost(c echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return handleError(c, core.NewInvalidRequestError("session id is required", nil))
	}
	ctx := c.Request().Context()

	totals, err := h.tracker.Totals().Get(ctx, sessionID)
	if err != nil {
		return handleError(c, err)
	}
	resp := SessionCostResponse{SessionID: sessionID, Totals: totals}

	if h.ledger != nil {
		sum, err := h.ledger.SessionSummary(ctx, sessionID)
		if err != nil {
			return handleError(c, err)
		}
		resp.Ledger = sum
	}

	if totals.Calls == 0 && (resp.Ledger == nil || resp.Ledger.Generations == 0) {
		return handleError(c, core.NewNotFoundError("no generations recorded for session "+sessionID))
	}
	return c.JSON(http.StatusOK, resp)
}

// Health handles GET /health.
func (h *Handler) Health(c echo.Context) error {
	if h.healthCheck != nil {
		ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		defer cancel()
		if err := h.healthCheck(ctx); err != nil {
			slog.Warn("health check failed", "error", err)
			return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded", "error": err.Error()})
		}
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// newSessionID returns proxy-YYYYMMDD_HHMMSS with a random suffix, so
// header-less clients calling in the same second get separate sessions.
func (h *Handler) newSessionID() string {
	return telemetry.NewSessionID("proxy", h.now()) + "-" + uuid.NewString()[:8]
}

// parseChatRequest checks the fields the proxy relies on and keeps the body
// for forwarding. Streaming is not supported.
func parseChatRequest(body []byte) (*core.ChatRequest, error) {
	if !gjson.ValidBytes(body) {
		return nil, core.NewInvalidRequestError("invalid request body: malformed JSON", nil)
	}
	doc := gjson.ParseBytes(body)
	if !doc.IsObject() {
		return nil, core.NewInvalidRequestError("invalid request body: expected a JSON object", nil)
	}
	if doc.Get("stream").Bool() {
		return nil, core.NewInvalidRequestError("streaming is not supported", nil)
	}
	if msgs := doc.Get("messages"); !msgs.IsArray() || len(msgs.Array()) == 0 {
		return nil, core.NewInvalidRequestError("messages must not be empty", nil)
	}
	return &core.ChatRequest{Model: doc.Get("model").String(), Raw: body}, nil
}

func splitTags(header string) []string {
	if header == "" {
		return nil
	}
	var tags []string
	for _, t := range strings.Split(header, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

// handleError renders gateway errors with their status; anything else is a 500.
func handleError(c echo.Context, err error) error {
	var gatewayErr *core.GatewayError
	if errors.As(err, &gatewayErr) {
		return c.JSON(gatewayErr.HTTPStatusCode(), gatewayErr.ToJSON())
	}

	slog.Error("unexpected handler error", "error", err, "path", c.Path())
	return c.JSON(http.StatusInternalServerError, map[string]any{
		"error": map[string]any{
			"type":    "internal_error",
			"message": "an unexpected error occurred",
		},
	})
}
