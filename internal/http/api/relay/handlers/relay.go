// Package handlers implements the OpenAI-compatible relay endpoints.
// Every metered endpoint runs the same admission sequence: resolve the
// caller, check capability and quota, invoke the downstream provider,
// then settle the account.
package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/amirhdaghestani/openai-api/internal/admission"
	"github.com/amirhdaghestani/openai-api/internal/apierror"
	"github.com/amirhdaghestani/openai-api/internal/http/middleware"
	"github.com/amirhdaghestani/openai-api/internal/logging"
	"github.com/amirhdaghestani/openai-api/internal/metrics"
	"github.com/amirhdaghestani/openai-api/internal/models"
	"github.com/amirhdaghestani/openai-api/internal/provider"
)

// RelayHandler serves the metered completion and embedding endpoints.
type RelayHandler struct {
	pipeline *admission.Pipeline
	client   *provider.Client
}

// NewRelayHandler constructs a RelayHandler.
func NewRelayHandler(pipeline *admission.Pipeline, client *provider.Client) *RelayHandler {
	return &RelayHandler{pipeline: pipeline, client: client}
}

// writeError maps any pipeline or downstream error onto the response.
// Provider errors keep their original status and message.
func writeError(c *gin.Context, err error) {
	var providerErr *provider.Error
	if errors.As(err, &providerErr) {
		status := providerErr.StatusCode
		if status <= 0 {
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, gin.H{"error": gin.H{"message": providerErr.Message}})
		return
	}
	if apiErr, ok := apierror.FromError(err); ok {
		c.JSON(apiErr.Status, gin.H{"error": gin.H{"message": apiErr.Message}})
		return
	}
	logging.WithGinRequest(c).WithError(err).Error("relay request failed")
	c.JSON(http.StatusInternalServerError, gin.H{"error": gin.H{"message": "internal error"}})
}

// Completions relays POST /v1/completions.
func (h *RelayHandler) Completions(c *gin.Context) {
	h.relay(c, admission.ActionCompletion, "/v1/completions")
}

// ChatCompletions relays POST /v1/chat/completions.
func (h *RelayHandler) ChatCompletions(c *gin.Context) {
	h.relay(c, admission.ActionChatCompletion, "/v1/chat/completions")
}

// Embeddings relays POST /v1/embeddings.
func (h *RelayHandler) Embeddings(c *gin.Context) {
	h.relay(c, admission.ActionEmbeddings, "/v1/embeddings")
}

// streamRequested peeks at the request payload's stream flag.
func streamRequested(payload []byte) bool {
	var probe struct {
		Stream bool `json:"stream"`
	}
	if errUnmarshal := json.Unmarshal(payload, &probe); errUnmarshal != nil {
		return false
	}
	return probe.Stream
}

// relay runs the admission sequence for one metered endpoint and
// forwards the provider response, streamed or not.
func (h *RelayHandler) relay(c *gin.Context, action admission.Action, path string) {
	caller := middleware.CallerFromContext(c)
	if caller == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": gin.H{"message": "missing caller identity"}})
		return
	}

	payload, errRead := io.ReadAll(c.Request.Body)
	if errRead != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "unreadable request body"}})
		return
	}

	ctx := c.Request.Context()
	if errAdmit := h.pipeline.Admit(ctx, caller, action); errAdmit != nil {
		metrics.AdmissionsTotal.WithLabelValues(action.Endpoint, "rejected").Inc()
		if apierror.IsKind(errAdmit, apierror.KindQuotaExceeded) {
			metrics.QuotaRejectionsTotal.WithLabelValues(string(action.Quota)).Inc()
		}
		writeError(c, errAdmit)
		return
	}

	requestedAt := time.Now()
	start := time.Now()

	streamable := action == admission.ActionChatCompletion || action == admission.ActionCompletion
	if streamable && streamRequested(payload) {
		h.relayStream(c, caller, action, path, payload, requestedAt)
		metrics.DownstreamDuration.WithLabelValues(action.Endpoint).Observe(time.Since(start).Seconds())
		return
	}

	response, errDo := h.client.Do(ctx, http.MethodPost, path, payload)
	metrics.DownstreamDuration.WithLabelValues(action.Endpoint).Observe(time.Since(start).Seconds())
	if errDo != nil {
		metrics.AdmissionsTotal.WithLabelValues(action.Endpoint, "failed").Inc()
		writeError(c, errDo)
		return
	}

	if errSettle := h.pipeline.Settle(ctx, caller, action, requestedAt); errSettle != nil {
		// The downstream call already succeeded; surface quota races
		// as 429 but keep other settle failures from hiding the result.
		if apierror.IsKind(errSettle, apierror.KindQuotaExceeded) {
			metrics.AdmissionsTotal.WithLabelValues(action.Endpoint, "rejected").Inc()
			writeError(c, errSettle)
			return
		}
		log.WithError(errSettle).WithField("user_id", caller.UserID).Error("settle failed after downstream success")
	}
	metrics.AdmissionsTotal.WithLabelValues(action.Endpoint, "accounted").Inc()
	c.Data(http.StatusOK, "application/json", response)
}

// relayStream forwards a streaming completion as server-sent events.
// Accounting settles as soon as the downstream stream opens; forwarding
// stops when the provider finishes or the client disconnects, and the
// request context binds the downstream connection so no further chunks
// are pulled after a disconnect.
func (h *RelayHandler) relayStream(c *gin.Context, caller *models.User, action admission.Action, path string, payload []byte, requestedAt time.Time) {
	ctx := c.Request.Context()
	stream, errStream := h.client.Stream(ctx, path, payload)
	if errStream != nil {
		metrics.AdmissionsTotal.WithLabelValues(action.Endpoint, "failed").Inc()
		writeError(c, errStream)
		return
	}
	defer stream.Close()

	if errSettle := h.pipeline.Settle(ctx, caller, action, requestedAt); errSettle != nil {
		if apierror.IsKind(errSettle, apierror.KindQuotaExceeded) {
			metrics.AdmissionsTotal.WithLabelValues(action.Endpoint, "rejected").Inc()
			writeError(c, errSettle)
			return
		}
		log.WithError(errSettle).WithField("user_id", caller.UserID).Error("settle failed after stream open")
	}
	metrics.AdmissionsTotal.WithLabelValues(action.Endpoint, "accounted").Inc()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	c.Stream(func(w io.Writer) bool {
		select {
		case <-ctx.Done():
			return false
		default:
		}
		chunk, errRecv := stream.Recv()
		if errRecv != nil {
			if errRecv != io.EOF {
				logging.WithGinRequest(c).WithError(errRecv).Warn("stream interrupted")
			}
			c.SSEvent("", "[DONE]")
			return false
		}
		metrics.StreamChunksTotal.Inc()
		c.SSEvent("", string(chunk))
		return true
	})
}
