package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/amirhdaghestani/openai-api/internal/admission"
	"github.com/amirhdaghestani/openai-api/internal/apierror"
	"github.com/amirhdaghestani/openai-api/internal/auth"
	"github.com/amirhdaghestani/openai-api/internal/http/middleware"
	"github.com/amirhdaghestani/openai-api/internal/metrics"
	"github.com/amirhdaghestani/openai-api/internal/models"
	"github.com/amirhdaghestani/openai-api/internal/provider"
)

// FineTuneHandler serves file upload and fine-tune job endpoints, all
// gated by the fine-tune capability. Only job creation consumes quota;
// a successful cancellation refunds the consumed unit.
type FineTuneHandler struct {
	pipeline *admission.Pipeline
	client   *provider.Client
}

// NewFineTuneHandler constructs a FineTuneHandler.
func NewFineTuneHandler(pipeline *admission.Pipeline, client *provider.Client) *FineTuneHandler {
	return &FineTuneHandler{pipeline: pipeline, client: client}
}

// requireFineTune gates an endpoint on the fine-tune capability and
// returns the caller when allowed.
func requireFineTune(c *gin.Context) *models.User {
	caller := middleware.CallerFromContext(c)
	if caller == nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": gin.H{"message": "missing caller identity"}})
		return nil
	}
	if errCapability := auth.RequireCapability(caller, models.CapabilityFineTune); errCapability != nil {
		writeError(c, errCapability)
		return nil
	}
	return caller
}

// UploadFile relays POST /v1/files as multipart form data. Uploads are
// capability-gated but unmetered.
func (h *FineTuneHandler) UploadFile(c *gin.Context) {
	if requireFineTune(c) == nil {
		return
	}

	file, header, errFile := c.Request.FormFile("file")
	if errFile != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": gin.H{"message": "missing file field"}})
		return
	}
	defer file.Close()
	purpose := c.PostForm("purpose")
	if purpose == "" {
		purpose = "fine-tune"
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	if errField := writer.WriteField("purpose", purpose); errField != nil {
		writeError(c, errField)
		return
	}
	part, errPart := writer.CreateFormFile("file", header.Filename)
	if errPart != nil {
		writeError(c, errPart)
		return
	}
	if _, errCopy := io.Copy(part, file); errCopy != nil {
		writeError(c, errCopy)
		return
	}
	if errClose := writer.Close(); errClose != nil {
		writeError(c, errClose)
		return
	}

	response, errUpload := h.client.Upload(c.Request.Context(), "/v1/files", writer.FormDataContentType(), &body)
	if errUpload != nil {
		writeError(c, errUpload)
		return
	}
	c.Data(http.StatusOK, "application/json", response)
}

// ListFiles relays GET /v1/files.
func (h *FineTuneHandler) ListFiles(c *gin.Context) {
	if requireFineTune(c) == nil {
		return
	}
	response, errDo := h.client.Do(c.Request.Context(), http.MethodGet, "/v1/files", nil)
	if errDo != nil {
		writeError(c, errDo)
		return
	}
	c.Data(http.StatusOK, "application/json", response)
}

// Create relays POST /v1/fine-tunes and debits one fine-tune unit.
func (h *FineTuneHandler) Create(c *gin.Context) {
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
	action := admission.ActionFineTune
	if errAdmit := h.pipeline.Admit(ctx, caller, action); errAdmit != nil {
		metrics.AdmissionsTotal.WithLabelValues(action.Endpoint, "rejected").Inc()
		writeError(c, errAdmit)
		return
	}

	requestedAt := time.Now()
	response, errDo := h.client.Do(ctx, http.MethodPost, "/v1/fine-tunes", payload)
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

// List relays GET /v1/fine-tunes.
func (h *FineTuneHandler) List(c *gin.Context) {
	if requireFineTune(c) == nil {
		return
	}
	response, errDo := h.client.Do(c.Request.Context(), http.MethodGet, "/v1/fine-tunes", nil)
	if errDo != nil {
		writeError(c, errDo)
		return
	}
	c.Data(http.StatusOK, "application/json", response)
}

// Get relays GET /v1/fine-tunes/:id.
func (h *FineTuneHandler) Get(c *gin.Context) {
	if requireFineTune(c) == nil {
		return
	}
	response, errDo := h.client.Do(c.Request.Context(), http.MethodGet, "/v1/fine-tunes/"+c.Param("id"), nil)
	if errDo != nil {
		writeError(c, errDo)
		return
	}
	c.Data(http.StatusOK, "application/json", response)
}

// Cancel relays POST /v1/fine-tunes/:id/cancel and, when the job ends
// up cancelled, credits the unit back with a compensating event.
func (h *FineTuneHandler) Cancel(c *gin.Context) {
	caller := requireFineTune(c)
	if caller == nil {
		return
	}

	ctx := c.Request.Context()
	response, errDo := h.client.Do(ctx, http.MethodPost, "/v1/fine-tunes/"+c.Param("id")+"/cancel", nil)
	if errDo != nil {
		writeError(c, errDo)
		return
	}

	var job struct {
		Status string `json:"status"`
	}
	if errUnmarshal := json.Unmarshal(response, &job); errUnmarshal == nil && job.Status == "cancelled" {
		if errReverse := h.pipeline.Reverse(ctx, caller.UserID, admission.ActionFineTune, time.Now()); errReverse != nil {
			writeError(c, errReverse)
			return
		}
	}
	c.Data(http.StatusOK, "application/json", response)
}
