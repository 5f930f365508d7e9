package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/amirhdaghestani/openai-api/internal/provider"
)

// ModelsHandler serves the unmetered model listing endpoints.
type ModelsHandler struct {
	client *provider.Client
}

// NewModelsHandler constructs a ModelsHandler.
func NewModelsHandler(client *provider.Client) *ModelsHandler {
	return &ModelsHandler{client: client}
}

// List relays GET /v1/models. Listing consumes no quota.
func (h *ModelsHandler) List(c *gin.Context) {
	response, errDo := h.client.Do(c.Request.Context(), http.MethodGet, "/v1/models", nil)
	if errDo != nil {
		writeError(c, errDo)
		return
	}
	c.Data(http.StatusOK, "application/json", response)
}

// Get relays GET /v1/models/:model.
func (h *ModelsHandler) Get(c *gin.Context) {
	response, errDo := h.client.Do(c.Request.Context(), http.MethodGet, "/v1/models/"+c.Param("model"), nil)
	if errDo != nil {
		writeError(c, errDo)
		return
	}
	c.Data(http.StatusOK, "application/json", response)
}
