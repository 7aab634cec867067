package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"notification-relay/internal/keystore"
	"notification-relay/internal/response"
	"notification-relay/internal/services"
	"notification-relay/pkg/logging"
)

// Error codes returned in the response envelope
const (
	CodeInvalidBody      = "invalid_body"
	CodeMalformedToken   = "malformed_token"
	CodeKeyNotFound      = "key_not_found"
	CodeNoKeyMaterial    = "no_key_material"
	CodeSignatureInvalid = "signature_invalid"
	CodeKeySourceDown    = "key_source_unavailable"
	CodeDuplicate        = "duplicate_notification"
	CodeForwardFailed    = "forward_failed"
	CodeInternal         = "internal_error"
)

// NotificationProcessor runs a notification body through verification and delivery.
type NotificationProcessor interface {
	Process(ctx context.Context, body []byte) (*services.PipelineResult, error)
}

// NotificationHandler serves App Store Server Notifications V2.
type NotificationHandler struct {
	pipeline NotificationProcessor
}

// NewNotificationHandler creates a handler backed by pipeline.
func NewNotificationHandler(pipeline NotificationProcessor) *NotificationHandler {
	return &NotificationHandler{pipeline: pipeline}
}

// HandleNotification handles notifications from any environment
// POST /api/appstore/notifications
func (h *NotificationHandler) HandleNotification(c *gin.Context) {
	h.process("", c)
}

// HandleProductionNotification handles production environment notifications
// POST /api/appstore/notifications/production
func (h *NotificationHandler) HandleProductionNotification(c *gin.Context) {
	h.process("production", c)
}

// HandleSandboxNotification handles sandbox environment notifications
// POST /api/appstore/notifications/sandbox
func (h *NotificationHandler) HandleSandboxNotification(c *gin.Context) {
	h.process("sandbox", c)
}

func (h *NotificationHandler) process(endpoint string, c *gin.Context) {
	startTime := time.Now()

	body, err := c.GetRawData()
	if err != nil {
		logging.Errorf("Failed to read request body: %v", err)
		response.ErrorJSON(c, http.StatusBadRequest, CodeInvalidBody, "Failed to read request body")
		return
	}

	result, err := h.pipeline.Process(c.Request.Context(), body)
	if err != nil {
		status, code := classifyError(err)
		logging.Errorf("Notification rejected - endpoint: %s, status: %d, code: %s, error: %v", endpoint, status, code, err)
		response.ErrorJSON(c, status, code, err.Error())
		return
	}

	if result.Bypassed {
		contentType := c.ContentType()
		if contentType == "" {
			contentType = "application/json"
		}
		c.Data(http.StatusOK, contentType, result.Body)
		return
	}

	logging.Infof("AppStore notification processed - endpoint: %s, operation: %s, notification: %s, status: %d, time: %v",
		endpoint, result.Event.Operation, result.Event.NotificationID, result.StatusCode, time.Since(startTime))

	if result.StatusCode < 200 || result.StatusCode >= 300 {
		response.JSON(c, result.StatusCode, response.Response{
			Success: false,
			Code:    CodeForwardFailed,
			Message: "Forward target rejected the event",
			Data:    result.Event,
		})
		return
	}
	response.JSON(c, result.StatusCode, response.Success("Notification processed successfully", result.Event))
}

// classifyError maps pipeline errors to an HTTP status and an error code.
func classifyError(err error) (int, string) {
	switch {
	case errors.Is(err, services.ErrMalformedToken):
		return http.StatusBadRequest, CodeMalformedToken
	case errors.Is(err, keystore.ErrKeyNotFound):
		return http.StatusUnauthorized, CodeKeyNotFound
	case errors.Is(err, keystore.ErrNoKeyMaterial):
		return http.StatusUnauthorized, CodeNoKeyMaterial
	case errors.Is(err, services.ErrSignatureInvalid):
		return http.StatusUnauthorized, CodeSignatureInvalid
	case errors.Is(err, keystore.ErrKeySourceUnavailable):
		return http.StatusServiceUnavailable, CodeKeySourceDown
	case errors.Is(err, services.ErrDuplicateNotification):
		return http.StatusConflict, CodeDuplicate
	case errors.Is(err, services.ErrForwardFailed):
		return http.StatusBadGateway, CodeForwardFailed
	default:
		return http.StatusInternalServerError, CodeInternal
	}
}
