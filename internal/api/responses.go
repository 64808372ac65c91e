package api

import (
	stderrors "errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/NikhilSetiya/smart-bug-triage/pkg/errors"
)

// APIResponse represents a standard API response
type APIResponse struct {
	Success   bool        `json:"success"`
	Data      interface{} `json:"data,omitempty"`
	Error     *APIError   `json:"error,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
	Timestamp time.Time   `json:"timestamp"`
}

// APIError represents an API error
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

func requestID(c *gin.Context) string {
	if id, ok := c.Get(requestIDKey); ok {
		if s, ok := id.(string); ok {
			return s
		}
	}
	return ""
}

// SuccessResponse sends a 200 response wrapping data
func SuccessResponse(c *gin.Context, data interface{}) {
	respond(c, http.StatusOK, data, nil)
}

// CreatedResponse sends a 201 response wrapping data
func CreatedResponse(c *gin.Context, data interface{}) {
	respond(c, http.StatusCreated, data, nil)
}

// ErrorResponseFromError sends an error response based on the error type.
// data, when non-nil, is returned alongside the error.
func ErrorResponseFromError(c *gin.Context, err error, data interface{}) {
	var appErr *errors.AppError
	if !stderrors.As(err, &appErr) {
		respond(c, http.StatusInternalServerError, data, &APIError{
			Code:    "UNKNOWN_ERROR",
			Message: "An unknown error occurred",
		})
		return
	}

	apiError := &APIError{Code: appErr.Code, Message: appErr.Message}
	if len(appErr.Details) > 0 {
		apiError.Details = make(map[string]interface{}, len(appErr.Details))
		for k, v := range appErr.Details {
			apiError.Details[k] = v
		}
	}
	respond(c, statusFor(appErr.Type), data, apiError)
}

// BadRequestResponse sends a 400 Bad Request response
func BadRequestResponse(c *gin.Context, message string) {
	respond(c, http.StatusBadRequest, nil, &APIError{Code: "BAD_REQUEST", Message: message})
}

func statusFor(t errors.ErrorType) int {
	switch t {
	case errors.ErrorTypeValidation:
		return http.StatusBadRequest
	case errors.ErrorTypeNotFound:
		return http.StatusNotFound
	case errors.ErrorTypeRateLimit:
		return http.StatusTooManyRequests
	case errors.ErrorTypeTimeout:
		return http.StatusGatewayTimeout
	case errors.ErrorTypeUnavailable, errors.ErrorTypeExternal:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func respond(c *gin.Context, statusCode int, data interface{}, apiError *APIError) {
	c.JSON(statusCode, APIResponse{
		Success:   apiError == nil,
		Data:      data,
		Error:     apiError,
		RequestID: requestID(c),
		Timestamp: time.Now(),
	})
}
