package response

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/lessonforge/internal/modules/lesson"
)

type APIError struct {
	Message   string `json:"message"`
	Code      string `json:"code,omitempty"`
	Kind      string `json:"kind,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

type ErrorEnvelope struct {
	Error APIError `json:"error"`
}

func RespondError(c *gin.Context, status int, code string, err error) {
	msg := "unknown error"
	if err != nil {
		msg = err.Error()
	}
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message: msg,
			Code:    code,
		},
	})
}

// RespondPipelineError maps err through the pipeline's error taxonomy.
func RespondPipelineError(c *gin.Context, err error) {
	status, code := StatusFor(err)
	kind := lesson.Classify(err)
	c.JSON(status, ErrorEnvelope{
		Error: APIError{
			Message:   err.Error(),
			Code:      code,
			Kind:      string(kind),
			Retryable: kind == lesson.KindTransient,
		},
	})
}

// StatusFor picks the HTTP status and error code for a pipeline error.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, lesson.ErrInvalidInput):
		return http.StatusBadRequest, "invalid_input"
	case errors.Is(err, lesson.ErrNotFound):
		return http.StatusNotFound, "not_found"
	case errors.Is(err, lesson.ErrUnauthorized):
		return http.StatusUnauthorized, "unauthorized"
	case errors.Is(err, lesson.ErrPrecondition):
		return http.StatusConflict, "precondition_failed"
	case errors.Is(err, lesson.ErrQuality):
		return http.StatusUnprocessableEntity, "quality_blocking"
	case errors.Is(err, lesson.ErrSchemaExhausted):
		return http.StatusBadGateway, "schema_exhausted"
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout, "timeout"
	case errors.Is(err, context.Canceled):
		return 499, "canceled"
	}
	if lesson.IsRetryable(err) {
		return http.StatusServiceUnavailable, "generation_unavailable"
	}
	return http.StatusInternalServerError, "internal"
}

func RespondOK(c *gin.Context, payload any) {
	c.JSON(http.StatusOK, payload)
}
