package response

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yungbote/lessonforge/internal/modules/lesson"
)

func TestStatusFor(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		code   string
	}{
		{"invalid", fmt.Errorf("compile: %w", lesson.ErrInvalidInput), http.StatusBadRequest, "invalid_input"},
		{"missing", fmt.Errorf("x: %w", lesson.ErrNotFound), http.StatusNotFound, "not_found"},
		{"precondition", lesson.ErrPrecondition, http.StatusConflict, "precondition_failed"},
		{"quality", lesson.ErrQuality, http.StatusUnprocessableEntity, "quality_blocking"},
		{"deadline", context.DeadlineExceeded, http.StatusGatewayTimeout, "timeout"},
		{"content retryable", &lesson.StageError{Stage: lesson.StageContent, Reason: "503", Retryable: true}, http.StatusServiceUnavailable, "generation_unavailable"},
		{"content permanent", &lesson.StageError{Stage: lesson.StageContent, Reason: "400"}, http.StatusInternalServerError, "internal"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, code := StatusFor(tc.err)
			assert.Equal(t, tc.status, status)
			assert.Equal(t, tc.code, code)
		})
	}
}

func TestRespondPipelineErrorEnvelope(t *testing.T) {
	gin.SetMode(gin.TestMode)
	rec := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(rec)

	RespondPipelineError(c, &lesson.StageError{Stage: lesson.StageContent, Reason: "upstream 503", Retryable: true})

	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
	var env ErrorEnvelope
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &env))
	assert.Equal(t, "transient", env.Error.Kind)
	assert.True(t, env.Error.Retryable)
	assert.Contains(t, env.Error.Message, "content")
}
