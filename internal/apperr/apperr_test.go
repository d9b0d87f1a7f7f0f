package apperr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAsThroughWrapping(t *testing.T) {
	base := NotFound(CodeCollectionNotFound, "Collection not found")
	wrapped := fmt.Errorf("resolving: %w", base)

	ae, ok := As(wrapped)
	assert.True(t, ok)
	assert.Equal(t, http.StatusNotFound, ae.Status)
	assert.Equal(t, CodeCollectionNotFound, CodeOf(wrapped))
}

func TestCodeOfPlainError(t *testing.T) {
	assert.Equal(t, "", CodeOf(errors.New("boom")))
	assert.Equal(t, "", CodeOf(nil))
}

func TestInternalKeepsCause(t *testing.T) {
	cause := errors.New("connection reset")
	err := Internal(CodeUpdateFailed, cause)

	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "Internal server error", err.Message)
}

func TestWithDetailsCopies(t *testing.T) {
	base := Conflict(CodeCaptiveHasDependents, "has dependents")
	withDetails := base.WithDetails(map[string]interface{}{"policies": 2})

	assert.Nil(t, base.Details)
	assert.Equal(t, 2, withDetails.Details["policies"])
}

func TestRender(t *testing.T) {
	t.Run("business error", func(t *testing.T) {
		status, body := Render(Conflict(CodeInvalidTransition, "already successful"))
		assert.Equal(t, http.StatusConflict, status)
		assert.Equal(t, map[string]interface{}{
			"error": map[string]interface{}{"message": "already successful", "code": CodeInvalidTransition},
		}, body)
	})

	t.Run("details are kept", func(t *testing.T) {
		err := Conflict(CodeCaptiveHasDependents, "in use").WithDetails(map[string]interface{}{"policies": 2})
		_, body := Render(err)
		inner := body["error"].(map[string]interface{})
		assert.Equal(t, map[string]interface{}{"policies": 2}, inner["details"])
	})

	t.Run("unknown error hides its cause", func(t *testing.T) {
		SetVerbose(false)
		status, body := Render(errors.New("pq: relation does not exist"))
		assert.Equal(t, http.StatusInternalServerError, status)
		inner := body["error"].(map[string]interface{})
		assert.Equal(t, CodeInternal, inner["code"])
		assert.Equal(t, "Internal server error", inner["message"])
		assert.NotContains(t, inner, "details")
	})

	t.Run("development shows the cause", func(t *testing.T) {
		SetVerbose(true)
		defer SetVerbose(false)
		_, body := Render(Internal(CodeUpdateFailed, errors.New("deadlock detected")))
		inner := body["error"].(map[string]interface{})
		assert.Equal(t, map[string]interface{}{"cause": "deadlock detected"}, inner["details"])
	})
}
