package apperrors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindValidation, KindOf(Validation("bad input")))
	assert.Equal(t, KindAuthorization, KindOf(Authorization("nope")))
	assert.Equal(t, KindNotFound, KindOf(NotFound("chat %d not found", 7)))
	assert.Equal(t, KindConflict, KindOf(Conflict("duplicate")))
	assert.Equal(t, KindInternal, KindOf(errors.New("boom")))
	assert.Equal(t, KindInternal, KindOf(Internal("storage down", errors.New("boom"))))
}

func TestKindOfWrapped(t *testing.T) {
	err := fmt.Errorf("append message: %w", NotFound("chat 7 not found"))
	assert.Equal(t, KindNotFound, KindOf(err))
	assert.Equal(t, "chat 7 not found", MessageOf(err))
}

func TestMessageOfHidesInternals(t *testing.T) {
	cause := errors.New("pq: connection refused")
	err := Internal("storage unavailable", cause)

	assert.Equal(t, "storage unavailable", MessageOf(err))
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "internal server error", MessageOf(cause))
}

func TestErrorString(t *testing.T) {
	assert.Equal(t, "bad input", Validation("bad input").Error())
	assert.Equal(t, "storage down: boom", Internal("storage down", errors.New("boom")).Error())
}
