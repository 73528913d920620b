package handlers

import (
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"messenger-service/internal/apperrors"
)

// respondError maps the error taxonomy onto HTTP statuses. Internal failures
// are logged and surfaced as a generic message.
func respondError(c *gin.Context, err error) {
	kind := apperrors.KindOf(err)

	status := http.StatusInternalServerError
	switch kind {
	case apperrors.KindValidation:
		status = http.StatusBadRequest
	case apperrors.KindAuthorization:
		status = http.StatusForbidden
	case apperrors.KindNotFound:
		status = http.StatusNotFound
	case apperrors.KindConflict:
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		log.Printf("internal error on %s %s: %v", c.Request.Method, c.Request.URL.Path, err)
	}

	c.JSON(status, gin.H{"error": apperrors.MessageOf(err), "kind": string(kind)})
}
