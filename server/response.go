package server

import (
	"net/http"

	"github.com/gin-gonic/gin"

	afErrors "github.com/kbukum/autoflow/errors"
)

// RespondWithError renders err as {"error": {...}}. AppErrors keep their
// status; anything else becomes a 500.
func RespondWithError(c *gin.Context, err error) {
	appErr := afErrors.From(err)
	c.JSON(appErr.HTTPStatus, appErr.ToResponse())
}

// RespondOK sends a 200 with body.
func RespondOK(c *gin.Context, body any) {
	c.JSON(http.StatusOK, body)
}

// RespondCreated sends a 201 with body.
func RespondCreated(c *gin.Context, body any) {
	c.JSON(http.StatusCreated, body)
}

// RespondAccepted sends a 202 with body.
func RespondAccepted(c *gin.Context, body any) {
	c.JSON(http.StatusAccepted, body)
}

// RespondNoContent sends a 204 with no body.
func RespondNoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
