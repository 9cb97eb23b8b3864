package handlers

import (
	"errors"

	"github.com/gin-gonic/gin"

	"github.com/tkarlsen/mealcard/internal/reader"
	"github.com/tkarlsen/mealcard/internal/services"
	appErrors "github.com/tkarlsen/mealcard/pkg/errors"
	"github.com/tkarlsen/mealcard/pkg/response"
)

// serviceError maps domain errors from the service and reader layers onto
// API error codes, falling back to a generic mapping for everything else.
func serviceError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, services.ErrCardNotFound):
		response.Error(c, appErrors.ErrCardNotFound)
	case errors.Is(err, services.ErrCardInactive):
		response.Error(c, appErrors.ErrCardInactive)
	case errors.Is(err, services.ErrInsufficientBalance):
		response.Error(c, appErrors.ErrInsufficientBalance)
	case errors.Is(err, services.ErrInvalidCredentials):
		response.Error(c, appErrors.ErrInvalidCredentials)
	case errors.Is(err, reader.ErrUnavailable):
		response.Error(c, appErrors.ErrReaderUnavailable)
	case errors.Is(err, reader.ErrTimedOut):
		response.Error(c, appErrors.ErrCardTimeout)
	case errors.Is(err, reader.ErrIntegrity):
		response.Error(c, appErrors.ErrDataIntegrity)
	default:
		response.Error(c, err)
	}
}
