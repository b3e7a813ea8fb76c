package handler

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/ingester/models"
)

// describeError maps err to an HTTP status and the API error body.
func describeError(err error) (int, *models.ErrorDetail) {
	var ie *models.IngestError
	if !errors.As(err, &ie) {
		ie = models.NewIngestError(models.ErrCodeInternal, err.Error(), nil)
	}
	return mapErrorToStatus(ie), ie.ToDetail()
}

// respondError writes err as a structured JSON error response.
func respondError(c *gin.Context, err error) {
	status, detail := describeError(err)
	c.JSON(status, models.ErrorResponse{Success: false, Error: detail})
}

// mapErrorToStatus translates error codes to HTTP status codes.
func mapErrorToStatus(e *models.IngestError) int {
	switch e.Code {
	case models.ErrCodeTimeout, models.ErrCodePipelineCanceled:
		return http.StatusGatewayTimeout // 504
	case models.ErrCodeNavigation, models.ErrCodePipeline, models.ErrCodeBrowserCrash:
		return http.StatusBadGateway // 502
	case models.ErrCodePipelineBusy:
		return http.StatusServiceUnavailable // 503
	case models.ErrCodeNoScraper, models.ErrCodeDetectScript,
		models.ErrCodeExtractScript, models.ErrCodeInvalidPattern:
		return http.StatusUnprocessableEntity // 422
	case models.ErrCodeNotFound:
		return http.StatusNotFound // 404
	case models.ErrCodeInvalidInput:
		return http.StatusBadRequest // 400
	case models.ErrCodeRateLimited:
		return http.StatusTooManyRequests // 429
	case models.ErrCodeUnauthorized:
		return http.StatusUnauthorized // 401
	default:
		return http.StatusInternalServerError // 500
	}
}
