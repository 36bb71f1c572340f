package api

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/notes"
	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/phierr"
	"github.com/rafaelminatto1/fisioflow-51658291-sub019/internal/store"
)

// httpError maps a repository error to a response. Messages for crypto
// failures are generic; the details only go to the log.
func httpError(err error) *echo.HTTPError {
	var failure *notes.DecryptionFailure
	switch {
	case errors.Is(err, phierr.ErrNotAuthenticated):
		return echo.NewHTTPError(http.StatusUnauthorized, "not authenticated")
	case errors.Is(err, store.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "note not found")
	case errors.Is(err, phierr.ErrInvalidNote), errors.Is(err, store.ErrInvalidQuery):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, phierr.ErrKMSUnavailable), errors.Is(err, phierr.ErrKeyStoreUnavailable):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "key service unavailable")
	case errors.As(err, &failure),
		errors.Is(err, phierr.ErrEncryptionFailed),
		errors.Is(err, phierr.ErrDecryptionFailed):
		return echo.NewHTTPError(http.StatusInternalServerError, "note could not be processed")
	default:
		return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
	}
}
