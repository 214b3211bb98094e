package api

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"assetforge/internal/blob"
	"assetforge/internal/capacity"
	"assetforge/internal/definition"
	"assetforge/internal/fieldtype"
	"assetforge/internal/logging"
	"assetforge/internal/manager"
	"assetforge/internal/materialize"
	"assetforge/internal/rights"
)

// statusFor сопоставляет ошибку домена HTTP-статусу.
func statusFor(err error) int {
	var (
		verrs        fieldtype.ValidationErrors
		verr         *fieldtype.ValidationError
		unsupported  *fieldtype.UnsupportedFieldTypeError
		unknownCap   *capacity.UnknownCapacityError
		incompatible *capacity.IncompatibleError
	)
	switch {
	case errors.As(err, &verrs), errors.As(err, &verr),
		errors.As(err, &unsupported), errors.As(err, &unknownCap), errors.As(err, &incompatible),
		errors.Is(err, manager.ErrConfirmation),
		errors.Is(err, materialize.ErrUnknownField), errors.Is(err, definition.ErrUnknownField),
		errors.Is(err, blob.ErrInvalidKey):
		return http.StatusBadRequest
	case errors.Is(err, rights.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, definition.ErrNotFound), errors.Is(err, materialize.ErrCapacityDisabled):
		return http.StatusNotFound
	case errors.Is(err, definition.ErrDuplicateSystemName), errors.Is(err, manager.ErrTableExists),
		errors.Is(err, manager.ErrInUse), errors.Is(err, manager.ErrTypeImmutable),
		errors.Is(err, materialize.ErrInactive):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

// writeError: ошибки валидации уходят списком по полям, сбой схемы - с таблицей и колонкой.
func writeError(c *gin.Context, err error) {
	status := statusFor(err)

	var verrs fieldtype.ValidationErrors
	if errors.As(err, &verrs) {
		c.JSON(status, gin.H{"errors": verrs})
		return
	}
	var verr *fieldtype.ValidationError
	if errors.As(err, &verr) {
		c.JSON(status, gin.H{"errors": fieldtype.ValidationErrors{verr}})
		return
	}
	var syncErr *manager.SchemaSyncError
	if errors.As(err, &syncErr) {
		logging.Error("schema sync failed", "op", syncErr.Op, "stage", syncErr.Stage,
			"table", syncErr.Table, "column", syncErr.Column, "error", err.Error())
		c.JSON(status, gin.H{
			"error":  "schema sync failed",
			"op":     syncErr.Op,
			"stage":  syncErr.Stage,
			"table":  syncErr.Table,
			"column": syncErr.Column,
		})
		return
	}
	if status == http.StatusInternalServerError {
		logging.Error("request failed", "path", c.FullPath(), "error", err.Error())
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
