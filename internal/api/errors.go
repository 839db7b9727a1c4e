package api

import (
	"net/http"

	"restaurant-pos/internal/apperr"
	"restaurant-pos/internal/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

var kindStatus = map[apperr.Kind]int{
	apperr.KindValidation:             http.StatusBadRequest,
	apperr.KindInsufficientStock:      http.StatusConflict,
	apperr.KindInvalidStateTransition: http.StatusConflict,
	apperr.KindShiftAlreadyOpen:       http.StatusConflict,
	apperr.KindShiftAlreadyClosed:     http.StatusConflict,
	apperr.KindShiftNotOpen:           http.StatusConflict,
	apperr.KindConflict:               http.StatusConflict,
	apperr.KindTimeout:                http.StatusServiceUnavailable,
	apperr.KindNotFound:               http.StatusNotFound,
	apperr.KindForbidden:              http.StatusForbidden,
	apperr.KindIntegrity:              http.StatusInternalServerError,
}

// statusFor maps an error kind to an HTTP status
func statusFor(kind apperr.Kind) int {
	if status, ok := kindStatus[kind]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// respondError writes err as {"error": {"kind", "message"}}. Internal errors
// are logged and their details are not returned.
func respondError(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := statusFor(kind)

	message := apperr.Message(err)
	if kind == apperr.KindInternal {
		util.GetLogger().Error("Request failed",
			zap.String("method", c.Request.Method),
			zap.String("path", c.FullPath()),
			zap.Error(err),
		)
		message = "internal error"
	}

	c.JSON(status, gin.H{
		"error": gin.H{
			"kind":    kind,
			"message": message,
		},
	})
}

func badRequest(c *gin.Context, format string, args ...interface{}) {
	respondError(c, apperr.Validation(format, args...))
}
