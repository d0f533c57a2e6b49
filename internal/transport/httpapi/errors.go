package httpapi

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

// Коды ошибок в теле ответа.
const (
	codeBadRequest        = "BAD_REQUEST"
	codeValidation        = "VALIDATION_ERROR"
	codeNotFound          = "NOT_FOUND"
	codeInsufficientStock = "INSUFFICIENT_STOCK"
	codeInvalidState      = "INVALID_STATE"
	codeInvalidOperation  = "INVALID_OPERATION"
	codeConflict          = "CONFLICT"
	codeProductInUse      = "PRODUCT_IN_USE"
	codeIdempotencyReused = "IDEMPOTENCY_KEY_REUSED"
	codeIdempotencyBusy   = "IDEMPOTENCY_IN_PROGRESS"
	codeInternal          = "INTERNAL"
)

// badRequestError — запрос не разобран (JSON, path/query параметры).
type badRequestError struct {
	msg string
}

func (e *badRequestError) Error() string { return e.msg }

func badRequest(msg string) error { return &badRequestError{msg: msg} }

// classify сопоставляет ошибку со статусом HTTP и кодом ответа.
func classify(err error) (int, errorDetail) {
	var badReq *badRequestError
	switch {
	case errors.As(err, &badReq):
		return http.StatusBadRequest, errorDetail{Code: codeBadRequest, Message: err.Error()}
	case errors.Is(err, domain.ErrValidation):
		return http.StatusBadRequest, errorDetail{Code: codeValidation, Message: err.Error()}
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound, errorDetail{Code: codeNotFound, Message: err.Error()}
	case errors.Is(err, domain.ErrInsufficientStock):
		return http.StatusConflict, errorDetail{Code: codeInsufficientStock, Message: err.Error()}
	case errors.Is(err, domain.ErrInvalidState):
		return http.StatusConflict, errorDetail{Code: codeInvalidState, Message: err.Error()}
	case errors.Is(err, domain.ErrInvalidOperation):
		return http.StatusUnprocessableEntity, errorDetail{Code: codeInvalidOperation, Message: err.Error()}
	case errors.Is(err, domain.ErrProductInUse):
		return http.StatusConflict, errorDetail{Code: codeProductInUse, Message: err.Error()}
	case errors.Is(err, domain.ErrConflict):
		return http.StatusConflict, errorDetail{Code: codeConflict, Message: err.Error()}
	case errors.Is(err, domain.ErrIdempotencyHashMismatch):
		return http.StatusUnprocessableEntity, errorDetail{Code: codeIdempotencyReused, Message: err.Error()}
	default:
		// Текст внутренних ошибок наружу не отдаётся.
		return http.StatusInternalServerError, errorDetail{Code: codeInternal, Message: "internal server error"}
	}
}

func (h *Handler) writeError(c *gin.Context, err error) {
	status, detail := classify(err)
	entry := h.logger.WithError(err).WithFields(log.Fields{
		"method": c.Request.Method,
		"route":  c.FullPath(),
		"status": status,
	})
	if status >= http.StatusInternalServerError {
		entry.Error("request failed")
	} else {
		entry.Warn("request rejected")
	}
	c.AbortWithStatusJSON(status, errorBody{Error: detail})
}
