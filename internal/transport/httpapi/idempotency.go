package httpapi

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/vladislavdragonenkov/pos/internal/domain"
)

const (
	idempotencyKeyHeader      = "Idempotency-Key"
	idempotencyReplayedHeader = "Idempotent-Replayed"
)

// operation выполняет запрос и возвращает статус и тело успешного ответа.
type operation func(ctx context.Context) (int, any, error)

// idempotent выполняет op с кешированием ответа по Idempotency-Key.
// Без заголовка (или без репозитория) запрос выполняется как обычно.
// Повтор с тем же телом возвращает сохранённый ответ, с другим телом отклоняется.
func (h *Handler) idempotent(c *gin.Context, req any, op operation) {
	ctx := c.Request.Context()
	key := strings.TrimSpace(c.GetHeader(idempotencyKeyHeader))
	if key == "" || h.idem == nil {
		status, body, err := op(ctx)
		if err != nil {
			h.writeError(c, err)
			return
		}
		c.JSON(status, body)
		return
	}

	reqHash, err := requestHash(c.Request.Method, c.FullPath(), c.Params, req)
	if err != nil {
		h.writeError(c, err)
		return
	}

	record, err := h.idem.CreateProcessing(ctx, key, reqHash, h.now().Add(h.idemTTL))
	if err != nil {
		h.replay(c, err, record)
		return
	}

	status, body, runErr := op(ctx)
	if runErr != nil {
		errStatus, detail := classify(runErr)
		payload, _ := json.Marshal(errorBody{Error: detail})
		if markErr := h.idem.MarkFailed(ctx, key, payload, errStatus); markErr != nil {
			h.logger.WithError(markErr).WithField("idempotency_key", key).Warn("failed to store idempotency failure response")
		}
		h.writeError(c, runErr)
		return
	}

	payload, err := json.Marshal(body)
	if err != nil {
		h.writeError(c, err)
		return
	}
	if markErr := h.idem.MarkDone(ctx, key, payload, status); markErr != nil {
		h.logger.WithError(markErr).WithField("idempotency_key", key).Warn("failed to store idempotent success response")
	}
	c.Data(status, gin.MIMEJSON, payload)
}

func (h *Handler) replay(c *gin.Context, createErr error, record domain.IdempotencyRecord) {
	switch {
	case errors.Is(createErr, domain.ErrIdempotencyHashMismatch):
		c.AbortWithStatusJSON(http.StatusUnprocessableEntity, errorBody{Error: errorDetail{
			Code:    codeIdempotencyReused,
			Message: "idempotency key is already used with different request payload",
		}})
	case errors.Is(createErr, domain.ErrIdempotencyKeyAlreadyExists):
		switch record.Status {
		case domain.IdempotencyStatusProcessing:
			c.AbortWithStatusJSON(http.StatusConflict, errorBody{Error: errorDetail{
				Code:    codeIdempotencyBusy,
				Message: "request with the same idempotency key is already processing",
			}})
		case domain.IdempotencyStatusDone, domain.IdempotencyStatusFailed:
			if len(record.ResponseBody) == 0 || record.HTTPStatus == 0 {
				h.writeError(c, errors.New("idempotency cache is empty"))
				return
			}
			c.Header(idempotencyReplayedHeader, "true")
			c.Data(record.HTTPStatus, gin.MIMEJSON, record.ResponseBody)
		default:
			h.writeError(c, errors.New("unknown idempotency record status"))
		}
	default:
		h.writeError(c, createErr)
	}
}

// requestHash связывает ключ с маршрутом, path-параметрами и телом запроса.
func requestHash(method, route string, params gin.Params, req any) (string, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return "", err
	}

	var b strings.Builder
	b.WriteString(method)
	b.WriteByte(' ')
	b.WriteString(route)
	for _, p := range params {
		b.WriteByte(' ')
		b.WriteString(p.Key)
		b.WriteByte('=')
		b.WriteString(p.Value)
	}
	b.WriteByte(':')
	b.Write(body)

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:]), nil
}
