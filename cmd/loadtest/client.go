package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

const (
	idempotencyHeader = "Idempotency-Key"
	scenarioName      = "scenario"
	transportError    = "transport_error"
)

// posClient выполняет сценарии нагрузки через REST API и пишет каждый вызов в collector.
type posClient struct {
	rest *resty.Client
	cfg  config
	col  *collector
}

func newPOSClient(cfg config, col *collector) *posClient {
	rest := resty.New().
		SetBaseURL(cfg.baseURL).
		SetTimeout(cfg.timeout).
		SetHeader("Content-Type", "application/json")
	return &posClient{rest: rest, cfg: cfg, col: col}
}

// created — общая часть ответов на создание товара и продажи.
type created struct {
	ID int64 `json:"id"`
}

// post отправляет JSON и возвращает id созданной или изменённой сущности.
func (c *posClient) post(ctx context.Context, op, path, idempotencyKey string, body any) (int64, error) {
	var out created
	req := c.rest.R().SetContext(ctx).SetResult(&out)
	if body != nil {
		req.SetBody(body)
	}
	if idempotencyKey != "" {
		req.SetHeader(idempotencyHeader, idempotencyKey)
	}

	started := time.Now()
	resp, err := req.Execute(http.MethodPost, path)
	if err != nil {
		c.col.record(op, time.Since(started), transportError, false)
		return 0, fmt.Errorf("%s: %w", op, err)
	}
	c.col.record(op, time.Since(started), strconv.Itoa(resp.StatusCode()), resp.IsSuccess())
	if !resp.IsSuccess() {
		return 0, fmt.Errorf("%s: status %d: %s", op, resp.StatusCode(), strings.TrimSpace(resp.String()))
	}
	return out.ID, nil
}

// seedProduct заводит отдельный товар с большим остатком, чтобы прогон не упирался в сток.
func (c *posClient) seedProduct(ctx context.Context, runID string) (int64, error) {
	id, err := c.post(ctx, "CreateProduct", "/api/v1/products", "", map[string]any{
		"name":          "load-" + runID,
		"description":   "load test product",
		"price":         "9.99",
		"stockQuantity": c.cfg.seedStock,
	})
	if err == nil && id == 0 {
		err = errors.New("CreateProduct: empty id in response")
	}
	return id, err
}

// runScenario проводит продажу и, если выпало, отменяет её. Итог сценария тоже попадает в collector.
func (c *posClient) runScenario(ctx context.Context, productID int64, index int, runID string) (err error) {
	started := time.Now()
	defer func() {
		status := "ok"
		if err != nil {
			status = "failed"
		}
		c.col.record(scenarioName, time.Since(started), status, err == nil)
	}()

	saleID, err := c.post(ctx, "CreateSale", "/api/v1/sales", fmt.Sprintf("lt-create-%s-%d", runID, index), map[string]any{
		"customerName":  fmt.Sprintf("%s-%s-%d", c.cfg.customerTag, runID, index),
		"paymentMethod": c.cfg.paymentMethod,
		"saleItems":     []map[string]any{{"productId": productID, "quantity": c.cfg.quantity}},
	})
	if err != nil {
		return err
	}
	if saleID == 0 {
		return errors.New("CreateSale: empty id in response")
	}

	if c.cfg.mode != modeCreateCancel && !shouldCancelScenario(index, c.cfg.cancelRate) {
		return nil
	}
	_, err = c.post(ctx, "CancelSale", fmt.Sprintf("/api/v1/sales/%d/cancel", saleID), fmt.Sprintf("lt-cancel-%s-%d", runID, index), nil)
	return err
}

// shouldCancelScenario детерминированно отменяет cancelRate сценариев из каждой сотни.
func shouldCancelScenario(index, cancelRate int) bool {
	return index%100 < min(max(cancelRate, 0), 100)
}
