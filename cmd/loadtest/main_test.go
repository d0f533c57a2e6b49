package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vladislavdragonenkov/pos/internal/metrics"
	"github.com/vladislavdragonenkov/pos/internal/service/catalog"
	"github.com/vladislavdragonenkov/pos/internal/service/sale"
	"github.com/vladislavdragonenkov/pos/internal/storage/memory"
	"github.com/vladislavdragonenkov/pos/internal/transport/httpapi"
)

func newTestServer(t *testing.T) (*httptest.Server, *memory.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := memory.NewStore()
	handler := httpapi.NewHandler(
		catalog.NewService(store, store.Products(), store.Categories(), nil),
		sale.NewWorkflow(store, store.Sales()),
		httpapi.Options{
			Idempotency: memory.NewIdempotencyRepository(),
			Metrics:     metrics.NewHTTPMetrics(prometheus.NewRegistry()),
		},
	)
	srv := httptest.NewServer(handler.Router())
	t.Cleanup(srv.Close)
	return srv, store
}

func parse(t *testing.T, args ...string) (config, error) {
	t.Helper()
	return parseConfig(flag.NewFlagSet("loadtest", flag.ContinueOnError), args)
}

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := parse(t)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080", cfg.baseURL)
	assert.Equal(t, modeCreate, cfg.mode)
	assert.Equal(t, 400, cfg.total)
	assert.False(t, cfg.totalSet)
	assert.Equal(t, 1, cfg.quantity)
}

func TestParseConfig_Overrides(t *testing.T) {
	cfg, err := parse(t, "-base-url=http://pos:8080/", "-mode=create-cancel", "-duration=1m", "-total=10", "-product-id=7")
	require.NoError(t, err)
	assert.Equal(t, "http://pos:8080", cfg.baseURL)
	assert.Equal(t, modeCreateCancel, cfg.mode)
	assert.Equal(t, time.Minute, cfg.duration)
	assert.True(t, cfg.totalSet)
	assert.Equal(t, int64(7), cfg.productID)
	assert.Equal(t, "duration:1m0s,max-total:10", runTarget(cfg))
}

func TestParseConfig_Errors(t *testing.T) {
	tests := map[string][]string{
		"bad mode":          {"-mode=create-pay"},
		"zero concurrency":  {"-concurrency=0"},
		"zero quantity":     {"-quantity=0"},
		"cancel rate":       {"-cancel-rate=101"},
		"no seed stock":     {"-seed-stock=0"},
		"negative duration": {"-duration=-1s"},
		"empty url":         {"-base-url= "},
	}
	for name, args := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := parse(t, args...)
			require.Error(t, err)
		})
	}
}

func TestShouldCancelScenario(t *testing.T) {
	assert.False(t, shouldCancelScenario(3, 0))
	assert.True(t, shouldCancelScenario(99, 100))
	assert.True(t, shouldCancelScenario(124, 25))
	assert.False(t, shouldCancelScenario(125, 25))
}

func TestNearestRank(t *testing.T) {
	sorted := []time.Duration{1 * time.Millisecond, 2 * time.Millisecond, 3 * time.Millisecond, 4 * time.Millisecond}
	assert.Zero(t, nearestRank(nil, 50))
	assert.Equal(t, 2*time.Millisecond, nearestRank(sorted, 50))
	assert.Equal(t, 4*time.Millisecond, nearestRank(sorted, 95))
	assert.Equal(t, 1*time.Millisecond, nearestRank(sorted, 0))
}

func TestSummarize(t *testing.T) {
	summary := summarize([]time.Duration{4 * time.Millisecond, time.Millisecond, 3 * time.Millisecond, 2 * time.Millisecond})
	assert.Equal(t, 1.0, summary.Min)
	assert.Equal(t, 4.0, summary.Max)
	assert.Equal(t, 2.5, summary.Avg)
	assert.Equal(t, 2.0, summary.P50)
	assert.Equal(t, latencySummary{}, summarize(nil))
}

func TestRunLoad_CountsFailures(t *testing.T) {
	cfg := config{total: 10, concurrency: 3}
	failures := runLoad(cfg, func(_ context.Context, index int) error {
		if index%2 == 0 {
			return errors.New("boom")
		}
		return nil
	})
	assert.Equal(t, int64(5), failures)
}

func TestRunLoad_DurationStopsDispatch(t *testing.T) {
	cfg := config{duration: 50 * time.Millisecond, concurrency: 2}
	var calls atomic.Int64
	failures := runLoad(cfg, func(ctx context.Context, _ int) error {
		calls.Add(1)
		time.Sleep(5 * time.Millisecond)
		return ctx.Err()
	})
	assert.Zero(t, failures, "started scenarios run to completion")
	assert.Positive(t, calls.Load())
}

func TestScenario_CreateCancelAgainstAPI(t *testing.T) {
	srv, store := newTestServer(t)

	cfg, err := parse(t, "-base-url="+srv.URL, "-mode=create-cancel", "-seed-stock=5", "-quantity=2")
	require.NoError(t, err)

	col := newCollector()
	client := newPOSClient(cfg, col)
	productID, err := client.seedProduct(context.Background(), "run")
	require.NoError(t, err)

	for i := range 3 {
		require.NoError(t, client.runScenario(context.Background(), productID, i, "run"))
	}

	product, err := store.Products().GetByID(context.Background(), productID)
	require.NoError(t, err)
	assert.Equal(t, 5, product.StockQuantity, "cancel restores the sold quantity")

	result := col.buildReport(time.Now(), time.Second)
	assert.Equal(t, int64(3), result.SuccessScenarios)
	assert.Equal(t, int64(3), result.Calls["CreateSale"].Statuses["201"])
	assert.Equal(t, int64(3), result.Calls["CancelSale"].Statuses["200"])
	assert.Equal(t, int64(1), result.Calls["CreateProduct"].Success)

	var out bytes.Buffer
	printReport(&out, result, cfg)
	assert.Contains(t, out.String(), "CALL")
	assert.Regexp(t, `CancelSale\s+3\s+0\s+`, out.String())
	assert.Contains(t, out.String(), "200=3")
}

func TestScenario_InsufficientStockFails(t *testing.T) {
	srv, _ := newTestServer(t)

	cfg, err := parse(t, "-base-url="+srv.URL, "-seed-stock=1")
	require.NoError(t, err)

	col := newCollector()
	client := newPOSClient(cfg, col)
	productID, err := client.seedProduct(context.Background(), "run")
	require.NoError(t, err)

	require.NoError(t, client.runScenario(context.Background(), productID, 0, "run"))
	require.Error(t, client.runScenario(context.Background(), productID, 1, "run"))

	result := col.buildReport(time.Now(), time.Second)
	assert.Equal(t, int64(1), result.FailedScenarios)
	assert.Equal(t, int64(1), result.Calls["CreateSale"].Failed)
}

func TestWriteJSONReport(t *testing.T) {
	dir := t.TempDir()
	wd, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(wd) })

	require.NoError(t, writeJSONReport("report.json", report{TotalScenarios: 2}))
	raw, err := os.ReadFile(filepath.Join(dir, "report.json"))
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"total_scenarios": 2`)

	require.Error(t, writeJSONReport("../escape.json", report{}))
	require.Error(t, writeJSONReport(".", report{}))
}
