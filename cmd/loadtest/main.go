// Command loadtest нагружает POS API сценариями продажи и отмены и печатает сводку задержек.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

type loadMode string

const (
	modeCreate       loadMode = "create"
	modeCreateCancel loadMode = "create-cancel"
)

type config struct {
	baseURL       string
	total         int
	totalSet      bool
	duration      time.Duration
	concurrency   int
	timeout       time.Duration
	mode          loadMode
	cancelRate    int
	productID     int64
	seedStock     int
	quantity      int
	paymentMethod string
	customerTag   string
	outputPath    string
}

func parseConfig(fs *flag.FlagSet, args []string) (config, error) {
	var (
		cfg       config
		modeValue string
	)

	fs.StringVar(&cfg.baseURL, "base-url", "http://localhost:8080", "POS REST API base URL")
	fs.IntVar(&cfg.total, "total", 400, "total scenarios to execute in count mode; in duration mode only used when explicitly set")
	fs.DurationVar(&cfg.duration, "duration", 0, "optional time-based run duration (e.g. 10m, 15m)")
	fs.IntVar(&cfg.concurrency, "concurrency", 40, "number of concurrent workers")
	fs.DurationVar(&cfg.timeout, "timeout", 5*time.Second, "per-request timeout")
	fs.StringVar(&modeValue, "mode", string(modeCreate), "load mode: create | create-cancel")
	fs.IntVar(&cfg.cancelRate, "cancel-rate", 0, "cancel probability in percent for create mode (0..100)")
	fs.Int64Var(&cfg.productID, "product-id", 0, "product to sell; 0 creates a dedicated product")
	fs.IntVar(&cfg.seedStock, "seed-stock", 1_000_000, "stock of the dedicated product when -product-id is not set")
	fs.IntVar(&cfg.quantity, "quantity", 1, "quantity per sale line")
	fs.StringVar(&cfg.paymentMethod, "payment-method", "CARD", "sale payment method")
	fs.StringVar(&cfg.customerTag, "customer-tag", "load", "customer name prefix")
	fs.StringVar(&cfg.outputPath, "output", "", "optional JSON report output file path")
	if err := fs.Parse(args); err != nil {
		return cfg, err
	}

	fs.Visit(func(f *flag.Flag) {
		if f.Name == "total" {
			cfg.totalSet = true
		}
	})

	mode, err := parseMode(modeValue)
	if err != nil {
		return cfg, err
	}
	cfg.mode = mode
	cfg.baseURL = strings.TrimRight(strings.TrimSpace(cfg.baseURL), "/")

	switch {
	case cfg.baseURL == "":
		return cfg, errors.New("base-url is required")
	case cfg.duration < 0:
		return cfg, errors.New("duration must be >= 0")
	case cfg.duration == 0 && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when duration is not set")
	case cfg.duration > 0 && cfg.totalSet && cfg.total <= 0:
		return cfg, errors.New("total must be > 0 when explicitly set with duration")
	case cfg.concurrency <= 0:
		return cfg, errors.New("concurrency must be > 0")
	case cfg.timeout <= 0:
		return cfg, errors.New("timeout must be > 0")
	case cfg.quantity <= 0:
		return cfg, errors.New("quantity must be > 0")
	case cfg.productID < 0:
		return cfg, errors.New("product-id must be >= 0")
	case cfg.productID == 0 && cfg.seedStock <= 0:
		return cfg, errors.New("seed-stock must be > 0")
	case cfg.cancelRate < 0 || cfg.cancelRate > 100:
		return cfg, errors.New("cancel-rate must be between 0 and 100")
	case strings.TrimSpace(cfg.customerTag) == "":
		return cfg, errors.New("customer-tag is required")
	}

	return cfg, nil
}

func parseMode(value string) (loadMode, error) {
	switch loadMode(strings.TrimSpace(value)) {
	case modeCreate:
		return modeCreate, nil
	case modeCreateCancel:
		return modeCreateCancel, nil
	default:
		return "", fmt.Errorf("unsupported mode: %s", value)
	}
}

func main() {
	cfg, err := parseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		_, _ = fmt.Fprintf(os.Stderr, "invalid config: %v\n", err)
		os.Exit(1)
	}

	startedAt := time.Now()
	runID := fmt.Sprintf("%d-%d", startedAt.UnixNano(), os.Getpid())
	col := newCollector()
	client := newPOSClient(cfg, col)

	productID := cfg.productID
	if productID == 0 {
		productID, err = client.seedProduct(context.Background(), runID)
		if err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to seed product: %v\n", err)
			os.Exit(1)
		}
	}

	failures := runLoad(cfg, func(ctx context.Context, index int) error {
		return client.runScenario(ctx, productID, index, runID)
	})

	result := col.buildReport(startedAt, time.Since(startedAt))
	if result.FailedScenarios == 0 && failures > 0 {
		result.FailedScenarios = failures
		result.ErrorRate = ratio(result.FailedScenarios, result.TotalScenarios)
	}

	printReport(os.Stdout, result, cfg)
	if cfg.outputPath != "" {
		if err := writeJSONReport(cfg.outputPath, result); err != nil {
			_, _ = fmt.Fprintf(os.Stderr, "failed to write report: %v\n", err)
			os.Exit(1)
		}
	}

	if result.FailedScenarios > 0 {
		os.Exit(1)
	}
}

// runLoad выполняет сценарии не более чем в concurrency горутинах и возвращает число неудачных.
// В режиме duration новые сценарии перестают запускаться по истечении времени.
func runLoad(cfg config, scenario func(ctx context.Context, index int) error) int64 {
	ctx := context.Background()
	if cfg.duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, cfg.duration)
		defer cancel()
	}

	var (
		g        errgroup.Group
		failures atomic.Int64
	)
	g.SetLimit(cfg.concurrency)
	for i := 0; (cfg.duration > 0 && !cfg.totalSet) || i < cfg.total; i++ {
		if ctx.Err() != nil {
			break
		}
		g.Go(func() error {
			// Сценарий, начатый до дедлайна, доводится до конца.
			if err := scenario(context.WithoutCancel(ctx), i); err != nil {
				failures.Add(1)
			}
			return nil
		})
	}
	_ = g.Wait()
	return failures.Load()
}

func runTarget(cfg config) string {
	switch {
	case cfg.duration <= 0:
		return fmt.Sprintf("count:%d", cfg.total)
	case cfg.totalSet:
		return fmt.Sprintf("duration:%s,max-total:%d", cfg.duration, cfg.total)
	default:
		return fmt.Sprintf("duration:%s", cfg.duration)
	}
}
