package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"math"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"text/tabwriter"
	"time"
)

// latencySummary — распределение задержек в миллисекундах.
type latencySummary struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
	Avg float64 `json:"avg"`
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

type callReport struct {
	Calls     int64            `json:"calls"`
	Success   int64            `json:"success"`
	Failed    int64            `json:"failed"`
	ErrorRate float64          `json:"error_rate"`
	Statuses  map[string]int64 `json:"statuses"`
	LatencyMs latencySummary   `json:"latency_ms"`
}

type report struct {
	StartedAt         time.Time             `json:"started_at"`
	DurationSeconds   float64               `json:"duration_seconds"`
	TotalScenarios    int64                 `json:"total_scenarios"`
	SuccessScenarios  int64                 `json:"success_scenarios"`
	FailedScenarios   int64                 `json:"failed_scenarios"`
	ErrorRate         float64               `json:"error_rate"`
	RPS               float64               `json:"rps"`
	ScenarioLatencyMs latencySummary        `json:"scenario_latency_ms"`
	Calls             map[string]callReport `json:"calls"`
}

// samples — наблюдения одной операции.
type samples struct {
	ok        int64
	failed    int64
	statuses  map[string]int64
	durations []time.Duration
}

func (s *samples) report() callReport {
	total := s.ok + s.failed
	return callReport{
		Calls:     total,
		Success:   s.ok,
		Failed:    s.failed,
		ErrorRate: ratio(s.failed, total),
		Statuses:  maps.Clone(s.statuses),
		LatencyMs: summarize(s.durations),
	}
}

// collector потокобезопасно копит наблюдения по имени операции.
type collector struct {
	mu  sync.Mutex
	ops map[string]*samples
}

func newCollector() *collector {
	return &collector{ops: make(map[string]*samples)}
}

// record учитывает вызов; status — HTTP-код, transport_error или итог сценария.
func (c *collector) record(op string, d time.Duration, status string, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := c.ops[op]
	if s == nil {
		s = &samples{statuses: make(map[string]int64)}
		c.ops[op] = s
	}
	if ok {
		s.ok++
	} else {
		s.failed++
	}
	s.statuses[status]++
	s.durations = append(s.durations, d)
}

func (c *collector) buildReport(startedAt time.Time, elapsed time.Duration) report {
	c.mu.Lock()
	defer c.mu.Unlock()

	result := report{
		StartedAt:       startedAt.UTC(),
		DurationSeconds: elapsed.Seconds(),
		Calls:           make(map[string]callReport, len(c.ops)),
	}
	for op, s := range c.ops {
		if op != scenarioName {
			result.Calls[op] = s.report()
			continue
		}
		scenario := s.report()
		result.TotalScenarios = scenario.Calls
		result.SuccessScenarios = scenario.Success
		result.FailedScenarios = scenario.Failed
		result.ErrorRate = scenario.ErrorRate
		result.ScenarioLatencyMs = scenario.LatencyMs
	}
	if elapsed > 0 {
		result.RPS = float64(result.TotalScenarios) / elapsed.Seconds()
	}
	return result
}

func summarize(durations []time.Duration) latencySummary {
	if len(durations) == 0 {
		return latencySummary{}
	}
	sorted := slices.Clone(durations)
	slices.Sort(sorted)

	var sum time.Duration
	for _, d := range sorted {
		sum += d
	}
	return latencySummary{
		Min: millis(sorted[0]),
		Max: millis(sorted[len(sorted)-1]),
		Avg: millis(sum / time.Duration(len(sorted))),
		P50: millis(nearestRank(sorted, 50)),
		P95: millis(nearestRank(sorted, 95)),
		P99: millis(nearestRank(sorted, 99)),
	}
}

// nearestRank — перцентиль по методу ближайшего ранга: наименьшее значение,
// не меньше которого p% выборки.
func nearestRank(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	return sorted[min(max(rank, 1), len(sorted))-1]
}

func millis(d time.Duration) float64 {
	return float64(d.Microseconds()) / 1000
}

func ratio(part, total int64) float64 {
	if total <= 0 {
		return 0
	}
	return float64(part) / float64(total)
}

func printReport(w io.Writer, result report, cfg config) {
	lat := result.ScenarioLatencyMs
	_, _ = fmt.Fprintf(w, "load test: mode=%s run=%s\n", cfg.mode, runTarget(cfg))
	_, _ = fmt.Fprintf(w, "scenarios: total=%d success=%d failed=%d error_rate=%.4f rps=%.2f duration=%.2fs\n",
		result.TotalScenarios, result.SuccessScenarios, result.FailedScenarios, result.ErrorRate, result.RPS, result.DurationSeconds)
	_, _ = fmt.Fprintf(w, "scenario latency ms: min=%.2f avg=%.2f p50=%.2f p95=%.2f p99=%.2f max=%.2f\n",
		lat.Min, lat.Avg, lat.P50, lat.P95, lat.P99, lat.Max)

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(tw, "CALL\tCALLS\tFAILED\tERROR RATE\tP95 MS\tSTATUSES")
	for _, name := range slices.Sorted(maps.Keys(result.Calls)) {
		c := result.Calls[name]
		_, _ = fmt.Fprintf(tw, "%s\t%d\t%d\t%.4f\t%.2f\t%s\n",
			name, c.Calls, c.Failed, c.ErrorRate, c.LatencyMs.P95, formatStatuses(c.Statuses))
	}
	_ = tw.Flush()
}

func formatStatuses(statuses map[string]int64) string {
	parts := make([]string, 0, len(statuses))
	for _, code := range slices.Sorted(maps.Keys(statuses)) {
		parts = append(parts, fmt.Sprintf("%s=%d", code, statuses[code]))
	}
	return strings.Join(parts, ",")
}

// writeJSONReport пишет отчёт в файл внутри текущего каталога.
func writeJSONReport(path string, result report) error {
	clean := filepath.Clean(path)
	if clean == "." || clean == string(filepath.Separator) {
		return errors.New("output path must point to a file")
	}
	if !filepath.IsLocal(clean) {
		return fmt.Errorf("output path must stay inside the working directory: %s", path)
	}

	data, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(clean, append(data, '\n'), 0o600)
}
