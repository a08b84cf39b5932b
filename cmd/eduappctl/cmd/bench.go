package cmd

import (
	"fmt"
	"net/http"
	"net/url"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/spf13/cobra"
	vegeta "github.com/tsenart/vegeta/lib"
)

type benchConfig struct {
	Host     string
	Pattern  string
	Rate     int
	Duration time.Duration
	Workers  uint64
}

// benchReport summarizes one attack.
type benchReport struct {
	Pattern     string         `json:"pattern"`
	Requests    uint64         `json:"requests"`
	Rate        float64        `json:"rate"`
	Throughput  float64        `json:"throughput"`
	Success     float64        `json:"success"`
	LatencyMean string         `json:"latency_mean"`
	LatencyP50  string         `json:"latency_p50"`
	LatencyP95  string         `json:"latency_p95"`
	LatencyP99  string         `json:"latency_p99"`
	LatencyMax  string         `json:"latency_max"`
	StatusCodes map[string]int `json:"status_codes"`
	Errors      []string       `json:"errors,omitempty"`
}

var benchPatterns = []string{"create", "find", "list", "view"}

func newBenchCmd(e *env) *cobra.Command {
	cfg := benchConfig{}
	c := &cobra.Command{
		Use:   "bench",
		Short: "Load a running server's document API",
		Long: `Drive a running eduapp server at a constant request rate and report
latency percentiles. Patterns: create, find, list, view.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			targets, err := benchTargets(cfg)
			if err != nil {
				return err
			}
			rep := runBench(cfg, targets)
			return render(cmd.OutOrStdout(), e.flags.output, rep)
		},
	}
	f := c.Flags()
	f.StringVar(&cfg.Host, "host", "http://localhost:8080", "server base URL")
	f.StringVar(&cfg.Pattern, "pattern", "create", "request pattern: "+strings.Join(benchPatterns, ", "))
	f.IntVar(&cfg.Rate, "rate", 100, "requests per second")
	f.DurationVar(&cfg.Duration, "duration", 10*time.Second, "attack duration")
	f.Uint64Var(&cfg.Workers, "workers", uint64(runtime.NumCPU()), "initial attacker workers")
	return c
}

// benchTargets pre-generates one target per request. Create bodies differ so
// every request inserts a fresh document.
func benchTargets(cfg benchConfig) ([]vegeta.Target, error) {
	if cfg.Rate <= 0 || cfg.Duration <= 0 {
		return nil, fmt.Errorf("--rate and --duration must be positive")
	}
	if _, err := url.ParseRequestURI(cfg.Host); err != nil {
		return nil, fmt.Errorf("--host: %w", err)
	}
	host := strings.TrimRight(cfg.Host, "/")
	jsonHeader := http.Header{"Content-Type": {"application/json"}}
	total := int(float64(cfg.Rate)*cfg.Duration.Seconds()) + 1
	targets := make([]vegeta.Target, 0, total)
	for i := 0; i < total; i++ {
		var t vegeta.Target
		switch cfg.Pattern {
		case "create":
			body, err := json.Marshal(map[string]any{
				"type":   "post",
				"title":  fmt.Sprintf("bench-%d", i),
				"tags":   []string{"bench", fmt.Sprintf("t%d", i%8)},
				"author": map[string]string{"id": fmt.Sprintf("u%d", i%16)},
			})
			if err != nil {
				return nil, err
			}
			t = vegeta.Target{Method: http.MethodPost, URL: host + "/v1/docs", Body: body, Header: jsonHeader}
		case "find":
			t = vegeta.Target{Method: http.MethodPost, URL: host + "/v1/_find", Body: []byte(`{"selector":{"type":"post"},"limit":25}`), Header: jsonHeader}
		case "list":
			t = vegeta.Target{Method: http.MethodGet, URL: host + "/v1/docs?limit=25&include_docs=true"}
		case "view":
			key := url.QueryEscape(fmt.Sprintf(`"t%d"`, i%8))
			t = vegeta.Target{Method: http.MethodGet, URL: host + "/v1/indexes/posts/by_tag?key=" + key}
		default:
			return nil, fmt.Errorf("unknown --pattern %q (want %s)", cfg.Pattern, strings.Join(benchPatterns, ", "))
		}
		targets = append(targets, t)
	}
	return targets, nil
}

func runBench(cfg benchConfig, targets []vegeta.Target) benchReport {
	workers := cfg.Workers
	if workers == 0 {
		workers = 1
	}
	attacker := vegeta.NewAttacker(vegeta.Workers(workers))
	rate := vegeta.Rate{Freq: cfg.Rate, Per: time.Second}

	var m vegeta.Metrics
	for res := range attacker.Attack(vegeta.NewStaticTargeter(targets...), rate, cfg.Duration, "eduapp_"+cfg.Pattern) {
		m.Add(res)
	}
	m.Close()

	errs := append([]string(nil), m.Errors...)
	sort.Strings(errs)
	return benchReport{
		Pattern:     cfg.Pattern,
		Requests:    m.Requests,
		Rate:        m.Rate,
		Throughput:  m.Throughput,
		Success:     m.Success,
		LatencyMean: m.Latencies.Mean.String(),
		LatencyP50:  m.Latencies.P50.String(),
		LatencyP95:  m.Latencies.P95.String(),
		LatencyP99:  m.Latencies.P99.String(),
		LatencyMax:  m.Latencies.Max.String(),
		StatusCodes: m.StatusCodes,
		Errors:      errs,
	}
}
