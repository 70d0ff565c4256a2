// Package cli implements the rrio command, which runs HTTP requests read line by line
// through a transform and writes responses and error records as JSON lines.
package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-json-experiment/json"
	"github.com/joho/godotenv"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/JohnPlummer/jp-go-rrio"
	"github.com/JohnPlummer/jp-go-rrio/httpcaller"
	"github.com/JohnPlummer/jp-go-rrio/rediscache"
)

type flags struct {
	cfgPath     string
	inputPath   string
	errorsPath  string
	workers     int
	metricsAddr string
	isDebug     bool
}

// NewRootCommand builds the rrio command.
func NewRootCommand() *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:   "rrio",
		Short: "Run HTTP requests through a retrying, caching transform",
		Long: `rrio reads one request per line (a URL, or a JSON object with method, url,
header and body), calls each with bounded retry and exponential backoff, and writes
every response to stdout and every failure to the errors destination as JSON lines.`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return run(cmd.Context(), f, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}

	cmd.Flags().StringVar(&f.cfgPath, "config", "", "transform config file (YAML)")
	cmd.Flags().StringVar(&f.inputPath, "input", "-", "request file, - for stdin")
	cmd.Flags().StringVar(&f.errorsPath, "errors-out", "-", "error record file, - for stderr")
	cmd.Flags().IntVar(&f.workers, "workers", 0, "number of workers (overrides config)")
	cmd.Flags().StringVar(&f.metricsAddr, "metrics-addr", "", "serve /metrics and /healthz on this address")
	cmd.Flags().BoolVar(&f.isDebug, "debug", false, "enable debug logging")
	return cmd
}

// Execute runs the root command and exits non-zero on failure.
func Execute() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := NewRootCommand().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func run(ctx context.Context, f *flags, stdin io.Reader, stdout, stderr io.Writer) error {
	slogLevel := slog.LevelInfo
	if f.isDebug {
		slogLevel = slog.LevelDebug
	}
	logger := slog.New(tint.NewHandler(stderr, &tint.Options{
		Level:      slogLevel,
		TimeFormat: time.RFC3339,
	}))
	slog.SetDefault(logger)

	cfg, err := loadConfig(f.cfgPath)
	if err != nil {
		slog.Error("Failed to load config", "error", err)
		return err
	}
	if f.workers > 0 {
		cfg.Workers = f.workers
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := append(cfg.Options(), rrio.WithLogger(logger), rrio.WithMetricsRegisterer(reg))
	cacheOpt, closeCache, err := buildCache(ctx, cfg.Cache)
	if err != nil {
		slog.Error("Failed to build cache", "error", err)
		return err
	}
	defer closeCache()
	if cacheOpt != nil {
		opts = append(opts, cacheOpt)
	}

	t, err := rrio.New(httpcaller.Factory(), opts...)
	if err != nil {
		slog.Error("Failed to create transform", "error", err)
		return err
	}

	if f.metricsAddr != "" {
		srv := newMetricsServer(f.metricsAddr, reg, t)
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				slog.Error("Metrics server failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
		slog.Info("Metrics server started", "addr", f.metricsAddr)
	}

	input := stdin
	if f.inputPath != "-" {
		file, err := os.Open(f.inputPath)
		if err != nil {
			return fmt.Errorf("failed to open input: %w", err)
		}
		defer file.Close()
		input = file
	}

	errOut := stderr
	if f.errorsPath != "-" {
		file, err := os.Create(f.errorsPath)
		if err != nil {
			return fmt.Errorf("failed to create errors output: %w", err)
		}
		defer file.Close()
		errOut = file
	}

	// The reader stops once the transform is done, even if setup failed before any read.
	readCtx, stopReading := context.WithCancel(ctx)
	defer stopReading()

	requests := make(chan httpcaller.Request)
	readErr := make(chan error, 1)
	go func() {
		defer close(requests)
		readErr <- readRequests(readCtx, input, requests)
	}()

	out, wait := t.Stream(ctx, requests)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		writeLines(stdout, out.Responses())
	}()
	go func() {
		defer wg.Done()
		writeLines(errOut, out.Errors())
	}()
	wg.Wait()

	runErr := wait()
	stopReading()
	stats := t.Stats()
	slog.Info("Run finished",
		"successes", stats.Successes,
		"failures", stats.Failures(),
		"attempts", stats.Attempts,
		"cache_hits", stats.CacheHits)

	if err := errors.Join(runErr, <-readErr); err != nil && !errors.Is(err, context.Canceled) {
		slog.Error("Run failed", "error", err)
		return err
	}
	return nil
}

func loadConfig(path string) (*rrio.FileConfig, error) {
	if path == "" {
		return rrio.ParseConfig(nil)
	}
	return rrio.LoadConfig(path)
}

func buildCache(ctx context.Context, cfg rrio.CacheFileConfig) (rrio.Option, func(), error) {
	switch cfg.Backend {
	case rrio.CacheBackendMemory:
		cache := rrio.NewMemoryCache[httpcaller.Response](cfg.MaxEntries, cfg.TTL)
		return rrio.WithCache[httpcaller.Response](cache), func() {}, nil
	case rrio.CacheBackendRedis:
		rdb, err := rediscache.Connect(ctx, rediscache.Config{
			URL:      cfg.Redis.URL,
			Password: cfg.Redis.Password,
		})
		if err != nil {
			return nil, nil, err
		}
		opts := []rediscache.Option{}
		if cfg.Redis.Prefix != "" {
			opts = append(opts, rediscache.WithPrefix(cfg.Redis.Prefix))
		}
		if cfg.TTL > 0 {
			opts = append(opts, rediscache.WithTTL(cfg.TTL))
		}
		cache := rediscache.New[httpcaller.Response](rdb, opts...)
		return rrio.WithCache[httpcaller.Response](cache), func() { _ = rdb.Close() }, nil
	default:
		return nil, func() {}, nil
	}
}

// readRequests parses one request per non-empty line. Lines starting with '#' are skipped.
func readRequests(ctx context.Context, r io.Reader, out chan<- httpcaller.Request) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		req, ok, err := parseRequestLine(scanner.Text())
		if err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		if !ok {
			continue
		}
		select {
		case out <- req:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read input: %w", err)
	}
	return nil
}

func parseRequestLine(line string) (httpcaller.Request, bool, error) {
	line = strings.TrimSpace(line)
	if line == "" || strings.HasPrefix(line, "#") {
		return httpcaller.Request{}, false, nil
	}
	if !strings.HasPrefix(line, "{") {
		return httpcaller.Request{URL: line}, true, nil
	}
	var req httpcaller.Request
	if err := json.Unmarshal([]byte(line), &req); err != nil {
		return httpcaller.Request{}, false, fmt.Errorf("invalid request: %w", err)
	}
	if req.URL == "" {
		return httpcaller.Request{}, false, errors.New("invalid request: url is required")
	}
	return req, true, nil
}

func writeLines[T any](w io.Writer, items <-chan T) {
	for item := range items {
		if err := json.MarshalWrite(w, item); err != nil {
			slog.Error("Failed to write output", "error", err)
			continue
		}
		_, _ = io.WriteString(w, "\n")
	}
}

func newMetricsServer[Req, Resp any](addr string, reg *prometheus.Registry, t *rrio.Transform[Req, Resp]) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		health := t.Health()
		w.Header().Set("Content-Type", "application/json")
		if !health.Healthy {
			w.WriteHeader(http.StatusServiceUnavailable)
		}
		_ = json.MarshalWrite(w, health)
	})
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}
