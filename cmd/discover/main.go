package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/stockscout/stockscout/internal/api"
	"github.com/stockscout/stockscout/internal/browser"
	"github.com/stockscout/stockscout/internal/config"
	"github.com/stockscout/stockscout/internal/engine"
	"github.com/stockscout/stockscout/internal/events"
	"github.com/stockscout/stockscout/internal/extract"
	"github.com/stockscout/stockscout/internal/prober"
	"github.com/stockscout/stockscout/internal/ratelimit"
	"github.com/stockscout/stockscout/internal/report"
	"github.com/stockscout/stockscout/internal/scrape"
	"github.com/stockscout/stockscout/internal/state"
	"github.com/stockscout/stockscout/pkg/logger"
)

func main() {
	var (
		retryFailed = flag.Bool("retry-failed", false, "probe only the URLs in the failure ledger instead of the full frontier")
		serveAPI    = flag.Bool("api", false, "serve the status API while the run is in progress")
		headed      = flag.Bool("headed", false, "run the browser with a visible window")
		csvPath     = flag.String("csv", "", "CSV output path (overrides OUTPUT_CSV)")
		listings    = flag.String("listings", "", "comma-separated listing URLs (overrides LISTING_URLS)")
	)
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "failed to load config:", err)
		os.Exit(1)
	}
	if *listings != "" {
		cfg.Crawl.ListingURLs = splitList(*listings)
	}
	if *csvPath != "" {
		cfg.Crawl.OutputCSV = *csvPath
	}
	if *headed {
		cfg.Browser.Headless = false
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Format)

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	b, err := browser.New(&browser.Options{
		Headless:       cfg.Browser.Headless,
		Timeout:        cfg.Browser.Timeout,
		ViewportWidth:  cfg.Browser.ViewportWidth,
		ViewportHeight: cfg.Browser.ViewportHeight,
		Locale:         cfg.Browser.Locale,
	})
	if err != nil {
		log.Error("failed to start browser", "error", err)
		os.Exit(1)
	}
	defer b.Close()

	store, err := openStore(ctx, cfg)
	if err != nil {
		log.Error("failed to open state store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	extractor := extract.New()
	listingClient := scrape.NewListing(b, extractor,
		ratelimit.NewSimpleRateLimiter(cfg.Crawl.RateLimitMin, cfg.Crawl.RateLimitMax))
	productClient := scrape.NewProducts(b, extractor,
		ratelimit.NewAdaptiveRateLimiter(cfg.Crawl.RateLimitMin, cfg.Crawl.RateLimitMax))

	eng := engine.New(engine.Options{
		Listings:           cfg.Crawl.ListingURLs,
		ListingConcurrency: cfg.Crawl.ListingConcurrency,
		ProductConcurrency: cfg.Crawl.ProductConcurrency,
		RetryFailed:        *retryFailed,
	}, store, listingClient, productClient, prober.New(&prober.Options{
		UpperGuess:    cfg.Prober.UpperGuess,
		CeilingFactor: cfg.Prober.CeilingFactor,
		RetryBudget:   cfg.Prober.RetryBudget,
		RetryDelay:    cfg.Prober.RetryDelay,
	}))

	if cfg.Redis.Enabled {
		publisher, err := events.NewPublisher(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, cfg.Redis.Stream)
		if err != nil {
			log.Error("failed to connect to redis", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()
		eng.SetEventSink(publisher)
	}

	if *serveAPI {
		srv := &http.Server{
			Addr:         cfg.Server.Host + ":" + cfg.Server.Port,
			Handler:      api.NewHandlers(eng, log).Router(),
			ReadTimeout:  cfg.Server.ReadTimeout,
			WriteTimeout: cfg.Server.WriteTimeout,
			IdleTimeout:  60 * time.Second,
		}
		go func() {
			log.Info("status api listening", "addr", srv.Addr)
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				log.Error("status api failed", "error", err)
			}
		}()
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				log.Error("status api shutdown failed", "error", err)
			}
		}()
	}

	runErr := eng.Run(ctx)
	switch {
	case runErr == nil:
	case errors.Is(runErr, context.Canceled):
		log.Info("run interrupted, progress saved", "run_key", cfg.State.RunKey)
	default:
		log.Error("run failed", "error", runErr)
		os.Exit(1)
	}

	results := eng.Results()
	if results == nil {
		return
	}

	records := results.Records()
	if len(records) > 0 {
		if err := report.WriteCSV(records, cfg.Crawl.OutputCSV); err != nil {
			log.Error("failed to write csv", "error", err, "path", cfg.Crawl.OutputCSV)
			os.Exit(1)
		}
		log.Info("csv written", "path", cfg.Crawl.OutputCSV, "records", len(records))
	}

	report.Render(os.Stdout, report.Summarize(records, results.Failures()))
}

func openStore(ctx context.Context, cfg *config.Config) (state.Store, error) {
	if cfg.State.Backend == "postgres" {
		return state.NewPGStore(ctx, cfg.Database.DSN(), cfg.State.RunKey)
	}
	return state.NewFileStore(cfg.State.Dir, cfg.State.RunKey)
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
