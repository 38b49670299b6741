// Command gateway launches the rmpay daemon: it authenticates with the
// payment provider, serves the checkout and webhook endpoints and sweeps
// pending transactions on a fixed interval.
package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cenkalti/backoff/v5"
	json "github.com/goccy/go-json"
	"github.com/shopspring/decimal"
	"github.com/sourcegraph/conc"

	"github.com/coachpo/rmpay/config"
	"github.com/coachpo/rmpay/errs"
	"github.com/coachpo/rmpay/internal/ledger"
	"github.com/coachpo/rmpay/internal/observability"
	"github.com/coachpo/rmpay/internal/payment"
	"github.com/coachpo/rmpay/internal/rmapi"
	"github.com/coachpo/rmpay/lib/telemetry"
)

const (
	defaultConfigPath        = "config/app.yaml"
	authRetryMaxElapsed      = 2 * time.Minute
	readHeaderTimeout        = 5 * time.Second
	serverShutdownTimeout    = 10 * time.Second
	telemetryShutdownTimeout = 5 * time.Second
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "path to the YAML configuration file")
	flag.Parse()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	stdlog := log.New(os.Stderr, "gateway ", log.LstdFlags|log.Lmsgprefix)
	logger := observability.NewStdLogger(stdlog)
	observability.SetLogger(logger)

	cfg, loaded, err := config.Load(*configPath)
	if err != nil {
		stdlog.Fatalf("load config: %v", err)
	}
	if !loaded {
		logger.Info("configuration file not found, using defaults",
			observability.F("path", *configPath))
	}
	cfg = config.FromEnv(cfg)
	if err := cfg.Validate(); err != nil {
		stdlog.Fatalf("invalid configuration: %v", err)
	}

	_, telemetryShutdown, err := telemetry.Init(ctx, cfg.Telemetry)
	if err != nil {
		stdlog.Fatalf("init telemetry: %v", err)
	}
	defer func() {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), telemetryShutdownTimeout)
		defer shutdownCancel()
		if err := telemetryShutdown(shutdownCtx); err != nil {
			logger.Error("telemetry shutdown failed", observability.F("error", err))
		}
	}()

	client, err := rmapi.New(cfg, rmapi.WithLogger(logger))
	if err != nil {
		stdlog.Fatalf("construct client: %v", err)
	}

	// The daemon cannot serve without a session, so the initial exchange
	// retries with backoff. In-flight request paths never retry inline; the
	// sweep is their safety net.
	if _, err := backoff.Retry(ctx, func() (rmapi.Session, error) {
		return client.Authenticate(ctx)
	}, backoff.WithBackOff(backoff.NewExponentialBackOff()), backoff.WithMaxElapsedTime(authRetryMaxElapsed)); err != nil {
		stdlog.Fatalf("authenticate: %v", err)
	}
	logger.Info("authenticated with provider",
		observability.F("environment", string(cfg.Environment)))

	ldg := ledger.NewMemory()
	service := payment.NewService(client, ldg, cfg.RedirectURL, cfg.NotifyURL, nil)
	sweeper, err := payment.NewSweeper(client, ldg, cfg, nil)
	if err != nil {
		stdlog.Fatalf("construct sweeper: %v", err)
	}
	webhook := payment.NewWebhookHandler(client, ldg, receiptURL(cfg))

	mux := http.NewServeMux()
	mux.Handle("/webhook", webhook)
	mux.HandleFunc("/checkout", checkoutHandler(service))

	server := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           mux,
		ReadHeaderTimeout: readHeaderTimeout,
	}

	wg := conc.NewWaitGroup()
	wg.Go(func() {
		sweeper.Run(ctx, cfg.SweepInterval)
	})
	wg.Go(func() {
		logger.Info("listening", observability.F("addr", cfg.ListenAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server failed", observability.F("error", err))
			cancel()
		}
	})
	wg.Go(func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), serverShutdownTimeout)
		defer shutdownCancel()
		_ = server.Shutdown(shutdownCtx)
	})
	wg.Wait()
	logger.Info("gateway stopped")
}

// receiptURL maps an external order id to the storefront receipt view.
func receiptURL(cfg config.Settings) func(orderID string) string {
	base := cfg.RedirectURL
	if base == "" {
		base = "/"
	}
	return func(orderID string) string {
		return base + "?orderId=" + orderID
	}
}

func checkoutHandler(service *payment.Service) http.HandlerFunc {
	type request struct {
		OrderID  string `json:"orderId"`
		Title    string `json:"title"`
		Detail   string `json:"detail"`
		Amount   string `json:"amount"`
		Currency string `json:"currency"`
	}
	type response struct {
		RedirectURL string `json:"redirectUrl"`
	}

	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "malformed request", http.StatusBadRequest)
			return
		}
		amount, err := decimal.NewFromString(req.Amount)
		if err != nil {
			http.Error(w, "malformed amount", http.StatusBadRequest)
			return
		}

		redirect, err := service.Checkout(r.Context(), payment.CheckoutRequest{
			OrderID:  req.OrderID,
			Title:    req.Title,
			Detail:   req.Detail,
			Amount:   amount,
			Currency: req.Currency,
		})
		if err != nil {
			if errs.HasCode(err, errs.CodeInvalid) {
				http.Error(w, "invalid checkout request", http.StatusBadRequest)
				return
			}
			http.Error(w, "checkout failed", http.StatusBadGateway)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(response{RedirectURL: redirect})
	}
}
