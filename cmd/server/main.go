/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the FichFlow server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Load TOML configuration + environment secrets
  3. Initialize SQLite store
  4. Wire ledger, generation workflow, payment processors
  5. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  TOML configuration file (optional)
  -addr    Listen address, overrides config (default from config: :8080)
  -db      SQLite database path, overrides config
           Use ":memory:" for an in-memory database

OPTIONAL INTEGRATIONS:
  Stripe, Anthropic and Resend are wired only when their keys are
  configured. Without Stripe the checkout and webhook endpoints answer
  503; without a mail key confirmations are silently skipped. A missing
  Anthropic key is fatal since generation is the product.

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Close database connection
  4. Exit

EXAMPLES:
  # Run with a config file
  ./server -config=fichflow.toml

  # Run with an in-memory database
  FICHFLOW_JWT_SECRET=dev ANTHROPIC_API_KEY=sk-... ./server -db=":memory:"

SEE ALSO:
  - config/config.go: Configuration loading
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fichflow/fichflow/api"
	"github.com/fichflow/fichflow/config"
	"github.com/fichflow/fichflow/credit"
	"github.com/fichflow/fichflow/mail"
	"github.com/fichflow/fichflow/payment"
	"github.com/fichflow/fichflow/product"
	"github.com/fichflow/fichflow/store/sqlite"
	"github.com/fichflow/fichflow/vision"
)

func main() {
	// Flags
	configPath := flag.String("config", "", "TOML configuration file")
	addr := flag.String("addr", "", "listen address (overrides config)")
	dbPath := flag.String("db", "", "SQLite database path (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}
	if *addr != "" {
		cfg.Server.Addr = *addr
	}
	if *dbPath != "" {
		cfg.Database.Path = *dbPath
	}

	// Initialize store
	store, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Ledger and generation workflow
	ledger := credit.NewLedger(store)

	if cfg.Anthropic.APIKey == "" {
		log.Fatal("anthropic.api_key is required (or ANTHROPIC_API_KEY)")
	}
	visionClient := vision.NewClient(vision.Config{
		APIKey: cfg.Anthropic.APIKey,
		Model:  cfg.Anthropic.Model,
	})
	generator := product.NewGenerator(ledger, visionClient, store)

	// Payments (optional)
	var (
		checkout  *payment.Checkout
		processor *payment.WebhookProcessor
	)
	if cfg.Stripe.SecretKey != "" {
		stripeAPI := payment.NewStripeClient(cfg.Stripe.SecretKey)
		checkout = payment.NewCheckout(stripeAPI, payment.CheckoutConfig{
			PriceIDs: cfg.Stripe.PriceIDs,
			AppURL:   cfg.App.URL,
		})

		var notifier payment.Notifier = payment.NopNotifier{}
		if cfg.Resend.APIKey != "" {
			notifier = mail.NewSender(mail.Config{
				APIKey: cfg.Resend.APIKey,
				From:   cfg.Resend.From,
			})
		}
		processor = payment.NewWebhookProcessor(cfg.Stripe.WebhookSecret, ledger, notifier)
	} else {
		log.Println("Stripe not configured, checkout and webhook endpoints disabled")
	}

	// HTTP layer
	handler := api.NewHandler(api.Deps{
		Accounts:     store,
		Products:     store,
		Ledger:       ledger,
		Generator:    generator,
		Checkout:     checkout,
		Webhook:      processor,
		JWTSecret:    cfg.Auth.JWTSecret,
		IsAdminEmail: cfg.IsAdminEmail,
	})
	router := api.NewRouter(handler, cfg.Server.AllowedOrigins)

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 120 * time.Second, // generation waits on the model
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("FichFlow server starting on %s", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}
