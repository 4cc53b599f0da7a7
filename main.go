package main

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

// ---------------------------------------------------------------------------
// Config
// ---------------------------------------------------------------------------

type config struct {
	port          string
	storeName     string
	ownerEmail    string
	secret        string
	validationURL string
	sheetURL      string
	suppliersFile string

	smtpHost     string
	smtpPort     string
	smtpUsername string
	smtpPassword string
	mailFrom     string

	webhookLimit   int
	paymentLimit   int
	cacheTTL       time.Duration
	outboxInterval time.Duration
}

func loadConfig() config {
	return config{
		port:          env("PORT", "8080"),
		storeName:     env("STORE_NAME", "SellBuddy"),
		ownerEmail:    env("OWNER_EMAIL", ""),
		secret:        env("WEBHOOK_SECRET", ""),
		validationURL: env("VALIDATION_URL", ""),
		sheetURL:      env("SHEET_WEBHOOK_URL", ""),
		suppliersFile: env("SUPPLIERS_FILE", ""),

		smtpHost:     env("SMTP_HOST", ""),
		smtpPort:     env("SMTP_PORT", "587"),
		smtpUsername: env("SMTP_USERNAME", ""),
		smtpPassword: env("SMTP_PASSWORD", ""),
		mailFrom:     env("MAIL_FROM", "orders@sellbuddy.example"),

		webhookLimit:   intEnv("RATE_LIMIT_WEBHOOK", 30),
		paymentLimit:   intEnv("RATE_LIMIT_PAYMENT", 20),
		cacheTTL:       durationEnv("CACHE_TTL", 45*time.Second),
		outboxInterval: durationEnv("OUTBOX_INTERVAL", 15*time.Second),
	}
}

// ---------------------------------------------------------------------------
// Service
// ---------------------------------------------------------------------------

type service struct {
	cfg       config
	db        *sql.DB
	store     *orderStore
	sales     *salesAggregates
	limiter   *rateLimiter
	outbox    *outbox
	sender    mailSender
	forwarder *sheetForwarder
	fraud     *fraudEngine
	suppliers supplierCatalog
	verifier  *tokenVerifier
}

func newService(cfg config) (*service, error) {
	var db *sql.DB
	if conn, err := connectDB(); err != nil {
		log.Printf("warn: database unavailable, running in memory mode: %v", err)
	} else {
		db = conn
	}

	svc := &service{
		cfg:       cfg,
		db:        db,
		store:     newOrderStore(db, cfg.cacheTTL),
		sales:     newSalesAggregates(db),
		limiter:   newRateLimiter(db),
		outbox:    newOutbox(db),
		sender:    newSMTPSender(cfg.smtpHost, cfg.smtpPort, cfg.smtpUsername, cfg.smtpPassword, cfg.mailFrom),
		forwarder: newSheetForwarder(cfg.sheetURL),
		fraud:     newFraudEngine(),
		verifier:  newTokenVerifier(cfg.secret, cfg.validationURL),
	}

	suppliers, err := loadSuppliers(cfg.suppliersFile)
	if err != nil {
		return nil, err
	}
	svc.suppliers = suppliers

	if db != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		schemas := []func(context.Context) error{
			svc.store.ensureSchema,
			svc.sales.ensureSchema,
			svc.limiter.ensureSchema,
			svc.outbox.ensureSchema,
		}
		for _, ensure := range schemas {
			if err := ensure(ctx); err != nil {
				log.Printf("warn: schema setup failed, using memory mode: %v", err)
				_ = db.Close()
				svc.db = nil
				svc.store.db = nil
				svc.sales.db = nil
				svc.limiter.db = nil
				svc.outbox.db = nil
				break
			}
		}
	}
	return svc, nil
}

func (s *service) close() {
	if s.db != nil {
		_ = s.db.Close()
	}
}

func (s *service) mode() string {
	if s.db == nil {
		return "memory"
	}
	return "postgres"
}

// ---------------------------------------------------------------------------
// Read API
// ---------------------------------------------------------------------------

func (s *service) analyticsSummary(ctx context.Context) (analyticsSummary, error) {
	sum, err := s.sales.summary(ctx)
	if err != nil {
		return analyticsSummary{}, err
	}
	byStatus, err := s.store.statusCounts(ctx)
	if err != nil {
		return analyticsSummary{}, err
	}
	sum.ByStatus = byStatus
	return sum, nil
}

func buildMux(svc *service) *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"status": "healthy", "service": "webhook-service", "store": svc.cfg.storeName, "mode": svc.mode(),
		})
	})

	mux.HandleFunc("/webhooks/orders", svc.handleOrderWebhook)
	mux.HandleFunc("/webhooks/payments", svc.handlePaymentWebhook)

	base := "/v1/orders"

	mux.HandleFunc(base, func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
			return
		}
		limit := intParam(r, "limit", 50, 1, 200)
		cursor := strings.TrimSpace(r.URL.Query().Get("cursor"))
		status := strings.TrimSpace(r.URL.Query().Get("status"))
		resp, err := svc.store.list(r.Context(), status, cursor, limit)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": resp.Items, "next_cursor": resp.NextCursor, "cached": resp.Cached})
	})

	mux.HandleFunc(base+"/stats", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
			return
		}
		st, err := svc.store.stats(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"stats": st})
	})

	mux.HandleFunc(base+"/", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
			return
		}
		id := strings.TrimSpace(strings.TrimPrefix(r.URL.Path, base+"/"))
		if id == "" || strings.Contains(id, "/") {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "missing id"})
			return
		}
		o, err := svc.store.getByID(r.Context(), id)
		if err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				writeJSON(w, http.StatusNotFound, map[string]string{"error": "order not found"})
				return
			}
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"item": o})
	})

	mux.HandleFunc("/v1/analytics/summary", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
			return
		}
		sum, err := svc.analyticsSummary(r.Context())
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"summary": sum})
	})

	mux.HandleFunc("/v1/outbox", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
			return
		}
		limit := intParam(r, "limit", 50, 1, 200)
		entries, counts, err := svc.outbox.snapshot(r.Context(), limit)
		if err != nil {
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "counts": counts})
	})

	return mux
}

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

func runServe() error {
	cfg := loadConfig()
	svc, err := newService(cfg)
	if err != nil {
		return err
	}
	defer svc.close()

	if cfg.secret == "" {
		log.Printf("warn: WEBHOOK_SECRET not set, webhook signature verification is DISABLED")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go svc.outbox.run(ctx, cfg.outboxInterval, svc.deliverEffect)

	srv := &http.Server{
		Addr:              ":" + cfg.port,
		Handler:           withServerDefaults(buildMux(svc)),
		ReadHeaderTimeout: 2 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
		MaxHeaderBytes:    1 << 20,
	}

	log.Printf("webhook-service listening on :%s (storage: %s)", cfg.port, svc.mode())
	return srv.ListenAndServe()
}

func main() {
	root := &cobra.Command{
		Use:           "webhook-service",
		Short:         "SellBuddy order ingestion service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the webhook HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe()
		},
	}

	var simCount int
	var simWebhook string
	simulateCmd := &cobra.Command{
		Use:   "simulate",
		Short: "Generate test orders and push them through the pipeline",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService(loadConfig())
			if err != nil {
				return err
			}
			defer svc.close()
			return runSimulation(cmd.Context(), svc, simCount, simWebhook)
		},
	}
	simulateCmd.Flags().IntVarP(&simCount, "count", "c", 1, "number of orders to simulate")
	simulateCmd.Flags().StringVarP(&simWebhook, "webhook", "w", "", "webhook URL to post envelopes to (default: ingest locally)")

	var reportOut string
	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Print the daily sales report",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService(loadConfig())
			if err != nil {
				return err
			}
			defer svc.close()
			sum, err := svc.analyticsSummary(cmd.Context())
			if err != nil {
				return err
			}
			st, err := svc.store.stats(cmd.Context())
			if err != nil {
				return err
			}
			text := renderDailyReport(svc.cfg.storeName, time.Now().UTC(), sum, st)
			if reportOut == "" {
				fmt.Print(text)
				return nil
			}
			return os.WriteFile(reportOut, []byte(text), 0o644)
		},
	}
	reportCmd.Flags().StringVarP(&reportOut, "out", "o", "", "write the report to a file instead of stdout")

	var dashboardOut string
	dashboardCmd := &cobra.Command{
		Use:   "dashboard",
		Short: "Generate the HTML analytics dashboard",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, err := newService(loadConfig())
			if err != nil {
				return err
			}
			defer svc.close()
			sum, err := svc.analyticsSummary(cmd.Context())
			if err != nil {
				return err
			}
			html, err := renderDashboard(svc.cfg.storeName, time.Now().UTC(), sum)
			if err != nil {
				return err
			}
			if err := os.WriteFile(dashboardOut, []byte(html), 0o644); err != nil {
				return err
			}
			log.Printf("dashboard written to %s", dashboardOut)
			return nil
		},
	}
	dashboardCmd.Flags().StringVarP(&dashboardOut, "out", "o", "dashboard.html", "output file")

	root.AddCommand(serveCmd, simulateCmd, reportCmd, dashboardCmd)

	if err := root.Execute(); err != nil {
		log.Fatal(err)
	}
}
