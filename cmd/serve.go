package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/prospect-cli/internal/model"
	"github.com/sells-group/prospect-cli/internal/monitoring"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API for sourcing requests",
	Long:  "Serves health and status endpoints plus an async search trigger, with background monitoring alerts.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initSourcing(ctx, "serve")
		if err != nil {
			return err
		}
		defer env.Close()

		collector := monitoring.NewCollector(env.Store,
			monitoring.FileCheckpoint(cfg.Campaign.CheckpointPath),
			cfg.Campaign.HourlyRequestCap,
		)

		alerter := monitoring.NewAlerter(cfg.Monitoring)
		checker := monitoring.NewChecker(collector, alerter, cfg.Monitoring)
		go checker.Run(ctx)

		router := buildRouter(ctx, env, collector, cfg.Monitoring.LookbackWindowHours)

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:         fmt.Sprintf(":%d", port),
			Handler:      router,
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
			IdleTimeout:  120 * time.Second,
		}

		// Graceful shutdown
		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shutdownCtx); err != nil {
				zap.L().Warn("server shutdown", zap.Error(err))
			}
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}

// apiSearchRequest is the body of POST /api/search.
type apiSearchRequest struct {
	Persona   string   `json:"persona"`
	Titles    []string `json:"titles"`
	Companies []string `json:"companies"`
	Keywords  string   `json:"keywords"`
	Count     int      `json:"count"`
	Enrich    bool     `json:"enrich"`
}

// buildRouter assembles the HTTP API. env and collector may be nil; their
// endpoints then degrade instead of panicking, which also lets tests
// exercise routing without a live store or source client. Async searches
// run on ctx, not the request context, so they outlive the response.
func buildRouter(ctx context.Context, env *sourcingEnv, collector *monitoring.Collector, lookbackHours int) *chi.Mux {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		MaxAge:         300,
	}))
	r.Use(requestLogger)

	r.Get("/health", func(w http.ResponseWriter, req *http.Request) {
		if env != nil && env.Client != nil {
			if err := env.Client.Health(req.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]string{
					"status": "degraded",
					"source": err.Error(),
				})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Get("/api/status", func(w http.ResponseWriter, req *http.Request) {
		if collector == nil {
			http.Error(w, `{"error":"status unavailable"}`, http.StatusServiceUnavailable)
			return
		}
		snap, err := collector.Collect(req.Context(), lookbackHours)
		if err != nil {
			zap.L().Error("status collection failed", zap.Error(err))
			http.Error(w, `{"error":"status collection failed"}`, http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	r.Post("/api/search", func(w http.ResponseWriter, req *http.Request) {
		var body apiSearchRequest
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			http.Error(w, `{"error":"invalid request body"}`, http.StatusBadRequest)
			return
		}
		if body.Count <= 0 {
			body.Count = 25
		}
		if body.Persona == "" && len(body.Titles) == 0 && body.Keywords == "" {
			http.Error(w, `{"error":"persona, titles, or keywords required"}`, http.StatusBadRequest)
			return
		}

		resp := map[string]string{"status": "accepted"}
		if env != nil {
			run, err := env.Store.CreateRun(req.Context(), model.Run{
				Kind:           model.RunKindSearch,
				Persona:        body.Persona,
				Requested:      body.Count,
				Status:         model.RunStatusQueued,
				CompaniesTotal: len(body.Companies),
			})
			if err != nil {
				zap.L().Error("api search: create run failed", zap.Error(err))
				http.Error(w, `{"error":"could not queue search"}`, http.StatusInternalServerError)
				return
			}
			resp["run_id"] = run.ID

			// Run sourcing asynchronously
			go func() {
				if err := serverSearch(ctx, env, run, body); err != nil {
					zap.L().Error("api search failed",
						zap.String("run_id", run.ID),
						zap.Error(err),
					)
				}
			}()
		}

		writeJSON(w, http.StatusAccepted, resp)
	})

	return r
}

// serverSearch executes one API-triggered sourcing run and records it in
// the store. Results stay in the archive; API runs do not export files.
func serverSearch(ctx context.Context, env *sourcingEnv, run *model.Run, body apiSearchRequest) error {
	spec, err := buildSearchSpec(env.Personas, body.Persona, body.Count, searchOverrides{
		Titles:   body.Titles,
		Keywords: body.Keywords,
		Reveal:   cfg.Enrich.RevealPersonalEmails,
	})
	if err != nil {
		_ = env.Store.FinishRun(ctx, run.ID, model.RunStatusFailed, err.Error())
		return err
	}

	if err := env.Store.UpdateRunStatus(ctx, run.ID, model.RunStatusRunning); err != nil {
		return err
	}

	contacts, requests, err := env.Alloc.Collect(ctx, spec, nil, body.Companies)
	credits := env.Calc.Search(requests)
	if err != nil {
		_ = env.Store.FinishRun(ctx, run.ID, runStatusForErr(err), err.Error())
		return err
	}

	enriched := 0
	if body.Enrich {
		enriched, err = env.Enricher.EnrichAll(ctx, contacts)
		reveals := 0
		if spec.RevealEmails {
			reveals = enriched
		}
		credits += env.Calc.Enrichment(enriched, reveals)
		if err != nil {
			_ = env.Store.FinishRun(ctx, run.ID, runStatusForErr(err), err.Error())
			return err
		}
	}

	if _, err := env.Store.SaveContacts(ctx, run.ID, contacts); err != nil {
		_ = env.Store.FinishRun(ctx, run.ID, model.RunStatusFailed, err.Error())
		return err
	}

	run.CompaniesDone = len(body.Companies)
	run.ContactsSourced = len(contacts)
	run.EmailsFound = countEmails(contacts)
	run.RequestsUsed = requests
	run.CreditsUsed = credits
	if err := env.Store.UpdateRunProgress(ctx, run); err != nil {
		return err
	}
	if err := env.Store.FinishRun(ctx, run.ID, model.RunStatusCompleted, ""); err != nil {
		return err
	}

	zap.L().Info("api search complete",
		zap.String("run_id", run.ID),
		zap.String("query", spec.String()),
		zap.Int("contacts", len(contacts)),
		zap.Int("enriched", enriched),
		zap.Float64("credits", credits),
	)
	return nil
}

// requestLogger logs each request with method, path, status, and timing.
func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, req.ProtoMajor)
		next.ServeHTTP(ww, req)
		zap.L().Info("http request",
			zap.String("method", req.Method),
			zap.String("path", req.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
		)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zap.L().Warn("write response", zap.Error(err))
	}
}
