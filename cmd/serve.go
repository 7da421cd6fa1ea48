package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/claimwatch/claimwatch/internal/engine"
	"github.com/claimwatch/claimwatch/internal/monitoring"
	"github.com/claimwatch/claimwatch/internal/resilience"
	"github.com/claimwatch/claimwatch/internal/store"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP trigger and read API",
	Long:  "Exposes drift detection over HTTP. POST /api/detect is safe under concurrent and duplicate invocation: tenant passes serialize on the tenant lock and duplicate findings are absorbed.",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		st, err := initStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck
		if err := st.Migrate(ctx); err != nil {
			return err
		}

		coord, _, err := initCoordinator(st)
		if err != nil {
			return err
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           newRouter(st, coord, monitoring.NewCollector(st)),
			ReadHeaderTimeout: 10 * time.Second,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			srv.Shutdown(ctx) //nolint:errcheck
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}
		return nil
	},
}

func newRouter(st store.Store, coord *engine.Coordinator, collector *monitoring.Collector) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
	}))

	r.Get("/healthz", func(w http.ResponseWriter, req *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Post("/api/detect", func(w http.ResponseWriter, req *http.Request) {
		var body struct {
			TenantID string `json:"tenant_id"`
			AsOf     string `json:"as_of"`
		}
		if err := json.NewDecoder(req.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		if body.TenantID == "" {
			writeError(w, http.StatusBadRequest, "tenant_id is required")
			return
		}

		asOf := time.Now().UTC()
		if body.AsOf != "" {
			parsed, err := time.Parse("2006-01-02", body.AsOf)
			if err != nil {
				writeError(w, http.StatusBadRequest, "as_of must be YYYY-MM-DD")
				return
			}
			asOf = parsed
		}

		result, err := coord.RunDriftDetection(req.Context(), body.TenantID, asOf)
		if err != nil {
			zap.L().Error("detect request failed",
				zap.String("tenant", body.TenantID),
				zap.Error(err),
			)
			// Contention and connectivity failures are the caller's cue
			// to retry, not a server fault.
			if resilience.IsTransient(err) {
				writeError(w, http.StatusConflict, "pass did not run, retry later")
				return
			}
			writeError(w, http.StatusInternalServerError, "detection pass failed")
			return
		}
		writeJSON(w, http.StatusOK, result)
	})

	r.Get("/api/findings", func(w http.ResponseWriter, req *http.Request) {
		tenant := req.URL.Query().Get("tenant")
		sinceHours := 7 * 24
		if raw := req.URL.Query().Get("since_hours"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed <= 0 {
				writeError(w, http.StatusBadRequest, "since_hours must be a positive integer")
				return
			}
			sinceHours = parsed
		}

		since := time.Now().UTC().Add(-time.Duration(sinceHours) * time.Hour)
		findings, err := st.ListFindings(req.Context(), tenant, since)
		if err != nil {
			zap.L().Error("findings request failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "list findings failed")
			return
		}
		writeJSON(w, http.StatusOK, findings)
	})

	r.Get("/api/status", func(w http.ResponseWriter, req *http.Request) {
		snap, err := collector.Collect(req.Context(), req.URL.Query().Get("tenant"), cfg.Monitoring.LookbackHours)
		if err != nil {
			zap.L().Error("status request failed", zap.Error(err))
			writeError(w, http.StatusInternalServerError, "collect status failed")
			return
		}
		writeJSON(w, http.StatusOK, snap)
	})

	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
