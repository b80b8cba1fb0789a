package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.temporal.io/sdk/client"
	"go.uber.org/zap"

	"github.com/quest-group/content-engine/internal/model"
	"github.com/quest-group/content-engine/internal/normalize"
	"github.com/quest-group/content-engine/internal/workflow"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP trigger gateway",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		r := chi.NewRouter()
		r.Use(middleware.RequestID)
		r.Use(middleware.Recoverer)
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: []string{"*"},
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Accept", "Content-Type"},
		}))

		r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
			circuits := map[string]string{}
			for name, state := range env.Breakers.States() {
				circuits[name] = state.String()
			}
			writeJSON(w, http.StatusOK, map[string]any{
				"status":   "ok",
				"circuits": circuits,
			})
		})

		r.Post("/api/v1/articles", func(w http.ResponseWriter, req *http.Request) {
			var input model.ArticleInput
			if err := json.NewDecoder(req.Body).Decode(&input); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			if err := input.Validate(); err != nil {
				writeError(w, http.StatusUnprocessableEntity, err.Error())
				return
			}
			slug := normalize.TopicSlug(input.Topic)
			run, err := env.Temporal.ExecuteWorkflow(req.Context(), client.StartWorkflowOptions{
				ID:        fmt.Sprintf("article-%s-%s", input.App, slug),
				TaskQueue: taskQueue(),
			}, workflow.ArticleWorkflow, workflow.ArticleParams{
				Input:  input,
				Policy: workflow.PolicyFromConfig(cfg),
			})
			if err != nil {
				zap.L().Error("start article workflow failed", zap.String("slug", slug), zap.Error(err))
				writeError(w, http.StatusBadGateway, "workflow start failed")
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]string{
				"run_id": run.GetID(),
				"slug":   slug,
			})
		})

		r.Post("/api/v1/companies", func(w http.ResponseWriter, req *http.Request) {
			var input model.CompanyInput
			if err := json.NewDecoder(req.Body).Decode(&input); err != nil {
				writeError(w, http.StatusBadRequest, "invalid request body")
				return
			}
			if err := input.Validate(); err != nil {
				writeError(w, http.StatusUnprocessableEntity, err.Error())
				return
			}
			slug := normalize.DomainSlug(input.Host())
			run, err := env.Temporal.ExecuteWorkflow(req.Context(), client.StartWorkflowOptions{
				ID:        fmt.Sprintf("company-%s-%s", input.App, slug),
				TaskQueue: taskQueue(),
			}, workflow.CompanyWorkflow, workflow.CompanyParams{
				Input:  input,
				Policy: workflow.PolicyFromConfig(cfg),
			})
			if err != nil {
				zap.L().Error("start company workflow failed", zap.String("slug", slug), zap.Error(err))
				writeError(w, http.StatusBadGateway, "workflow start failed")
				return
			}
			writeJSON(w, http.StatusAccepted, map[string]string{
				"run_id": run.GetID(),
				"slug":   slug,
			})
		})

		r.Get("/api/v1/runs/{id}", func(w http.ResponseWriter, req *http.Request) {
			run, err := env.Store.GetRun(req.Context(), chi.URLParam(req, "id"))
			if err != nil {
				writeError(w, http.StatusNotFound, "run not found")
				return
			}
			writeJSON(w, http.StatusOK, run)
		})

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:    fmt.Sprintf(":%d", port),
			Handler: r,
		}

		go func() {
			<-ctx.Done()
			zap.L().Info("shutting down server")
			_ = srv.Shutdown(ctx)
		}()

		zap.L().Info("starting server", zap.Int("port", port))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return eris.Wrap(err, "server listen")
		}

		return nil
	},
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
