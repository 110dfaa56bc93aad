// Package main is the CLI entry point for the chorus chat core.
//
// Start the core:
//
//	chorus serve --config chorus.yaml
//
// Inspect the model catalog:
//
//	chorus models
//
// Export a user's chat history:
//
//	chorus export --user 42 > history.csv
package main

import (
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/chorushq/chorus/internal/config"
)

// Build information, populated by ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	if err := buildRootCmd().Execute(); err != nil {
		slog.Error("command execution failed", "error", err)
		os.Exit(1)
	}
}

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "chorus",
		Short:        "Chorus - multi-provider chat completion core",
		Long:         "Chorus routes chat completions across LLM providers with\nretrieval augmentation, tool orchestration, and team delegation.",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.AddCommand(
		buildServeCmd(),
		buildModelsCmd(),
		buildExportCmd(),
	)
	return rootCmd
}

func buildServeCmd() *cobra.Command {
	var configPath string
	var metricsAddr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the chat core",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.close()

			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				_, _ = w.Write([]byte("ok"))
			})
			server := &http.Server{
				Addr:              metricsAddr,
				Handler:           mux,
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
					a.logger.Error(cmd.Context(), "metrics server failed", "error", err)
				}
			}()
			a.logger.Info(cmd.Context(), "chorus core started",
				"default_model", cfg.Providers.DefaultModel,
				"metrics_addr", metricsAddr,
			)

			stop := make(chan os.Signal, 1)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			<-stop

			a.logger.Info(cmd.Context(), "shutting down")
			return server.Close()
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&metricsAddr, "metrics-addr", ":9090", "Listen address for /metrics and /healthz")
	return cmd
}

func buildModelsCmd() *cobra.Command {
	var configPath string
	var routerOnly bool
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List the model catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.close()

			descriptors := a.catalog.Models()
			if routerOnly {
				descriptors = a.catalog.RouterModels()
			}
			out := cmd.OutOrStdout()
			for _, m := range descriptors {
				access := "pro"
				if m.IsFree {
					access = "free"
				}
				fmt.Fprintf(out, "%-32s %-12s %s\n", m.Name, m.Provider, access)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().BoolVar(&routerOnly, "router", false, "Only models eligible for automatic selection")
	return cmd
}

func buildExportCmd() *cobra.Command {
	var configPath string
	var userID string
	var outPath string
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export a user's chat history as CSV",
		RunE: func(cmd *cobra.Command, args []string) error {
			uid, err := strconv.ParseUint(userID, 10, 64)
			if err != nil || uid == 0 {
				return fmt.Errorf("a numeric --user id is required")
			}
			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}
			a, err := buildApp(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer a.close()

			out := cmd.OutOrStdout()
			if outPath != "" {
				f, err := os.Create(outPath)
				if err != nil {
					return err
				}
				defer f.Close()
				out = f
			}
			return a.exporter.WriteCSV(cmd.Context(), out, uid)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file")
	cmd.Flags().StringVar(&userID, "user", "", "User id to export")
	cmd.Flags().StringVarP(&outPath, "out", "o", "", "Output file (default stdout)")
	return cmd
}
