package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/flovyn/flovyn/internal/cli"
	"github.com/flovyn/flovyn/internal/config"
	flovynhttp "github.com/flovyn/flovyn/internal/http"
	"github.com/flovyn/flovyn/internal/log"
	internal_storage "github.com/flovyn/flovyn/internal/storage"
	"github.com/flovyn/flovyn/pkg/service"
)

var rootCmd = &cobra.Command{Use: "flovyn"}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the Flovyn server: HTTP API plus scheduler",
	Run: func(cmd *cobra.Command, args []string) {
		logger := log.GetLogger()
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			logger.Errorf("Failed to load config: %v", err)
			os.Exit(1)
		}
		connStr, _ := cmd.Flags().GetString("db")
		if connStr == "" {
			connStr, err = cfg.ConnString()
			if err != nil {
				logger.Errorf("%v", err)
				os.Exit(1)
			}
		}

		store, err := internal_storage.InitStore(connStr)
		if err != nil {
			logger.Errorf("Failed to initialize store: %v", err)
			os.Exit(1)
		}
		defer store.Close()

		notifier := service.NewNotifier()
		defer notifier.Close()

		dispatch := service.NewDispatchService(store, notifier, logger)
		workers := service.NewWorkerService(store, notifier, logger)

		scheduler := service.NewScheduler(store, notifier, logger, service.SchedulerConfig{
			TimerInterval:    cfg.Scheduler.TimerInterval,
			HeartbeatTimeout: cfg.Scheduler.HeartbeatTimeout,
			SweepInterval:    cfg.Scheduler.SweepInterval,
		})
		if err := scheduler.Start(); err != nil {
			logger.Errorf("Failed to start scheduler: %v", err)
			os.Exit(1)
		}
		defer scheduler.Stop()

		server := flovynhttp.NewServer(dispatch, workers, notifier)
		errCh := make(chan error, 1)
		go func() {
			errCh <- server.Start(cfg.HTTP.Port)
		}()

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
		select {
		case err := <-errCh:
			if err != nil {
				logger.Errorf("Server error: %v", err)
				os.Exit(1)
			}
		case sig := <-stop:
			logger.Infof("Received %s, shutting down", sig)
			ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := server.Shutdown(ctx); err != nil {
				logger.Errorf("Shutdown error: %v", err)
			}
		}
	},
}

func main() {
	serveCmd.Flags().String("config", "", "Path to YAML config file")
	rootCmd.PersistentFlags().String("db", "", "Database connection string")
	rootCmd.AddCommand(serveCmd)
	cli.SetupCLI(rootCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
