package daemon

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/jsherman999/roomrelay/internal/api"
	"github.com/jsherman999/roomrelay/internal/config"
	"github.com/jsherman999/roomrelay/internal/hub"
	"github.com/jsherman999/roomrelay/internal/logging"
	"github.com/jsherman999/roomrelay/internal/metrics"
)

func Main() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func NewRootCmd() *cobra.Command {
	var cfgPath string

	root := &cobra.Command{Use: "roomrelayd", Short: "Room relay daemon (WebSocket, SSE and long-poll fan-out)"}
	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (yaml)")

	root.AddCommand(roomCmd(&cfgPath))
	root.AddCommand(serveCmd(&cfgPath))
	return root
}

func roomCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "room",
		Short: "Print the loaded room configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "room=%s teacher=%s sign_key=%s authorised_students=%v\n",
				cfg.Room.ID, cfg.Room.Teacher, cfg.Room.MaskedSignKey(), cfg.Room.AuthorisedStudents)
			fmt.Fprintf(out, "ping_interval=%s dead_after=%s poll_timeout=%s\n",
				cfg.Hub.PingInterval, cfg.DeadAfter(), cfg.Poll.Timeout)
			return nil
		},
	}
}

func serveCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the relay server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			log := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
			log.Info().
				Str("room", cfg.Room.ID).
				Str("teacher", cfg.Room.Teacher).
				Strs("authorised_students", cfg.Room.AuthorisedStudents).
				Msg("loaded room config")

			reg := metrics.NewRegistry()
			h := hub.New(hub.Options{
				Room:          cfg.Room.ID,
				PingInterval:  cfg.Hub.PingInterval,
				CommandBuffer: cfg.Hub.CommandBuffer,
				Metrics:       metrics.NewHubMetrics(reg),
				Logger:        log,
			})

			a := api.New(cfg, h, reg, log)
			srv := &http.Server{Addr: cfg.API.Listen, Handler: a.Router(), ReadHeaderTimeout: 10 * time.Second}

			go func() {
				log.Info().Str("listen", cfg.API.Listen).Msg("roomrelayd listening")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					log.Error().Err(err).Msg("listen error")
				}
			}()

			stop := make(chan os.Signal, 2)
			signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
			<-stop
			log.Info().Msg("shutting down")

			// Stopping the hub first closes every push and stream sink, which
			// ends the long-lived handlers that would otherwise hold Shutdown.
			if err := h.Stop(); err != nil {
				log.Warn().Err(err).Msg("hub stop")
			}

			shCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()
			if err := srv.Shutdown(shCtx); err != nil {
				return fmt.Errorf("shutdown: %w", err)
			}
			return nil
		},
	}
}
