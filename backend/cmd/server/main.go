package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/BioHazard786/Warpcall/backend/internal/config"
	"github.com/BioHazard786/Warpcall/backend/internal/logging"
	"github.com/BioHazard786/Warpcall/backend/internal/server"
	"github.com/BioHazard786/Warpcall/backend/internal/signaling"
)

var (
	flagAddr       string
	flagLogLevel   string
	flagSendBuffer int
	flagOrigins    []string
	flagPeerLeft   bool
)

var rootCmd = &cobra.Command{
	Use:   "warpcall-server",
	Short: "Signaling relay for Warpcall rooms",
	Long:  `warpcall-server pairs up participants that join the same room and relays their WebRTC offers, answers and ICE candidates. It never looks inside the payloads it forwards.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		opts := config.Options{
			Addr:           flagAddr,
			LogLevel:       flagLogLevel,
			SendBuffer:     flagSendBuffer,
			AllowedOrigins: flagOrigins,
		}
		if cmd.Flags().Changed("peer-left") {
			opts.PeerLeft = &flagPeerLeft
		}
		cfg, err := config.Load(opts)
		if err != nil {
			return err
		}
		return run(cfg)
	},
}

func run(cfg *config.Config) error {
	logging.Init(cfg.LogLevel)

	hub := signaling.NewHub(signaling.HubConfig{PeerLeft: cfg.PeerLeft})
	go hub.Run()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           server.NewRouter(hub, cfg),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", cfg.Addr).Bool("peer_left", cfg.PeerLeft).Msg("Starting signaling server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-errCh:
		hub.Stop()
		return err
	case <-quit:
	}

	log.Info().Msg("Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	hub.Stop()
	log.Info().Msg("Server exited")
	return nil
}

func main() {
	rootCmd.SilenceUsage = true

	rootCmd.Flags().StringVarP(&flagAddr, "addr", "a", "", "Listen address (default :8080)")
	rootCmd.Flags().StringVarP(&flagLogLevel, "log-level", "l", "", "Log level: debug, info, warn, error")
	rootCmd.Flags().IntVar(&flagSendBuffer, "send-buffer", 0, "Outbound messages buffered per client")
	rootCmd.Flags().StringSliceVar(&flagOrigins, "allowed-origin", nil, "Allowed websocket origins (repeatable)")
	rootCmd.Flags().BoolVar(&flagPeerLeft, "peer-left", true, "Notify the remaining occupant when a peer leaves")

	if err := rootCmd.Execute(); err != nil {
		log.Error().Err(err).Msg("Server failed")
		os.Exit(1)
	}
}
