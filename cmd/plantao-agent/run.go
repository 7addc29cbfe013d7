package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/agent"
	"github.com/fjconcursoac13-stack/plantaopro26-sub002/internal/logging"
)

var (
	subject    agent.Subject
	statusAddr string
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the background loops and the status endpoint until interrupted",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		ag.Start(ctx, subject)

		addr := statusAddr
		if addr == "" {
			addr = cfg.StatusAddr
		}
		if addr == "" {
			<-ctx.Done()
			logging.Info("Shutting down...")
			return nil
		}

		srv := &http.Server{
			Addr:              addr,
			Handler:           ag.Handler(),
			ReadHeaderTimeout: 5 * time.Second,
		}
		errCh := make(chan error, 1)
		go func() {
			logging.Info("Status endpoint listening", logging.String("addr", addr))
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			if !errors.Is(err, http.ErrServerClosed) {
				return err
			}
		case <-ctx.Done():
		}

		logging.Info("Shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	f := runCmd.Flags()
	f.StringVar(&subject.AgentID, "agent-id", "", "Agent whose shifts and events are kept offline")
	f.StringVar(&subject.UnitID, "unit", "", "Unit of the team roster kept offline")
	f.StringVar(&subject.Team, "team", "", "Team of the roster kept offline")
	f.StringVar(&statusAddr, "status-addr", "", "Status endpoint address (overrides STATUS_ADDR)")
}
