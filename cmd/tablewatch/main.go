// Command tablewatch follows a table session, or a restaurant's request
// board, from the terminal using the same sync agent a customer tab runs.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/yeremiapane/table-service/hub"
	"github.com/yeremiapane/table-service/models"
	"github.com/yeremiapane/table-service/syncagent"
	"github.com/yeremiapane/table-service/utils"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		cfg      syncagent.Config
		logLevel string
	)

	root := &cobra.Command{
		Use:   "tablewatch",
		Short: "Follow live table service requests",
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			utils.InitLogger(logLevel, false)
		},
	}
	root.PersistentFlags().StringVar(&cfg.BaseURL, "server", "http://localhost:8080", "table service base URL")
	root.PersistentFlags().UintVar(&cfg.RestaurantID, "restaurant", 0, "restaurant id")
	root.PersistentFlags().IntVar(&cfg.MaxReconnectAttempts, "max-attempts", 5, "reconnect attempts before giving up")
	root.PersistentFlags().DurationVar(&cfg.ReconnectBase, "backoff", time.Second, "base reconnect delay")
	root.PersistentFlags().StringVar(&logLevel, "log-level", "warn", "log level")

	table := &cobra.Command{
		Use:   "table",
		Short: "Follow one customer table session",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.ClientType = hub.ClientCustomer
			return watch(cmd, cfg)
		},
	}
	table.Flags().UintVar(&cfg.TableID, "table", 0, "table id")
	table.Flags().StringVar(&cfg.SessionID, "session", "", "table session token")

	board := &cobra.Command{
		Use:   "board",
		Short: "Follow a restaurant's active requests",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.ClientType = hub.ClientAdmin
			return watch(cmd, cfg)
		},
	}
	board.Flags().StringVar(&cfg.Token, "token", os.Getenv("TABLE_SERVICE_TOKEN"), "staff token")

	root.AddCommand(table, board)
	return root
}

func watch(cmd *cobra.Command, cfg syncagent.Config) error {
	out := cmd.OutOrStdout()
	cfg.OnStateChange = func(s syncagent.State) {
		fmt.Fprintf(out, "[%s] %s\n", time.Now().Format(time.TimeOnly), s)
	}
	cfg.OnRequests = func(requests []models.Request) {
		fmt.Fprintf(out, "%d request(s)\n", len(requests))
		for _, r := range requests {
			notes := ""
			if r.Notes != nil {
				notes = " " + *r.Notes
			}
			fmt.Fprintf(out, "  #%d table=%d %-7s %-11s%s\n", r.ID, r.TableID, r.Type, r.Status, notes)
		}
	}
	cfg.OnEnded = func(reason string) {
		fmt.Fprintf(out, "session ended (%s), scan the QR code again to continue\n", reason)
	}

	agent, err := syncagent.New(cfg)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = agent.Run(ctx)
	switch {
	case errors.Is(err, syncagent.ErrSessionEnded), errors.Is(err, context.Canceled):
		return nil
	}
	return err
}
