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

	"remindbot/internal/app"
	"remindbot/internal/recurrence"
	"remindbot/internal/storage"
	logx "remindbot/pkg/logx"
)

type cli struct {
	cfgPath string
	verbose bool
}

func newRootCommand() *cobra.Command {
	c := &cli{}
	root := &cobra.Command{
		Use:   "remindbot",
		Short: "Telegram reminder bot",
		Long: `remindbot delivers one-off and recurring reminders to Telegram chats.

Several instances may share one store: per-reminder leases keep an
occurrence from being delivered twice.

Examples:
  remindbot serve -c config.yaml
  remindbot add --chat 12345 --kind weekly --days mon,thu --time 09:00 "stand-up"
  remindbot list --chat 12345
  remindbot cancel --chat 12345 <id>`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&c.cfgPath, "config", "c", "./config.json", "path to config (json or yaml)")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "debug logging for operator commands")

	root.AddCommand(newServeCommand(c))
	root.AddCommand(newAddCommand(c))
	root.AddCommand(newListCommand(c))
	root.AddCommand(newCancelCommand(c))
	return root
}

func newServeCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the bot: poller, button handler, leadership and housekeeping",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			a, err := app.New(c.cfgPath)
			if err != nil {
				return err
			}
			if err := a.Start(ctx); err != nil {
				stopCtx, stopCancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer stopCancel()
				_ = a.Stop(stopCtx, app.StopFatalError)
				return fmt.Errorf("start: %w", err)
			}

			<-ctx.Done()
			stopCtx, stopCancel := context.WithTimeout(context.Background(), 15*time.Second)
			defer stopCancel()
			if err := a.Stop(stopCtx, app.StopSIGTERM); err != nil {
				return err
			}
			if err := a.Err(); err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
			return nil
		},
	}
}

// openStore is shared by the operator commands.
func (c *cli) openStore() (storage.Store, recurrence.Calculator, error) {
	level := "warn"
	if c.verbose {
		level = "debug"
	}
	return app.OpenStore(c.cfgPath, logx.NewConsole(level).With(logx.String("comp", "cli")))
}
