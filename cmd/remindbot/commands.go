package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"remindbot/internal/reminder"
	"remindbot/internal/storage"
)

func newAddCommand(c *cli) *cobra.Command {
	var (
		chat   int64
		thread int
		tz     string
		sf     scheduleFlags
	)
	cmd := &cobra.Command{
		Use:   "add [flags] <text>",
		Short: "Create a reminder",
		Long: `Create a reminder directly in the store.

Without --at the first run is the next occurrence of the schedule.

Examples:
  remindbot add --chat 12345 --kind once --at "2026-11-02 18:30" "call mum"
  remindbot add --chat 12345 --kind interval --every 90 "stretch"
  remindbot add --chat 12345 --kind monthly --day 31 --time 10:00 --tz Europe/Berlin "rent"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if chat == 0 {
				return errors.New("--chat is required")
			}
			s, err := sf.schedule()
			if err != nil {
				return err
			}
			st, calc, err := c.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			next, err := sf.firstRun(calc, s, tz, time.Now())
			if err != nil {
				return err
			}
			r := reminder.Reminder{
				OwnerChat: chat,
				ThreadID:  thread,
				Content:   reminder.Content{Text: strings.Join(args, " ")},
				Timezone:  tz,
				Schedule:  s,
				Status:    reminder.StatusScheduled,
				NextRunAt: &next,
			}
			if err := st.CreateReminder(cmd.Context(), &r); err != nil {
				return fmt.Errorf("create reminder: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\tnext %s\n", r.ID, s.Describe(), next.In(calc.Location(tz)).Format(time.RFC1123))
			return nil
		},
	}
	f := cmd.Flags()
	f.Int64Var(&chat, "chat", 0, "destination chat id (required)")
	f.IntVar(&thread, "thread", 0, "forum topic thread id")
	f.StringVar(&tz, "tz", "", "IANA timezone (default: scheduler.default_timezone)")
	f.StringVar(&sf.Kind, "kind", "once", "once, interval, daily, weekly, monthly or yearly")
	f.StringVar(&sf.At, "at", "", `first run "YYYY-MM-DD HH:MM" in the reminder's zone`)
	f.IntVar(&sf.Every, "every", 0, "interval minutes")
	f.IntVar(&sf.Step, "step", 1, "step in days, months or years")
	f.StringVar(&sf.Time, "time", "", "time of day HH:MM")
	f.StringVar(&sf.Days, "days", "", "weekly days, e.g. mon,thu")
	f.IntVar(&sf.Day, "day", 0, "monthly/yearly anchor day (1..31)")
	f.IntVar(&sf.Month, "month", 0, "yearly anchor month (1..12)")
	return cmd
}

func newListCommand(c *cli) *cobra.Command {
	var (
		chat  int64
		limit int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List a chat's reminders, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if chat == 0 {
				return errors.New("--chat is required")
			}
			st, calc, err := c.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			items, err := st.ListReminders(cmd.Context(), chat, limit)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTATUS\tSCHEDULE\tNEXT\tTEXT")
			for _, r := range items {
				next := "-"
				if r.NextRunAt != nil && r.Status == reminder.StatusScheduled {
					next = r.NextRunAt.In(calc.Location(r.Timezone)).Format("2006-01-02 15:04 MST")
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n", r.ID, r.Status, r.Schedule.Describe(), next, clip(r.Content.Text, 40))
			}
			return w.Flush()
		},
	}
	cmd.Flags().Int64Var(&chat, "chat", 0, "chat id (required)")
	cmd.Flags().IntVar(&limit, "limit", 20, "max reminders to show")
	return cmd
}

func newCancelCommand(c *cli) *cobra.Command {
	var chat int64
	cmd := &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a reminder owned by a chat",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if chat == 0 {
				return errors.New("--chat is required")
			}
			st, _, err := c.openStore()
			if err != nil {
				return err
			}
			defer st.Close()

			ok, err := st.CancelReminder(cmd.Context(), args[0], chat)
			if err != nil {
				return err
			}
			if !ok {
				return fmt.Errorf("reminder %s: %w", args[0], storage.ErrNotFound)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "cancelled %s\n", args[0])
			return nil
		},
	}
	cmd.Flags().Int64Var(&chat, "chat", 0, "owner chat id (required)")
	return cmd
}

func clip(s string, n int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
