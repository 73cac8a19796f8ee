package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/rowjay/todoist-backup/internal/app"
)

func newScheduleCmd(root *rootFlags) *cobra.Command {
	var expr string
	var runOnStart bool

	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Run the full pipeline on a cron schedule until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			svc, logger, err := setup(root, true)
			if err != nil {
				return err
			}
			if expr == "" {
				expr = svc.Cfg.Schedule.Cron
			}
			if expr == "" {
				return fmt.Errorf("no schedule: set schedule.cron or pass --cron")
			}
			if cmd.Flags().Changed("run-on-start") {
				svc.Cfg.Schedule.RunOnStart = runOnStart
			}

			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return schedule(ctx, svc, logger, expr)
		},
	}
	cmd.Flags().StringVar(&expr, "cron", "", "Cron expression (5 fields), overrides schedule.cron")
	cmd.Flags().BoolVar(&runOnStart, "run-on-start", false, "Run once immediately before waiting for the schedule")
	return cmd
}

// schedule blocks until ctx is done. A run still in progress when the next
// tick fires makes that tick a no-op.
func schedule(ctx context.Context, svc *app.App, logger zerolog.Logger, expr string) error {
	spec, err := cron.ParseStandard(expr)
	if err != nil {
		return fmt.Errorf("parse cron %q: %w", expr, err)
	}
	cronLog := cronLogger{log: logger}
	c := cron.New(cron.WithChain(cron.Recover(cronLog), cron.SkipIfStillRunning(cronLog)))

	job := func() {
		runCtx, cancel := operationContext(svc.Cfg)
		defer cancel()
		stopOnDone := context.AfterFunc(ctx, cancel)
		defer stopOnDone()
		if _, err := svc.Run(runCtx); err != nil {
			logger.Error().Err(err).Msg("scheduled run failed")
		}
	}
	c.Schedule(spec, cron.FuncJob(job))

	if svc.Cfg.Schedule.RunOnStart {
		job()
	}
	c.Start()
	logger.Info().Str("cron", expr).Time("next", spec.Next(time.Now())).Msg("scheduler started")

	<-ctx.Done()
	logger.Info().Msg("stopping scheduler")
	<-c.Stop().Done()
	return nil
}

type cronLogger struct {
	log zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.log.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.log.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
