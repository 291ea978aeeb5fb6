package cmd

import (
	"context"
	"errors"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/zhipin-responder/internal/greeting"
	"github.com/spigell/zhipin-responder/internal/session"
)

var scheduleCmd = &cobra.Command{
	Use:   "schedule",
	Short: "Run match-and-greet periodically on a cron spec without prompting",
	Run: func(cmd *cobra.Command, _ []string) {
		runWith(cmd, func(ctx context.Context, a *application) error {
			if err := a.loadResume(ctx); err != nil {
				return err
			}

			keyword, err := greetKeyword(cmd, a)
			if err != nil {
				return err
			}

			c := cron.New(cron.WithLogger(cron.VerbosePrintfLogger(zap.NewStdLog(a.logger.Named("cron")))))
			runs := make(chan struct{}, 1)
			fatal := make(chan error, 1)

			job := func() {
				// Skip a tick while the previous run is still going.
				select {
				case runs <- struct{}{}:
				default:
					a.logger.Warn("previous scheduled run still in progress, skipping")
					return
				}
				defer func() { <-runs }()

				if err := scheduledRun(ctx, a, keyword); err != nil {
					if errors.Is(err, session.ErrAccountBanned) {
						select {
						case fatal <- err:
						default:
						}
						return
					}
					a.logger.Error("scheduled run failed", zap.Error(err))
				}
			}

			spec := a.config.Schedule.Spec
			if _, err := c.AddFunc(spec, job); err != nil {
				return err
			}
			c.Start()
			a.logger.Info("schedule started", zap.String("spec", spec))

			if cmd.Flag("run-now").Value.String() == "true" {
				go job()
			}

			select {
			case <-ctx.Done():
			case err = <-fatal:
			}

			<-c.Stop().Done()
			a.logger.Info("schedule stopped")
			return err
		})
	},
}

func init() {
	rootCmd.AddCommand(scheduleCmd)

	scheduleCmd.Flags().StringP("keyword", "k", "", "search keyword, defaults to search.keyword or the résumé's expected position")
	scheduleCmd.Flags().BoolP("do-not-exclude-greeted", "f", false, "do not exclude postings greeted in earlier runs")
	scheduleCmd.Flags().Bool("run-now", false, "run once immediately instead of waiting for the first tick")
}

// scheduledRun logs in, greets and closes the browser, so no window stays
// open between ticks. Stored cookies make later logins cheap.
func scheduledRun(ctx context.Context, a *application, keyword string) error {
	defer func() {
		if err := a.toolkit.CloseBrowser(context.Background()); err != nil {
			a.logger.Warn("closing browser", zap.Error(err))
		}
	}()

	if err := a.login(ctx); err != nil {
		return err
	}

	err := greet(ctx, a, keyword)
	var abort *greeting.AbortError
	if errors.As(err, &abort) {
		a.logger.Warn("scheduled run aborted", zap.String("posting_id", abort.PostingID), zap.Error(abort.Err))
	}
	return err
}
