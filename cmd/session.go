package cmd

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Log in and store the session cookies for later runs",
	Run: func(cmd *cobra.Command, _ []string) {
		runWith(cmd, func(ctx context.Context, a *application) error {
			if err := a.login(ctx); err != nil {
				return err
			}
			status, err := a.toolkit.CheckLoginStatus(ctx)
			if err != nil {
				return err
			}
			a.report("session status", status)
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Restore the stored session and report whether it is still logged in",
	Run: func(cmd *cobra.Command, _ []string) {
		runWith(cmd, func(ctx context.Context, a *application) error {
			if err := a.login(ctx); err != nil {
				a.logger.Warn("session is not usable", zap.Error(err))
			}
			status, err := a.toolkit.CheckLoginStatus(ctx)
			if err != nil {
				return err
			}
			a.report("session status", status)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(loginCmd, statusCmd)
}

// runWith builds the application, runs fn until it returns or the process
// is interrupted, and always releases the browser.
func runWith(cmd *cobra.Command, fn func(ctx context.Context, a *application) error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApplication(ctx, cmd)
	if err != nil {
		log.Fatalf("starting %s: %s", app, err)
	}

	err = fn(ctx, a)
	a.close()

	if err != nil {
		a.logger.Fatal("exiting", zap.Error(err))
	}
}
