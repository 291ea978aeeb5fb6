package cmd

import (
	"context"
	"errors"
	"fmt"
	"io/fs"

	"github.com/manifoldco/promptui"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/zhipin-responder/internal/greeting"
	"github.com/spigell/zhipin-responder/internal/jobs"
	"github.com/spigell/zhipin-responder/internal/tools"
)

const (
	PromptYes                 = "Yes"
	PromptNo                  = "No"
	PromptReportByCompany     = "Report by company"
	PromptPostingsToFile      = "Dump postings to file"
	PromptAppendToExcludeFile = "Append all postings to exclude file"
)

var errExit = errors.New("exit requested")

var greetCmd = &cobra.Command{
	Use:   "greet",
	Short: "Search, rank and greet the recruiters of the best matching postings",
	Run: func(cmd *cobra.Command, _ []string) {
		runWith(cmd, func(ctx context.Context, a *application) error {
			if err := a.loadResume(ctx); err != nil {
				return err
			}
			if err := a.login(ctx); err != nil {
				return err
			}

			keyword, err := greetKeyword(cmd, a)
			if err != nil {
				return err
			}

			if cmd.Flag("auto-approve").Value.String() == "false" {
				if err := confirmGreeting(ctx, a, keyword); err != nil {
					if errors.Is(err, errExit) {
						return nil
					}
					return err
				}
			}

			return greet(ctx, a, keyword)
		})
	},
}

func init() {
	rootCmd.AddCommand(greetCmd)

	greetCmd.Flags().StringP("keyword", "k", "", "search keyword, defaults to search.keyword or the résumé's expected position")
	greetCmd.Flags().BoolP("do-not-exclude-greeted", "f", false, "do not exclude postings greeted in earlier runs")
	greetCmd.Flags().BoolP("auto-approve", "y", false, "do not ask for confirmation before greeting")
}

func greetKeyword(cmd *cobra.Command, a *application) (string, error) {
	if kw := keywordFlag(cmd, a); kw != "" {
		return kw, nil
	}

	info, err := a.toolkit.GetResumeInfo()
	if err != nil {
		return "", err
	}
	if info.ExpectedPosition == "" {
		return "", errors.New("search keyword is required: set search.keyword, pass --keyword or fill expected_position in the résumé")
	}
	return info.ExpectedPosition, nil
}

// confirmGreeting previews the postings a run would greet and asks the
// operator what to do with them.
func confirmGreeting(ctx context.Context, a *application, keyword string) error {
	params := tools.NewRecommendParams(keyword)
	params.MinScore = a.config.Greet.MinScore
	params.MaxCount = a.config.Greet.MaxCount

	preview, err := a.toolkit.GetRecommendedJobs(ctx, params)
	if err != nil {
		return fmt.Errorf("preview postings: %w", err)
	}
	if len(preview.Recommended) == 0 {
		a.logger.Info("exiting", zap.String("reason", "no postings above the minimum score"))
		return errExit
	}

	postings := &jobs.Postings{}
	for _, rec := range preview.Recommended {
		postings.Add(rec.Posting)
		a.logger.Info("candidate posting",
			zap.String("posting_id", rec.Posting.ID),
			zap.String("title", rec.Posting.Title),
			zap.String("company", rec.Posting.Company),
			zap.Int("score", rec.Score),
		)
	}

	items := []string{PromptYes, PromptNo, PromptReportByCompany, PromptPostingsToFile}
	if a.config.Exclude.File != "" {
		items = append(items, PromptAppendToExcludeFile)
	}
	prompt := promptui.Select{
		Label: "Greet these recruiters?",
		Items: items,
	}

	for {
		_, action, err := prompt.Run()
		if err != nil {
			return err
		}

		switch action {
		case PromptYes:
			return nil
		case PromptNo:
			a.logger.Info("exiting", zap.String("reason", "got no from prompt"))
			return errExit
		case PromptReportByCompany:
			a.report("postings by company", postings.ReportByCompany())
		case PromptPostingsToFile:
			filename, err := postings.DumpToTmpFile()
			if err != nil {
				return fmt.Errorf("dump postings to file: %w", err)
			}
			a.logger.Info("dumping postings to file", zap.String("filename", filename))
		case PromptAppendToExcludeFile:
			excluded, err := jobs.ExcludedPostingsFromFile(a.config.Exclude.File)
			if errors.Is(err, fs.ErrNotExist) {
				excluded, err = &jobs.ExcludedPostings{}, nil
			}
			if err != nil {
				return err
			}
			excluded.Append(postings.ToExcluded(jobs.ExcludeActorOperator, "excluded from the greet prompt"))
			if err := excluded.ToFile(a.config.Exclude.File); err != nil {
				return err
			}
			a.logger.Info("appended to exclude file", zap.String("filename", a.config.Exclude.File))
			return errExit
		default:
			return fmt.Errorf("invalid action: %s", action)
		}
	}
}

// greet runs one match-and-greet pass with the configured limits.
func greet(ctx context.Context, a *application, keyword string) error {
	params := tools.NewGreetParams(keyword)
	params.MinScore = a.config.Greet.MinScore
	params.MaxCount = a.config.Greet.MaxCount
	params.CustomMessage = a.config.Greet.Message

	report, err := a.toolkit.MatchAndGreet(ctx, params)
	if report != nil {
		a.report("greeting report", report)
		a.logger.Info("greeting run finished",
			zap.String("run_id", report.RunID),
			zap.Int("sent", report.Summary[greeting.Sent]),
			zap.Int("duplicates", report.Summary[greeting.SkippedDuplicate]),
			zap.Int("failed", report.Summary[greeting.FailedRetryable]+report.Summary[greeting.FailedFatal]),
		)
	}
	return err
}
