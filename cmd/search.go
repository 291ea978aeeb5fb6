package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/spigell/zhipin-responder/internal/tools"
)

var searchCmd = &cobra.Command{
	Use:   "search",
	Short: "Search postings with the configured filters and print them",
	Run: func(cmd *cobra.Command, _ []string) {
		runWith(cmd, func(ctx context.Context, a *application) error {
			params := tools.NewSearchParams("")
			params.Query = a.config.Search.Query
			params.PageCount = a.config.Search.PageCount
			if kw := cmd.Flag("keyword").Value.String(); kw != "" {
				params.Keyword = kw
			}
			if params.Keyword == "" {
				return fmt.Errorf("search keyword is required: set search.keyword or pass --keyword")
			}

			if err := a.login(ctx); err != nil {
				return err
			}

			a.logger.Info("starting the search", zap.String("keyword", params.Keyword))
			result, err := a.toolkit.SearchJobs(ctx, params)
			if err != nil {
				return err
			}

			a.report("found postings", result)
			return nil
		})
	},
}

var recommendCmd = &cobra.Command{
	Use:   "recommend",
	Short: "Rank postings against the résumé without greeting anyone",
	Run: func(cmd *cobra.Command, _ []string) {
		runWith(cmd, func(ctx context.Context, a *application) error {
			if err := a.loadResume(ctx); err != nil {
				return err
			}
			if err := a.login(ctx); err != nil {
				return err
			}

			params := tools.NewRecommendParams(keywordFlag(cmd, a))
			params.MinScore = a.config.Recommend.MinScore
			params.MaxCount = a.config.Recommend.MaxCount

			result, err := a.toolkit.GetRecommendedJobs(ctx, params)
			if err != nil {
				return err
			}

			a.report("recommended postings", result)
			return nil
		})
	},
}

func init() {
	rootCmd.AddCommand(searchCmd, recommendCmd)

	for _, c := range []*cobra.Command{searchCmd, recommendCmd} {
		c.Flags().StringP("keyword", "k", "", "search keyword, overrides search.keyword")
		c.Flags().BoolP("do-not-exclude-greeted", "f", false, "do not exclude postings greeted in earlier runs")
	}
}

// keywordFlag returns --keyword, then search.keyword. Empty means the
// résumé's expected position.
func keywordFlag(cmd *cobra.Command, a *application) string {
	if flag := cmd.Flag("keyword"); flag != nil && flag.Value.String() != "" {
		return flag.Value.String()
	}
	return a.config.Search.Keyword
}
