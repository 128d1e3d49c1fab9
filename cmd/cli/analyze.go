package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/kurihiro0119/github-lab-harvester/internal/aggregator"
	"github.com/kurihiro0119/github-lab-harvester/internal/config"
	"github.com/kurihiro0119/github-lab-harvester/internal/domain"
	"github.com/kurihiro0119/github-lab-harvester/internal/sink"
)

var (
	analyzeInput  string
	analyzeRun    string
	analyzeOutput string
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Answer research questions over a harvested dataset",
	Long: `Compute the research-question summaries of a dataset. The dataset is read
from --input, from a stored run (--run), or from the API server (--run with --remote).
Each question is written to <id>_results.csv under the results directory.`,
}

var analyzeReposCmd = &cobra.Command{
	Use:   "repos",
	Short: "Repository questions (age, stars, releases, update recency, languages)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAnalyze(domain.PhaseRepositories)
	},
}

var analyzePRsCmd = &cobra.Command{
	Use:   "prs",
	Short: "Pull request questions grouped by review count",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runAnalyze(domain.PhasePullRequests)
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print narrative reports",
}

var reportLanguagesCmd = &cobra.Command{
	Use:   "languages",
	Short: "Compare popular languages by merged pull requests, releases and update recency",
	Args:  cobra.NoArgs,
	RunE:  runReportLanguages,
}

func init() {
	for _, c := range []*cobra.Command{analyzeCmd, reportCmd} {
		c.PersistentFlags().StringVar(&analyzeInput, "input", "", "dataset file (default: the harvest output in the output directory)")
		c.PersistentFlags().StringVar(&analyzeRun, "run", "", "stored harvest run ID to analyze instead of a file")
	}
	analyzeCmd.PersistentFlags().StringVar(&analyzeOutput, "output", "", "results directory (default <OUTPUT_DIR>/results)")

	analyzeCmd.AddCommand(analyzeReposCmd)
	analyzeCmd.AddCommand(analyzePRsCmd)
	reportCmd.AddCommand(reportLanguagesCmd)
}

func runAnalyze(phase domain.HarvestPhase) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	var results []domain.ResearchResult
	switch {
	case analyzeRun != "" && remote:
		results, err = newAPIClient(cfg).GetQuestions(ctx, analyzeRun)
	case analyzeRun != "":
		results, err = storedQuestions(ctx, cfg, analyzeRun)
	case phase == domain.PhaseRepositories:
		var snaps []domain.RepositorySnapshot
		snaps, err = sink.ReadSnapshots(datasetPath(cfg, "repositories.csv"), cfg.DelimiterRune())
		results = aggregator.RepositoryQuestions(snaps)
	default:
		var prs []domain.PullRequestRecord
		prs, err = sink.ReadPullRequests(datasetPath(cfg, "pull_requests.csv"), cfg.DelimiterRune())
		results = aggregator.PullRequestQuestions(prs)
	}
	if err != nil {
		return fmt.Errorf("failed to analyze: %w", err)
	}

	dir := analyzeOutput
	if dir == "" {
		dir = outputPath(cfg, "results")
	}
	if err := aggregator.WriteResults(sink.NewWriter(cfg.DelimiterRune()), dir, results); err != nil {
		return fmt.Errorf("failed to write results: %w", err)
	}

	if outputJSON {
		return printJSON(results)
	}
	aggregator.Render(os.Stdout, results)
	fmt.Printf("\nResults written to %s\n", dir)
	return nil
}

func storedQuestions(ctx context.Context, cfg *config.Config, runID string) ([]domain.ResearchResult, error) {
	store, err := requireStorage(cfg)
	if err != nil {
		return nil, err
	}
	defer store.Close()
	return aggregator.NewAggregator(store).Questions(ctx, runID)
}

func runReportLanguages(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := signalContext()
	defer cancel()

	var report *aggregator.LanguageReport
	switch {
	case analyzeRun != "" && remote:
		report, err = newAPIClient(cfg).GetLanguages(ctx, analyzeRun)
	case analyzeRun != "":
		store, serr := requireStorage(cfg)
		if serr != nil {
			return serr
		}
		defer store.Close()
		report, err = aggregator.NewAggregator(store).Languages(ctx, analyzeRun)
	default:
		var snaps []domain.RepositorySnapshot
		snaps, err = sink.ReadSnapshots(datasetPath(cfg, "repositories.csv"), cfg.DelimiterRune())
		if err == nil {
			report = aggregator.BuildLanguageReport(snaps)
		}
	}
	if err != nil {
		return fmt.Errorf("failed to build language report: %w", err)
	}

	if outputJSON {
		return printJSON(report)
	}
	return report.Render(os.Stdout)
}

// datasetPath is --input, or the named harvest output
func datasetPath(cfg *config.Config, name string) string {
	if analyzeInput != "" {
		return filepath.Clean(analyzeInput)
	}
	return outputPath(cfg, name)
}
