package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kurihiro0119/github-lab-harvester/internal/benchmark"
	"github.com/kurihiro0119/github-lab-harvester/internal/ck"
	"github.com/kurihiro0119/github-lab-harvester/internal/domain"
	"github.com/kurihiro0119/github-lab-harvester/internal/logger"
	"github.com/kurihiro0119/github-lab-harvester/internal/sink"
)

var (
	ckInput        string
	ckLimit        int
	benchmarkDef   string
	benchmarkTrial int
)

var ckCmd = &cobra.Command{
	Use:   "ck",
	Short: "Run CK code metrics over repository archives",
	Long: `Download the source archive of every repository in the input dataset, run the
CK jar (CK_JAR_PATH) on it and keep its CSV output under <CK_WORK_DIR>/results.
Repositories are processed in blocks of CK_BLOCK_SIZE; each block is deleted
once analyzed.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		input := ckInput
		if input == "" {
			input = outputPath(cfg, "repositories.csv")
		}
		source := &sink.CSVIdentitySource{Path: input, Delimiter: cfg.DelimiterRune()}
		hits, err := source.Identities(ctx, ckLimit)
		if err != nil {
			return fmt.Errorf("failed to read repositories: %w", err)
		}
		repos := make([]domain.RepositoryIdentity, len(hits))
		for i, h := range hits {
			repos[i] = h.Identity
		}

		pipeline := ck.NewPipeline(ck.JavaAnalyzer{
			JarPath:   cfg.CK.JarPath,
			Log4jPath: cfg.CK.Log4jPath,
		}, ck.Options{
			WorkDir:   cfg.CK.WorkDir,
			Threads:   cfg.CK.Threads,
			BlockSize: cfg.CK.BlockSize,
			Logger:    logger.Named("ck"),
		})

		fmt.Printf("Analyzing %d repositories...\n", len(repos))
		report, err := pipeline.Run(ctx, repos)
		if report != nil {
			if outputJSON {
				if jerr := printJSON(report); jerr != nil {
					return jerr
				}
			} else {
				fmt.Printf("Downloaded: %d/%d (failed %d)\n", report.Downloaded, report.Total, report.Failed)
				fmt.Printf("Analyzed:   %d (errors %d)\n", report.Analyzed, report.Errored)
				fmt.Printf("Elapsed:    %s\n", report.Elapsed)
			}
		}
		if err != nil {
			return fmt.Errorf("ck pipeline stopped: %w", err)
		}
		return nil
	},
}

var benchmarkCmd = &cobra.Command{
	Use:   "benchmark",
	Short: "Time equivalent REST and GraphQL requests",
	Long: `Run the trials described by a TOML benchmark definition and append the
measurements to rest_results.csv and graphql_results.csv in its output directory.
${VAR} references in the definition are read from the environment.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		ctx, cancel := signalContext()
		defer cancel()

		def, err := benchmark.LoadDefinition(benchmarkDef)
		if err != nil {
			return err
		}
		if benchmarkTrial > 0 {
			def.Benchmark.Trials = benchmarkTrial
		}

		runner := benchmark.NewRunner(def, benchmark.Options{
			Token:  cfg.GitHub.Token,
			Writer: sink.NewWriter(cfg.DelimiterRune()),
			Logger: logger.Named("benchmark"),
		})
		res, err := runner.Run(ctx)
		if err != nil {
			return fmt.Errorf("benchmark failed: %w", err)
		}

		fmt.Printf("Order: %v\n", res.Order)
		fmt.Printf("REST:    %d measurements -> %s\n", len(res.REST), res.RESTPath)
		fmt.Printf("GraphQL: %d measurements -> %s\n", len(res.GraphQL), res.GraphQLPath)
		return nil
	},
}

func init() {
	ckCmd.Flags().StringVar(&ckInput, "input", "", "repository dataset (default <OUTPUT_DIR>/repositories.csv)")
	ckCmd.Flags().IntVar(&ckLimit, "limit", 0, "analyze only the first N repositories")

	benchmarkCmd.Flags().StringVar(&benchmarkDef, "definition", "benchmark.toml", "benchmark definition file")
	benchmarkCmd.Flags().IntVar(&benchmarkTrial, "trials", 0, "override benchmark.trials")
}
