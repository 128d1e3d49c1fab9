package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kurihiro0119/github-lab-harvester/internal/collector"
	"github.com/kurihiro0119/github-lab-harvester/internal/config"
	"github.com/kurihiro0119/github-lab-harvester/internal/domain"
	"github.com/kurihiro0119/github-lab-harvester/internal/harvest"
	"github.com/kurihiro0119/github-lab-harvester/internal/logger"
	"github.com/kurihiro0119/github-lab-harvester/internal/sink"
	"github.com/kurihiro0119/github-lab-harvester/internal/storage"
)

var (
	harvestQuery  string
	harvestTarget int
	harvestFields string
	harvestInput  string
	harvestOutput string
)

var harvestCmd = &cobra.Command{
	Use:   "harvest",
	Short: "Collect data from GitHub",
}

var harvestReposCmd = &cobra.Command{
	Use:   "repos",
	Short: "Harvest repository metadata",
	Long: `Search the most-starred repositories matching the query (or read them from
--input) and fetch their metadata in batched GraphQL queries.`,
	Args: cobra.NoArgs,
	RunE: runHarvestRepos,
}

var harvestPRsCmd = &cobra.Command{
	Use:   "prs",
	Short: "Harvest reviewed pull requests",
	Long: `Collect merged and closed pull requests with at least PR_MIN_REVIEWS reviews
and a review time of at least PR_MIN_REVIEW_TIME, for every repository of the
input dataset (default: the repository dataset in the output directory).`,
	Args: cobra.NoArgs,
	RunE: runHarvestPRs,
}

func init() {
	harvestCmd.PersistentFlags().IntVar(&harvestTarget, "target", 0, "number of repositories (default TARGET_COUNT)")
	harvestCmd.PersistentFlags().StringVar(&harvestInput, "input", "", "read repositories from this dataset instead of searching")
	harvestCmd.PersistentFlags().StringVar(&harvestOutput, "output", "", "dataset file to append to")

	harvestReposCmd.Flags().StringVar(&harvestQuery, "query", "", "search query (default SEARCH_QUERY)")
	harvestReposCmd.Flags().StringVar(&harvestFields, "fields", "metadata", "GraphQL field set: metadata or releases")

	harvestCmd.AddCommand(harvestReposCmd)
	harvestCmd.AddCommand(harvestPRsCmd)
}

// harvestSetup is what both harvest commands share
type harvestSetup struct {
	cfg      *config.Config
	gh       *collector.Client
	store    storage.Storage
	recorder *storage.Recorder // nil without storage
	writer   *sink.Writer
}

func newHarvestSetup() (*harvestSetup, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if harvestQuery != "" {
		cfg.Harvest.SearchQuery = harvestQuery
	}
	if harvestTarget > 0 {
		cfg.Harvest.TargetCount = harvestTarget
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	gh, err := newGitHubClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create GitHub client: %w", err)
	}
	store, err := getStorage(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize storage: %w", err)
	}
	setup := &harvestSetup{cfg: cfg, gh: gh, store: store, writer: sink.NewWriter(cfg.DelimiterRune())}
	if store != nil {
		setup.recorder = storage.NewRecorder(store)
	}
	return setup, nil
}

func (s *harvestSetup) close() {
	if s.store != nil {
		s.store.Close()
	}
}

func (s *harvestSetup) orchestrator(fields collector.FieldSet) *harvest.Orchestrator {
	h := s.cfg.Harvest
	o := harvest.New(s.gh, s.gh, harvest.Options{
		BatchSize:          h.BatchSize,
		MaxRetriesPerBatch: h.MaxRetriesPerBatch,
		RetryDelay:         h.RetryDelay,
		Concurrency:        h.Concurrency,
		Fields:             fields,
		Query:              h.SearchQuery,
		Logger:             logger.Named("harvest"),
	})
	if s.recorder != nil {
		o.SetRunRecorder(s.recorder)
	}
	return o
}

// identities reads the input dataset when given, otherwise pages through the search
func (s *harvestSetup) identities(source collector.IdentitySource) collector.IdentitySource {
	if harvestInput != "" {
		return &sink.CSVIdentitySource{Path: harvestInput, Delimiter: s.cfg.DelimiterRune()}
	}
	return source
}

func runHarvestRepos(cmd *cobra.Command, args []string) error {
	fields, err := collector.FieldSetByName(harvestFields)
	if err != nil {
		return err
	}

	setup, err := newHarvestSetup()
	if err != nil {
		return err
	}
	defer setup.close()
	cfg := setup.cfg

	ctx, cancel := signalContext()
	defer cancel()

	source := setup.identities(collector.NewPaginator(setup.gh, cfg.Harvest.SearchQuery, cfg.Harvest.PageSize))
	fmt.Printf("Fetching up to %d repositories (%s)...\n", cfg.Harvest.TargetCount, cfg.Harvest.SearchQuery)
	hits, err := source.Identities(ctx, cfg.Harvest.TargetCount)
	if err != nil {
		return fmt.Errorf("failed to list repositories: %w", err)
	}
	fmt.Printf("Found %d repositories\n", len(hits))

	path := harvestOutput
	if path == "" {
		path = outputPath(cfg, "repositories.csv")
	}

	o := setup.orchestrator(fields)
	o.AddSnapshotSink(sink.NewSnapshotFile(setup.writer, path))
	if setup.recorder != nil {
		o.AddSnapshotSink(setup.recorder)
	}

	fmt.Println("Collecting repository metadata...")
	result, err := o.RunSnapshots(ctx, hits)
	if err != nil {
		return fmt.Errorf("harvest failed: %w", err)
	}

	stats := setup.gh.Governor().Stats()
	fmt.Printf("\nHarvested %d repositories (%d failed) in run %s\n", len(result.Records), result.Failed, result.RunID)
	fmt.Printf("Dataset: %s\n", path)
	fmt.Printf("API requests: %d\n", stats.Requests)
	for _, resource := range []string{collector.ResourceSearch, collector.ResourceGraphQL} {
		if q, ok := stats.Quotas[resource]; ok && q.Remaining >= 0 {
			fmt.Printf("Remaining %s quota: %d\n", resource, q.Remaining)
		}
	}
	return nil
}

func runHarvestPRs(cmd *cobra.Command, args []string) error {
	setup, err := newHarvestSetup()
	if err != nil {
		return err
	}
	defer setup.close()
	cfg := setup.cfg

	ctx, cancel := signalContext()
	defer cancel()

	if harvestInput == "" {
		harvestInput = outputPath(cfg, "repositories.csv")
	}
	hits, err := setup.identities(nil).Identities(ctx, cfg.Harvest.TargetCount)
	if err != nil {
		return fmt.Errorf("failed to read repositories: %w", err)
	}
	repos := make([]domain.RepositoryIdentity, len(hits))
	for i, h := range hits {
		repos[i] = h.Identity
	}
	fmt.Printf("Collecting pull requests of %d repositories...\n", len(repos))

	path := harvestOutput
	if path == "" {
		path = outputPath(cfg, "pull_requests.csv")
	}

	o := setup.orchestrator(collector.MetadataFields)
	o.AddPullRequestSink(sink.NewPullRequestFile(setup.writer, path))
	if setup.recorder != nil {
		o.AddPullRequestSink(setup.recorder)
	}

	pr := cfg.PullRequests
	result, err := o.RunPullRequests(ctx, repos, collector.PullRequestCriteria{
		MinReviews:    pr.MinReviews,
		MinReviewTime: pr.MinReviewTime,
		MaxPages:      pr.MaxPages,
		MinPRs:        pr.MinCount,
	})
	if err != nil {
		return fmt.Errorf("harvest failed: %w", err)
	}

	fmt.Printf("\nHarvested %d pull requests in run %s\n", len(result.Records), result.RunID)
	fmt.Printf("Repositories failed: %d, skipped (fewer than %d PRs): %d\n", result.Failed, pr.MinCount, result.Skipped)
	fmt.Printf("Dataset: %s\n", path)
	return nil
}
