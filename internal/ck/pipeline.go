// Package ck downloads repository source archives and runs the CK code-metrics tool on them
// in fixed-size blocks, removing each block's sources before the next block starts.
package ck

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kurihiro0119/github-lab-harvester/internal/domain"
	"github.com/kurihiro0119/github-lab-harvester/internal/logger"
)

// Analyzer runs the metrics tool on an extracted source tree, writing its output to outDir
type Analyzer interface {
	Analyze(ctx context.Context, srcDir, outDir string) error
}

// Options configures a Pipeline
type Options struct {
	WorkDir    string // extraction and result root
	Threads    int    // workers per phase (default 8)
	BlockSize  int    // repositories per block (default 200)
	ArchiveURL string // archive host (default https://github.com)
	Branches   []string
	HTTPClient *http.Client
	Logger     *logger.Logger
}

// Report summarizes a pipeline run
type Report struct {
	Total      int
	Downloaded int
	Failed     int // downloads that failed on every branch
	Analyzed   int
	Errored    int // analyses that exited non-zero
	Elapsed    time.Duration
}

// Pipeline processes repositories block by block: download, analyze, clean up
type Pipeline struct {
	opts     Options
	analyzer Analyzer
	log      *logger.Logger
}

// NewPipeline creates a pipeline running analyzer over downloaded archives
func NewPipeline(analyzer Analyzer, opts Options) *Pipeline {
	if opts.WorkDir == "" {
		opts.WorkDir = "./ck_work"
	}
	if opts.Threads < 1 {
		opts.Threads = 8
	}
	if opts.BlockSize < 1 {
		opts.BlockSize = 200
	}
	if opts.ArchiveURL == "" {
		opts.ArchiveURL = "https://github.com"
	}
	if len(opts.Branches) == 0 {
		opts.Branches = []string{"main", "master"}
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	log := opts.Logger
	if log == nil {
		log = logger.Nop()
	}
	return &Pipeline{opts: opts, analyzer: analyzer, log: log}
}

// ReposDir is where archives are extracted
func (p *Pipeline) ReposDir() string {
	return filepath.Join(p.opts.WorkDir, "repos")
}

// ResultDir is where the analyzer output of repo is written
func (p *Pipeline) ResultDir(repo domain.RepositoryIdentity) string {
	return filepath.Join(p.opts.WorkDir, "results", dirName(repo))
}

// Run processes repos in blocks. Download and analysis failures are counted and skipped;
// only cancellation aborts the run.
func (p *Pipeline) Run(ctx context.Context, repos []domain.RepositoryIdentity) (*Report, error) {
	start := time.Now()
	report := &Report{Total: len(repos)}

	if err := os.MkdirAll(p.ReposDir(), 0o755); err != nil {
		return nil, fmt.Errorf("creating %s: %w", p.ReposDir(), err)
	}

	blocks := (len(repos) + p.opts.BlockSize - 1) / p.opts.BlockSize
	for b := 0; b < blocks; b++ {
		end := min((b+1)*p.opts.BlockSize, len(repos))
		block := repos[b*p.opts.BlockSize : end]
		p.log.Info().Int("block", b+1).Int("of", blocks).Int("repositories", len(block)).Msg("processing block")

		err := p.runBlock(ctx, block, report)
		if err != nil {
			report.Elapsed = time.Since(start)
			return report, err
		}
	}

	report.Elapsed = time.Since(start)
	p.log.Info().Int("analyzed", report.Analyzed).Int("failed", report.Failed).
		Dur("elapsed", report.Elapsed).Msg("ck analysis finished")
	return report, nil
}

type extracted struct {
	repo domain.RepositoryIdentity
	dir  string
}

func (p *Pipeline) runBlock(ctx context.Context, block []domain.RepositoryIdentity, report *Report) error {
	var (
		mu        sync.Mutex
		downloads []extracted
	)

	// Cleanup runs once every worker of the block has returned, even on cancellation
	defer func() {
		for _, d := range downloads {
			if err := os.RemoveAll(filepath.Join(p.ReposDir(), dirName(d.repo))); err != nil {
				p.log.Warn().Err(err).Str("repo", d.repo.FullName()).Msg("cleanup failed")
			}
		}
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Threads)
	for i, repo := range block {
		g.Go(func() error {
			dir, err := p.Download(gctx, repo)

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				report.Failed++
				p.log.Warn().Err(err).Str("repo", repo.FullName()).Msg("download failed")
				return nil
			}
			report.Downloaded++
			downloads = append(downloads, extracted{repo: repo, dir: dir})
			p.log.Info().Str("repo", repo.FullName()).Int("n", i+1).Int("of", len(block)).Msg("downloaded")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	g, gctx = errgroup.WithContext(ctx)
	g.SetLimit(p.opts.Threads)
	for _, d := range downloads {
		g.Go(func() error {
			out := p.ResultDir(d.repo)
			err := os.MkdirAll(out, 0o755)
			if err == nil {
				err = p.analyzer.Analyze(gctx, d.dir, out)
			}

			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				report.Errored++
				p.log.Warn().Err(err).Str("repo", d.repo.FullName()).Msg("ck failed")
				return nil
			}
			report.Analyzed++
			return nil
		})
	}
	return g.Wait()
}

// Download fetches and extracts the repository's archive, trying each branch in order.
// An existing non-empty extraction is reused. It returns the extracted source root.
func (p *Pipeline) Download(ctx context.Context, repo domain.RepositoryIdentity) (string, error) {
	dest := filepath.Join(p.ReposDir(), dirName(repo))
	if root, ok := existingRoot(dest); ok {
		p.log.Debug().Str("repo", repo.FullName()).Str("dir", root).Msg("reusing extraction")
		return root, nil
	}

	var errs []error
	for _, branch := range p.opts.Branches {
		url := fmt.Sprintf("%s/%s/%s/archive/refs/heads/%s.zip", p.opts.ArchiveURL, repo.Owner, repo.Name, branch)
		root, err := p.fetch(ctx, url, dest)
		if err == nil {
			return root, nil
		}
		os.RemoveAll(dest)
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		errs = append(errs, fmt.Errorf("%s: %w", branch, err))
	}
	return "", fmt.Errorf("downloading %s: %w", repo, errors.Join(errs...))
}

func (p *Pipeline) fetch(ctx context.Context, url, dest string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := p.opts.HTTPClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("GET %s: %s", url, resp.Status)
	}

	tmp, err := os.CreateTemp(p.ReposDir(), "archive-*.zip")
	if err != nil {
		return "", err
	}
	defer os.Remove(tmp.Name())

	_, err = tmp.ReadFrom(resp.Body)
	tmp.Close()
	if err != nil {
		return "", fmt.Errorf("saving archive: %w", err)
	}

	if err := extractZip(tmp.Name(), dest); err != nil {
		return "", err
	}
	root, ok := existingRoot(dest)
	if !ok {
		return "", errors.New("archive is empty")
	}
	return root, nil
}

// existingRoot returns the single top-level entry of a non-empty extraction directory
func existingRoot(dest string) (string, bool) {
	entries, err := os.ReadDir(dest)
	if err != nil || len(entries) == 0 {
		return "", false
	}
	return filepath.Join(dest, entries[0].Name()), true
}

func dirName(repo domain.RepositoryIdentity) string {
	return repo.Owner + "__" + repo.Name
}
