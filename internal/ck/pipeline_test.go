package ck

import (
	"archive/zip"
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/github-lab-harvester/internal/domain"
)

func buildZip(t *testing.T, files map[string]string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for name, content := range files {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// archiveServer serves archives by request path; anything else is a 404
func archiveServer(t *testing.T, archives map[string][]byte) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, ok := archives[r.URL.Path]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

type recordingAnalyzer struct {
	mu      sync.Mutex
	sources []string
	fail    map[string]bool
	// sawFile records whether the extracted source was present during analysis
	sawFile map[string]bool
}

func (a *recordingAnalyzer) Analyze(ctx context.Context, srcDir, outDir string) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	name := filepath.Base(filepath.Dir(srcDir))
	a.sources = append(a.sources, name)
	if a.sawFile == nil {
		a.sawFile = map[string]bool{}
	}
	_, err := os.Stat(filepath.Join(srcDir, "App.java"))
	a.sawFile[name] = err == nil
	if a.fail[name] {
		return errors.New("exit status 1")
	}
	return os.WriteFile(filepath.Join(outDir, "class.csv"), []byte("file,class\n"), 0o644)
}

func repo(owner, name string) domain.RepositoryIdentity {
	return domain.RepositoryIdentity{Owner: owner, Name: name}
}

func TestPipeline_Run(t *testing.T) {
	srv := archiveServer(t, map[string][]byte{
		"/octo/one/archive/refs/heads/main.zip":   buildZip(t, map[string]string{"one-main/App.java": "class App {}"}),
		"/octo/two/archive/refs/heads/master.zip": buildZip(t, map[string]string{"two-master/App.java": "class App {}"}),
		"/octo/bad/archive/refs/heads/main.zip":   buildZip(t, map[string]string{"bad-main/App.java": "class App {}"}),
	})
	work := t.TempDir()
	analyzer := &recordingAnalyzer{fail: map[string]bool{"octo__bad": true}}
	p := NewPipeline(analyzer, Options{WorkDir: work, Threads: 2, BlockSize: 2, ArchiveURL: srv.URL})

	report, err := p.Run(context.Background(), []domain.RepositoryIdentity{
		repo("octo", "one"), repo("octo", "two"), repo("octo", "missing"), repo("octo", "bad"),
	})
	require.NoError(t, err)

	assert.Equal(t, 4, report.Total)
	assert.Equal(t, 3, report.Downloaded)
	assert.Equal(t, 1, report.Failed)
	assert.Equal(t, 2, report.Analyzed)
	assert.Equal(t, 1, report.Errored)

	assert.ElementsMatch(t, []string{"octo__one", "octo__two", "octo__bad"}, analyzer.sources)
	for name, saw := range analyzer.sawFile {
		assert.True(t, saw, name)
	}

	// sources are removed after each block, results are kept
	entries, err := os.ReadDir(p.ReposDir())
	require.NoError(t, err)
	assert.Empty(t, entries)
	_, err = os.Stat(filepath.Join(p.ResultDir(repo("octo", "one")), "class.csv"))
	assert.NoError(t, err)
}

func TestPipeline_DownloadReusesExtraction(t *testing.T) {
	work := t.TempDir()
	p := NewPipeline(&recordingAnalyzer{}, Options{WorkDir: work, ArchiveURL: "http://127.0.0.1:0"})

	existing := filepath.Join(p.ReposDir(), "octo__cached", "cached-main")
	require.NoError(t, os.MkdirAll(existing, 0o755))

	dir, err := p.Download(context.Background(), repo("octo", "cached"))
	require.NoError(t, err)
	assert.Equal(t, existing, dir)
}

func TestPipeline_DownloadFallsBackToMaster(t *testing.T) {
	srv := archiveServer(t, map[string][]byte{
		"/octo/old/archive/refs/heads/master.zip": buildZip(t, map[string]string{"old-master/README": "hi"}),
	})
	p := NewPipeline(&recordingAnalyzer{}, Options{WorkDir: t.TempDir(), ArchiveURL: srv.URL})
	require.NoError(t, os.MkdirAll(p.ReposDir(), 0o755))

	dir, err := p.Download(context.Background(), repo("octo", "old"))
	require.NoError(t, err)
	assert.Equal(t, "old-master", filepath.Base(dir))

	content, err := os.ReadFile(filepath.Join(dir, "README"))
	require.NoError(t, err)
	assert.Equal(t, "hi", string(content))
}

func TestPipeline_DownloadFailsOnEveryBranch(t *testing.T) {
	srv := archiveServer(t, nil)
	p := NewPipeline(&recordingAnalyzer{}, Options{WorkDir: t.TempDir(), ArchiveURL: srv.URL})
	require.NoError(t, os.MkdirAll(p.ReposDir(), 0o755))

	_, err := p.Download(context.Background(), repo("octo", "gone"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "main")
	assert.Contains(t, err.Error(), "master")
}

func TestExtractZip_RejectsEscapingEntries(t *testing.T) {
	dir := t.TempDir()
	archive := filepath.Join(dir, "evil.zip")
	require.NoError(t, os.WriteFile(archive, buildZip(t, map[string]string{"../../evil.txt": "x"}), 0o644))

	err := extractZip(archive, filepath.Join(dir, "dest"))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "escapes"))

	_, statErr := os.Stat(filepath.Join(dir, "..", "evil.txt"))
	assert.True(t, os.IsNotExist(statErr))
}

func TestPipeline_Cancelled(t *testing.T) {
	srv := archiveServer(t, nil)
	p := NewPipeline(&recordingAnalyzer{}, Options{WorkDir: t.TempDir(), ArchiveURL: srv.URL})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := p.Run(ctx, []domain.RepositoryIdentity{repo("octo", "one")})
	assert.ErrorIs(t, err, context.Canceled)
}
