package collector

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/github-lab-harvester/internal/domain"
	apperrors "github.com/kurihiro0119/github-lab-harvester/internal/errors"
)

// fakeSearcher serves total sequential repositories, failing on failPage when set
type fakeSearcher struct {
	total    int
	failPage int
	pages    []int
	repeat   bool // every page starts with the last item of the previous one
}

func (f *fakeSearcher) SearchRepositories(ctx context.Context, query string, page, perPage int) ([]domain.SearchHit, error) {
	f.pages = append(f.pages, page)
	if page == f.failPage {
		return nil, errors.New("HTTP 500")
	}
	start := (page - 1) * perPage
	if f.repeat && page > 1 {
		start--
	}
	var hits []domain.SearchHit
	for i := start; i < start+perPage && i < f.total; i++ {
		hits = append(hits, domain.SearchHit{
			Identity: domain.RepositoryIdentity{Owner: "o", Name: fmt.Sprintf("r%d", i)},
			Stars:    f.total - i,
		})
	}
	return hits, nil
}

func TestPaginator_Fetch(t *testing.T) {
	tests := []struct {
		name      string
		total     int
		target    int
		pageSize  int
		wantLen   int
		wantPages []int
	}{
		{"exact pages", 300, 200, 100, 200, []int{1, 2}},
		{"truncates last page", 300, 150, 100, 150, []int{1, 2}},
		{"source exhausted", 120, 500, 100, 120, []int{1, 2}},
		{"source empty", 0, 10, 100, 0, []int{1}},
		{"exhausted on exact boundary", 200, 500, 100, 200, []int{1, 2, 3}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			searcher := &fakeSearcher{total: tt.total}
			p := NewPaginator(searcher, "stars:>1", tt.pageSize)

			hits, err := p.Fetch(context.Background(), tt.target, tt.pageSize)
			require.NoError(t, err)
			assert.Len(t, hits, tt.wantLen)
			assert.LessOrEqual(t, len(hits), tt.target)
			assert.Equal(t, tt.wantPages, searcher.pages)
		})
	}
}

func TestPaginator_DropsDuplicates(t *testing.T) {
	searcher := &fakeSearcher{total: 50, repeat: true}
	p := NewPaginator(searcher, "q", 10)

	hits, err := p.Identities(context.Background(), 25)
	require.NoError(t, err)
	require.Len(t, hits, 25)

	seen := map[domain.RepositoryIdentity]bool{}
	for _, h := range hits {
		assert.False(t, seen[h.Identity], "duplicate %s", h.Identity)
		seen[h.Identity] = true
	}
}

func TestPaginator_FailureAbortsWithoutPartialResult(t *testing.T) {
	searcher := &fakeSearcher{total: 500, failPage: 2}
	p := NewPaginator(searcher, "q", 100)

	hits, err := p.Fetch(context.Background(), 300, 100)
	require.Error(t, err)
	assert.Nil(t, hits)
	assert.True(t, apperrors.IsSourceUnavailable(err))
}

func TestPaginator_ZeroTarget(t *testing.T) {
	searcher := &fakeSearcher{total: 10}
	hits, err := NewPaginator(searcher, "q", 10).Fetch(context.Background(), 0, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
	assert.Empty(t, searcher.pages)
}

func TestClient_SearchRepositories(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/search/repositories", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "stars:>10000", r.URL.Query().Get("q"))
		assert.Equal(t, "stars", r.URL.Query().Get("sort"))
		assert.Equal(t, "desc", r.URL.Query().Get("order"))
		assert.Equal(t, "2", r.URL.Query().Get("page"))
		assert.Equal(t, "2", r.URL.Query().Get("per_page"))
		_, _ = w.Write([]byte(`{"total_count": 3, "items": [
			{"name": "go", "owner": {"login": "golang"}, "stargazers_count": 120000},
			{"name": "kubernetes", "owner": {"login": "kubernetes"}, "stargazers_count": 100000}
		]}`))
	})
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client, err := NewClient(ClientConfig{Token: "t", BaseURL: server.URL, HTTPClient: server.Client()}, newTestGovernor(newFakeClock()))
	require.NoError(t, err)

	hits, err := client.SearchRepositories(context.Background(), "stars:>10000", 2, 2)
	require.NoError(t, err)
	assert.Equal(t, []domain.SearchHit{
		{Identity: domain.RepositoryIdentity{Owner: "golang", Name: "go"}, Stars: 120000},
		{Identity: domain.RepositoryIdentity{Owner: "kubernetes", Name: "kubernetes"}, Stars: 100000},
	}, hits)

	// beyond the search window no request is made
	hits, err = client.SearchRepositories(context.Background(), "stars:>10000", 11, 100)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestClient_SearchRepositoriesFailure(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnprocessableEntity)
		_, _ = w.Write([]byte(`{"message":"Validation Failed"}`))
	}))
	t.Cleanup(server.Close)

	client, err := NewClient(ClientConfig{Token: "t", BaseURL: server.URL, HTTPClient: server.Client()}, newTestGovernor(newFakeClock()))
	require.NoError(t, err)

	_, err = NewPaginator(client, "bad query", 10).Fetch(context.Background(), 10, 10)
	require.Error(t, err)
	assert.True(t, apperrors.IsSourceUnavailable(err))
}

func TestPaginator_WarnsWhenTargetExceedsSearchWindow(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf).Level(zerolog.WarnLevel)
	p := NewPaginator(&fakeSearcher{total: 50}, "stars:>1", 100)
	p.log = &log

	hits, err := p.Identities(context.Background(), 1500)
	require.NoError(t, err)
	assert.Len(t, hits, 50)

	out := buf.String()
	assert.Contains(t, out, `"search_window":1000`)
	assert.Contains(t, out, "search ended before the target was reached")
	assert.Contains(t, out, `"found":50`)
}

func TestPaginator_NoWarningWhenTargetReached(t *testing.T) {
	var buf bytes.Buffer
	log := zerolog.New(&buf).Level(zerolog.WarnLevel)
	p := NewPaginator(&fakeSearcher{total: 300}, "stars:>1", 100)
	p.log = &log

	hits, err := p.Identities(context.Background(), 200)
	require.NoError(t, err)
	assert.Len(t, hits, 200)
	assert.Empty(t, buf.String())
}
