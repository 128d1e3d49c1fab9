package collector

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kurihiro0119/github-lab-harvester/internal/domain"
	apperrors "github.com/kurihiro0119/github-lab-harvester/internal/errors"
)

func newGraphQLTestClient(t *testing.T, clock *fakeClock, handler http.HandlerFunc) *Client {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/graphql", handler)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	client, err := NewClient(ClientConfig{
		Token:      "test-token",
		BaseURL:    server.URL + "/",
		HTTPClient: server.Client(),
	}, newTestGovernor(clock))
	require.NoError(t, err)
	return client
}

func twoRepoQuery() AggregateQuery {
	return BuildAggregateQuery(domain.Batch[domain.RepositoryIdentity]{
		Items: []domain.RepositoryIdentity{{Owner: "a", Name: "r1"}, {Owner: "b", Name: "r2"}},
	}, MetadataFields)
}

func TestExecuteAggregate_PreservesAliasOrder(t *testing.T) {
	client := newGraphQLTestClient(t, newFakeClock(), func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "Bearer test-token", r.Header.Get("Authorization"))

		var body map[string]string
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &body))
		assert.Contains(t, body["query"], "repo1: repository")

		_, _ = w.Write([]byte(`{"data":{"repo0":{"nameWithOwner":"a/r1","createdAt":"2020-01-01T00:00:00Z"},"repo1":{"nameWithOwner":"b/r2","createdAt":"2021-01-01T00:00:00Z"}}}`))
	})

	values, err := client.ExecuteAggregate(context.Background(), twoRepoQuery())
	require.NoError(t, err)
	require.Len(t, values, 2)
	assert.Contains(t, string(values[0]), "a/r1")
	assert.Contains(t, string(values[1]), "b/r2")
}

func TestExecuteAggregate_KeyOrderMismatch(t *testing.T) {
	client := newGraphQLTestClient(t, newFakeClock(), func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"repo1":{},"repo0":{}}}`))
	})

	_, err := client.ExecuteAggregate(context.Background(), twoRepoQuery())
	require.Error(t, err)
	assert.True(t, apperrors.IsMalformedResponse(err))
}

func TestExecuteAggregate_MissingAlias(t *testing.T) {
	client := newGraphQLTestClient(t, newFakeClock(), func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"repo0":{}}}`))
	})

	_, err := client.ExecuteAggregate(context.Background(), twoRepoQuery())
	assert.True(t, apperrors.IsMalformedResponse(err))
}

func TestExecuteAggregate_ErrorsPayload(t *testing.T) {
	client := newGraphQLTestClient(t, newFakeClock(), func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":null,"errors":[{"message":"Field 'bogus' doesn't exist on type 'Repository'"}]}`))
	})

	_, err := client.ExecuteAggregate(context.Background(), twoRepoQuery())
	require.Error(t, err)
	assert.True(t, apperrors.IsQueryError(err))
	assert.True(t, apperrors.IsRetryable(err))
	assert.Contains(t, err.Error(), "bogus")
}

func TestExecuteAggregate_NotFoundFailsBatch(t *testing.T) {
	client := newGraphQLTestClient(t, newFakeClock(), func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"data":{"repo0":{"createdAt":"2020-01-01T00:00:00Z"},"repo1":null},
			"errors":[{"type":"NOT_FOUND","path":["repo1"],"message":"Could not resolve to a Repository"}]}`))
	})

	values, err := client.ExecuteAggregate(context.Background(), twoRepoQuery())
	require.Error(t, err)
	assert.Nil(t, values)
	assert.True(t, apperrors.IsQueryError(err))
	assert.True(t, apperrors.IsRetryable(err))
	assert.Contains(t, err.Error(), "Could not resolve")
}

func TestExecuteAggregate_RateLimitedPayloadIsAbsorbed(t *testing.T) {
	clock := newFakeClock()
	calls := 0
	client := newGraphQLTestClient(t, clock, func(w http.ResponseWriter, r *http.Request) {
		calls++
		if calls == 1 {
			_, _ = w.Write([]byte(`{"errors":[{"type":"RATE_LIMITED","message":"API rate limit exceeded"}]}`))
			return
		}
		_, _ = w.Write([]byte(`{"data":{"repo0":{},"repo1":{}}}`))
	})

	values, err := client.ExecuteAggregate(context.Background(), twoRepoQuery())
	require.NoError(t, err)
	assert.Len(t, values, 2)
	assert.Equal(t, 2, calls)
	assert.Len(t, clock.sleeps, 1)
}

func TestExecuteAggregate_BadGateway(t *testing.T) {
	client := newGraphQLTestClient(t, newFakeClock(), func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	})

	_, err := client.ExecuteAggregate(context.Background(), twoRepoQuery())
	require.Error(t, err)
	assert.True(t, apperrors.IsRequestFailed(err))
	assert.True(t, apperrors.IsRetryable(err))
}

func TestDecodeSnapshot(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	hit := domain.SearchHit{Identity: domain.RepositoryIdentity{Owner: "golang", Name: "go"}, Stars: 120000}
	raw := json.RawMessage(`{
		"nameWithOwner": "golang/go",
		"createdAt": "2014-08-19T04:33:40Z",
		"updatedAt": "2024-05-31T12:00:00Z",
		"primaryLanguage": {"name": "Go"},
		"releases": {"totalCount": 0},
		"mergedPullRequests": {"totalCount": 4000},
		"closedIssues": {"totalCount": 30},
		"openIssues": {"totalCount": 10}
	}`)

	snap, err := DecodeSnapshot(raw, hit, now)
	require.NoError(t, err)

	assert.Equal(t, hit.Identity, snap.Identity)
	assert.Equal(t, 120000, snap.Stars)
	assert.Equal(t, "Go", snap.PrimaryLanguage)
	assert.Equal(t, 4000, snap.MergedPRCount)
	assert.InDelta(t, 0.75, snap.ClosedIssueRatio(), 1e-9)
	assert.Equal(t, 12.0, snap.Recency().Hours())
	assert.Equal(t, now, snap.CapturedAt)
}

func TestDecodeSnapshot_Malformed(t *testing.T) {
	hit := domain.SearchHit{Identity: domain.RepositoryIdentity{Owner: "a", Name: "b"}}

	for _, raw := range []string{`null`, `{"createdAt": 5}`, `{}`} {
		_, err := DecodeSnapshot(json.RawMessage(raw), hit, time.Now())
		assert.True(t, apperrors.IsMalformedResponse(err), raw)
	}
}

func TestDecodeOrderedObject(t *testing.T) {
	keys, values, err := decodeOrderedObject(json.RawMessage(`{"b":1,"a":{"x":[1,2]},"c":null}`))
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "a", "c"}, keys)
	assert.JSONEq(t, `{"x":[1,2]}`, string(values[1]))
	assert.Equal(t, "null", string(values[2]))

	_, _, err = decodeOrderedObject(json.RawMessage(`[1,2]`))
	assert.Error(t, err)
}
