package collector

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/kurihiro0119/github-lab-harvester/internal/domain"
	apperrors "github.com/kurihiro0119/github-lab-harvester/internal/errors"
)

type graphQLError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Path    []any  `json:"path"`
}

type graphQLResponse struct {
	Data   json.RawMessage `json:"data"`
	Errors []graphQLError  `json:"errors"`
}

// ExecuteAggregate runs an aggregate query and returns one raw object per alias, in alias
// order. Any errors payload other than rate limiting fails the whole batch with a QueryError.
func (c *Client) ExecuteAggregate(ctx context.Context, q AggregateQuery) ([]json.RawMessage, error) {
	ctx = WithResource(ctx, ResourceGraphQL)
	for {
		out, err := c.postGraphQL(ctx, q.Document)
		if err != nil {
			return nil, err
		}

		if len(out.Errors) > 0 {
			if isRateLimited(out.Errors) {
				if err := c.governor.WaitForReset(ctx); err != nil {
					return nil, err
				}
				continue
			}
			return nil, apperrors.NewQueryError(joinMessages(out.Errors))
		}

		keys, values, err := decodeOrderedObject(out.Data)
		if err != nil {
			return nil, apperrors.NewMalformedResponseError("decoding aggregate data", err)
		}
		if !equalStrings(keys, q.Aliases) {
			return nil, apperrors.NewMalformedResponseError(
				fmt.Sprintf("response keys %v do not match submitted aliases %v", keys, q.Aliases), nil)
		}
		return values, nil
	}
}

func (c *Client) postGraphQL(ctx context.Context, document string) (*graphQLResponse, error) {
	body, err := json.Marshal(map[string]string{"query": document})
	if err != nil {
		return nil, fmt.Errorf("encoding query: %w", err)
	}

	resp, err := c.governor.Guard(ctx, func(ctx context.Context) (*http.Response, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.graphqlURL, bytes.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/json")
		req.Header.Set("Accept", "application/json")
		return c.http.Do(req)
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperrors.NewTransientNetworkError("reading GraphQL response", err)
	}
	var out graphQLResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, apperrors.NewMalformedResponseError("decoding GraphQL response", err)
	}
	return &out, nil
}

func isRateLimited(errs []graphQLError) bool {
	for _, e := range errs {
		if e.Type == "RATE_LIMITED" {
			return true
		}
	}
	return false
}

func joinMessages(errs []graphQLError) string {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.Message)
	}
	return strings.Join(msgs, "; ")
}

// decodeOrderedObject decodes a JSON object keeping its key order
func decodeOrderedObject(data json.RawMessage) ([]string, []json.RawMessage, error) {
	if len(bytes.TrimSpace(data)) == 0 || bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		return nil, nil, fmt.Errorf("missing data object")
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return nil, nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, nil, fmt.Errorf("data is not an object")
	}

	var keys []string
	var values []json.RawMessage
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, nil, fmt.Errorf("unexpected token %v", tok)
		}
		var v json.RawMessage
		if err := dec.Decode(&v); err != nil {
			return nil, nil, fmt.Errorf("decoding %s: %w", key, err)
		}
		keys = append(keys, key)
		values = append(values, v)
	}
	if _, err := dec.Token(); err != nil {
		return nil, nil, err
	}
	return keys, values, nil
}

func equalStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

type totalCount struct {
	TotalCount int `json:"totalCount"`
}

type repositoryNode struct {
	NameWithOwner   string    `json:"nameWithOwner"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
	PrimaryLanguage *struct {
		Name string `json:"name"`
	} `json:"primaryLanguage"`
	Releases           totalCount `json:"releases"`
	MergedPullRequests totalCount `json:"mergedPullRequests"`
	ClosedIssues       totalCount `json:"closedIssues"`
	OpenIssues         totalCount `json:"openIssues"`
}

// DecodeSnapshot turns one aliased repository object into a snapshot of hit taken at now.
// A null or incomplete object is a MALFORMED_RESPONSE for that item.
func DecodeSnapshot(raw json.RawMessage, hit domain.SearchHit, now time.Time) (domain.RepositorySnapshot, error) {
	if len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
		return domain.RepositorySnapshot{}, apperrors.NewMalformedResponseError(
			fmt.Sprintf("no data for %s", hit.Identity), nil)
	}

	var node repositoryNode
	if err := json.Unmarshal(raw, &node); err != nil {
		return domain.RepositorySnapshot{}, apperrors.NewMalformedResponseError(
			fmt.Sprintf("decoding %s", hit.Identity), err)
	}
	if node.CreatedAt.IsZero() {
		return domain.RepositorySnapshot{}, apperrors.NewMalformedResponseError(
			fmt.Sprintf("%s has no createdAt", hit.Identity), nil)
	}
	snap := domain.RepositorySnapshot{
		Identity:         hit.Identity,
		Stars:            hit.Stars,
		CreatedAt:        node.CreatedAt.UTC(),
		UpdatedAt:        node.UpdatedAt.UTC(),
		ReleaseCount:     node.Releases.TotalCount,
		MergedPRCount:    node.MergedPullRequests.TotalCount,
		ClosedIssueCount: node.ClosedIssues.TotalCount,
		OpenIssueCount:   node.OpenIssues.TotalCount,
		CapturedAt:       now.UTC(),
	}
	if node.PrimaryLanguage != nil {
		snap.PrimaryLanguage = node.PrimaryLanguage.Name
	}
	if snap.UpdatedAt.IsZero() {
		snap.UpdatedAt = snap.CreatedAt
	}
	return snap, nil
}
