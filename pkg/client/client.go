package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kurihiro0119/github-lab-harvester/internal/aggregator"
	"github.com/kurihiro0119/github-lab-harvester/internal/domain"
	apperrors "github.com/kurihiro0119/github-lab-harvester/internal/errors"
)

// Client is the API client for the harvester server
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// GetRuns retrieves every harvest run, newest first
func (c *Client) GetRuns(ctx context.Context) ([]*domain.HarvestRun, error) {
	var response struct {
		Data []*domain.HarvestRun `json:"data"`
	}
	if err := c.get(ctx, "/api/v1/runs", &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetRun retrieves one harvest run
func (c *Client) GetRun(ctx context.Context, id string) (*domain.HarvestRun, error) {
	var response struct {
		Data *domain.HarvestRun `json:"data"`
	}
	if err := c.get(ctx, runPath(id, ""), &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetRepositories retrieves the repository snapshots of a run
func (c *Client) GetRepositories(ctx context.Context, id string) ([]domain.RepositorySnapshot, error) {
	var response struct {
		Data []domain.RepositorySnapshot `json:"data"`
	}
	if err := c.get(ctx, runPath(id, "/repositories"), &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetPullRequests retrieves the pull request records of a run
func (c *Client) GetPullRequests(ctx context.Context, id string) ([]domain.PullRequestRecord, error) {
	var response struct {
		Data []domain.PullRequestRecord `json:"data"`
	}
	if err := c.get(ctx, runPath(id, "/pull-requests"), &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetQuestions retrieves the research-question results of a run
func (c *Client) GetQuestions(ctx context.Context, id string) ([]domain.ResearchResult, error) {
	var response struct {
		Data []domain.ResearchResult `json:"data"`
	}
	if err := c.get(ctx, runPath(id, "/questions"), &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

// GetLanguages retrieves the popular-language report of a repository run
func (c *Client) GetLanguages(ctx context.Context, id string) (*aggregator.LanguageReport, error) {
	var response struct {
		Data *aggregator.LanguageReport `json:"data"`
	}
	if err := c.get(ctx, runPath(id, "/languages"), &response); err != nil {
		return nil, err
	}
	return response.Data, nil
}

func runPath(id, suffix string) string {
	return "/api/v1/runs/" + url.PathEscape(id) + suffix
}

// get performs a GET request and decodes the JSON response. Error bodies written by the
// server are turned back into application errors carrying the same code.
func (c *Client) get(ctx context.Context, path string, result interface{}) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)

		var errBody struct {
			Error struct {
				Code    apperrors.ErrCode `json:"code"`
				Message string            `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(body, &errBody) == nil && errBody.Error.Code != "" {
			return &apperrors.AppError{
				Code:       errBody.Error.Code,
				Message:    errBody.Error.Message,
				StatusCode: resp.StatusCode,
			}
		}
		return fmt.Errorf("API error: %s - %s", resp.Status, string(body))
	}

	return json.NewDecoder(resp.Body).Decode(result)
}
