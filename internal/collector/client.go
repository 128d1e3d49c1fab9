package collector

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/gofri/go-github-ratelimit/v2/github_ratelimit"
	"github.com/google/go-github/v55/github"
	"github.com/gregjones/httpcache"
	"golang.org/x/oauth2"

	"github.com/kurihiro0119/github-lab-harvester/internal/logger"
)

const defaultGraphQLURL = "https://api.github.com/graphql"

// ClientConfig is the immutable configuration shared by every GitHub call
type ClientConfig struct {
	Token      string
	BaseURL    string       // REST root, "https://api.github.com/" when empty
	GraphQLURL string       // defaults to BaseURL + "graphql"
	HTTPClient *http.Client // base client; the cache and secondary rate limit stack when nil
}

// Client talks to the GitHub REST and GraphQL APIs. Every call goes through the Governor.
type Client struct {
	gh         *github.Client
	http       *http.Client
	graphqlURL string
	governor   *Governor
	log        *logger.Logger
}

// NewClient creates a GitHub client with the following transport stack:
//  1. httpcache (ETag-based conditional request caching)
//  2. go-github-ratelimit (secondary rate limit middleware)
//  3. oauth2 (token authentication for REST and GraphQL)
func NewClient(cfg ClientConfig, governor *Governor) (*Client, error) {
	base := cfg.HTTPClient
	if base == nil {
		cacheTransport := httpcache.NewMemoryCacheTransport()
		base = github_ratelimit.NewClient(cacheTransport)
	}

	ctx := context.WithValue(context.Background(), oauth2.HTTPClient, base)
	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: cfg.Token},
	)
	tc := oauth2.NewClient(ctx, ts)
	client := github.NewClient(tc)

	graphqlURL := cfg.GraphQLURL
	if cfg.BaseURL != "" {
		baseURL := cfg.BaseURL
		if !strings.HasSuffix(baseURL, "/") {
			baseURL += "/"
		}
		u, err := url.Parse(baseURL)
		if err != nil {
			return nil, fmt.Errorf("parsing base URL: %w", err)
		}
		client.BaseURL = u

		if graphqlURL == "" {
			graphqlU := *u
			graphqlU.Path = strings.TrimSuffix(u.Path, "/") + "/graphql"
			graphqlURL = graphqlU.String()
		}
	}
	if graphqlURL == "" {
		graphqlURL = defaultGraphQLURL
	}
	if _, err := url.Parse(graphqlURL); err != nil {
		return nil, fmt.Errorf("parsing GraphQL URL: %w", err)
	}

	if governor == nil {
		governor = NewGovernor(GovernorOptions{})
	}

	return &Client{
		gh:         client,
		http:       tc,
		graphqlURL: graphqlURL,
		governor:   governor,
		log:        logger.Named("github"),
	}, nil
}

// Governor returns the rate-limit governor shared by this client's calls
func (c *Client) Governor() *Governor {
	return c.governor
}

// HTTPClient returns the authenticated HTTP client, for callers that need raw requests
func (c *Client) HTTPClient() *http.Client {
	return c.http
}

// REST returns the underlying go-github client
func (c *Client) REST() *github.Client {
	return c.gh
}

// do runs one go-github call through the governor
func (c *Client) do(ctx context.Context, call func(ctx context.Context) (*github.Response, error)) error {
	_, err := c.governor.Guard(ctx, func(ctx context.Context) (*http.Response, error) {
		resp, err := call(ctx)
		if resp == nil {
			return nil, err
		}
		return resp.Response, err
	})
	return err
}
