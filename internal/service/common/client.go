//nolint:revive,nolintlint // Package name "common" is intentional for shared helpers.
package common

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/go-github/v75/github"

	"github.com/subalpine-circuits/firmware-sync/internal/config"
	"github.com/subalpine-circuits/firmware-sync/internal/version"
)

// gitObjectTag is the git object type of an annotated tag.
const gitObjectTag = "tag"

// maxTagDepth bounds how many nested annotated tags are followed.
const maxTagDepth = 5

// Client wraps the GitHub REST client for the releases of one repository.
type Client struct {
	// api is the go-github client.
	api *github.Client
	// httpClient follows asset download redirects.
	httpClient *http.Client
	// owner and repo identify the repository.
	owner string
	repo  string

	// callTimeout is the default timeout for individual API calls.
	callTimeout time.Duration
	// perPage is the page size of release listings.
	perPage int
	// baseURL overrides the API endpoint when set.
	baseURL string
}

// Option configures client behaviour.
type Option func(*Client)

// WithCallTimeout sets a default timeout for API calls.
func WithCallTimeout(timeout time.Duration) Option {
	return func(c *Client) {
		if timeout > 0 {
			c.callTimeout = timeout
		}
	}
}

// WithHTTPClient replaces the HTTP client used for every request.
func WithHTTPClient(httpClient *http.Client) Option {
	return func(c *Client) {
		if httpClient != nil {
			c.httpClient = httpClient
		}
	}
}

// WithBaseURL points the client at another API endpoint.
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = baseURL
	}
}

// WithPageSize sets the number of releases requested per page.
func WithPageSize(perPage int) Option {
	return func(c *Client) {
		if perPage > 0 {
			c.perPage = perPage
		}
	}
}

// Release is the part of a GitHub release the sync needs.
type Release struct {
	ID          int64
	Tag         string
	Body        string
	PublishedAt time.Time
	Assets      []Asset
}

// Asset is a file attached to a release.
type Asset struct {
	ID          int64
	Name        string
	ContentType string
	Size        int
}

var (
	// errRepositoryRequired is returned when owner or repo is missing.
	errRepositoryRequired = errors.New("repository owner and name must be provided")
	// errTagRequired is returned when a tag name is empty.
	errTagRequired = errors.New("tag must be provided")
	// errTagTooDeep is returned when annotated tags nest beyond maxTagDepth.
	errTagTooDeep = errors.New("annotated tag chain too deep")
	// errEmptySHA is returned when GitHub answers without an object SHA.
	errEmptySHA = errors.New("tag reference has no object sha")
)

// NewClient creates a client for owner/repo authenticated with token.
func NewClient(owner, repo, token string, opts ...Option) (*Client, error) {
	if owner == "" || repo == "" {
		return nil, errRepositoryRequired
	}

	client := &Client{
		httpClient:  &http.Client{Timeout: config.DefaultTimeout},
		owner:       owner,
		repo:        repo,
		callTimeout: config.DefaultTimeout,
		perPage:     config.DefaultPerPage,
	}

	for _, opt := range opts {
		opt(client)
	}

	api := github.NewClient(client.httpClient)
	if token != "" {
		api = api.WithAuthToken(token)
	}

	api.UserAgent = version.UserAgent()

	if client.baseURL != "" {
		baseURL, err := url.Parse(client.baseURL)
		if err != nil {
			return nil, fmt.Errorf("parse api url: %w", err)
		}

		if !strings.HasSuffix(baseURL.Path, "/") {
			baseURL.Path += "/"
		}

		api.BaseURL = baseURL
	}

	client.api = api

	return client, nil
}

// Repository returns the owner/repo pair served by the client.
func (c *Client) Repository() string {
	return c.owner + "/" + c.repo
}

// ListReleases returns release summaries in API order (newest first).
// It follows pagination up to maxPages pages; maxPages <= 0 follows every page.
func (c *Client) ListReleases(ctx context.Context, maxPages int) ([]*Release, error) {
	options := &github.ListOptions{PerPage: c.perPage}
	result := make([]*Release, 0, c.perPage)

	for page := 1; ; page++ {
		releases, resp, err := c.listPage(ctx, options)
		if err != nil {
			return nil, err
		}

		for _, r := range releases {
			result = append(result, fromGitHubRelease(r))
		}

		if resp.NextPage == 0 || (maxPages > 0 && page >= maxPages) {
			return result, nil
		}

		options.Page = resp.NextPage
	}
}

func (c *Client) listPage(
	ctx context.Context,
	options *github.ListOptions,
) ([]*github.RepositoryRelease, *github.Response, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	releases, resp, err := c.api.Repositories.ListReleases(callCtx, c.owner, c.repo, options)
	if err != nil {
		return nil, nil, fmt.Errorf("list releases of %s: %w", c.Repository(), err)
	}

	return releases, resp, nil
}

// GetRelease fetches the full detail of a release.
func (c *Client) GetRelease(ctx context.Context, id int64) (*Release, error) {
	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	r, _, err := c.api.Repositories.GetRelease(callCtx, c.owner, c.repo, id)
	if err != nil {
		return nil, fmt.Errorf("get release %d: %w", id, err)
	}

	return fromGitHubRelease(r), nil
}

// ResolveTagCommit returns the full SHA of the commit that tag points at.
// Annotated tags are dereferenced to their target commit.
func (c *Client) ResolveTagCommit(ctx context.Context, tag string) (string, error) {
	if tag == "" {
		return "", errTagRequired
	}

	callCtx, cancel := c.callContext(ctx)
	defer cancel()

	ref, _, err := c.api.Git.GetRef(callCtx, c.owner, c.repo, "tags/"+tag)
	if err != nil {
		return "", fmt.Errorf("resolve tag %s: %w", tag, err)
	}

	object := ref.GetObject()

	for depth := 0; object.GetType() == gitObjectTag; depth++ {
		if depth >= maxTagDepth {
			return "", fmt.Errorf("tag %s: %w", tag, errTagTooDeep)
		}

		var annotated *github.Tag

		annotated, _, err = c.api.Git.GetTag(callCtx, c.owner, c.repo, object.GetSHA())
		if err != nil {
			return "", fmt.Errorf("dereference tag %s: %w", tag, err)
		}

		object = annotated.GetObject()
	}

	if object.GetSHA() == "" {
		return "", fmt.Errorf("tag %s: %w", tag, errEmptySHA)
	}

	return object.GetSHA(), nil
}

// DownloadAsset opens the binary content of a release asset.
// The request is sent as application/octet-stream with the client's credentials;
// storage redirects are followed without them. The caller closes the reader.
func (c *Client) DownloadAsset(ctx context.Context, assetID int64) (io.ReadCloser, error) {
	body, _, err := c.api.Repositories.DownloadReleaseAsset(ctx, c.owner, c.repo, assetID, c.httpClient)
	if err != nil {
		return nil, fmt.Errorf("download asset %d: %w", assetID, err)
	}

	return body, nil
}

// callContext returns a context with the client's call timeout if configured,
// otherwise a cancellable child context without a deadline.
func (c *Client) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.callTimeout <= 0 {
		return context.WithCancel(ctx)
	}

	return context.WithTimeout(ctx, c.callTimeout)
}

func fromGitHubRelease(r *github.RepositoryRelease) *Release {
	release := &Release{
		ID:          r.GetID(),
		Tag:         r.GetTagName(),
		Body:        r.GetBody(),
		PublishedAt: r.GetPublishedAt().Time,
		Assets:      make([]Asset, 0, len(r.Assets)),
	}

	for _, a := range r.Assets {
		release.Assets = append(release.Assets, Asset{
			ID:          a.GetID(),
			Name:        a.GetName(),
			ContentType: a.GetContentType(),
			Size:        a.GetSize(),
		})
	}

	return release
}
