// SPDX-License-Identifier: MPL-2.0

package selfupdate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"
)

const (
	// DefaultOwner and DefaultRepo name the repository whose releases carry
	// the host application.
	DefaultOwner = "Scobalula"
	DefaultRepo  = "Greyhound"

	defaultBaseURL   = "https://api.github.com"
	defaultUserAgent = "hound-updater/dev"

	// defaultPerPage is the number of releases fetched per API page.
	defaultPerPage = 30

	// maxPages is the upper bound on pagination to avoid runaway requests.
	maxPages = 3

	// maxJSONResponseBytes caps JSON API responses (10 MB).
	maxJSONResponseBytes = 10 << 20
)

var (
	// ErrReleaseNotFound is returned when a requested release does not exist.
	ErrReleaseNotFound = errors.New("release not found")

	// ErrNoAssets is returned when a release carries no downloadable assets.
	ErrNoAssets = errors.New("release has no assets")

	// ErrRefNotFound is returned when a branch, tag, or commit does not exist.
	ErrRefNotFound = errors.New("git ref not found")
)

type (
	// RateLimitError is returned when the GitHub API rate limit is exceeded.
	RateLimitError struct {
		Limit     int
		Remaining int
		ResetAt   time.Time
	}

	// StatusError reports an unexpected HTTP status from the API.
	StatusError struct {
		Op     string
		URL    string
		Status int
	}

	// Release is a GitHub release with its assets and notes.
	Release struct {
		TagName     string  // Version tag, e.g. "v2.1.71" or "1.3.0.5"
		Name        string  // Human-readable release name
		Body        string  // Release notes (markdown)
		Prerelease  bool    // True for alpha/beta/RC releases
		Draft       bool    // True for unpublished drafts
		Assets      []Asset // Downloadable artifacts
		HTMLURL     string  // Browser URL for the release page
		PublishedAt string  // ISO 8601 timestamp
	}

	// Asset is a single downloadable file in a release.
	Asset struct {
		Name               string // Filename, e.g. "Greyhound.zip"
		BrowserDownloadURL string // Direct download URL
		Size               int64  // File size in bytes
		ContentType        string // MIME type
	}

	// Commit identifies a commit on a branch.
	Commit struct {
		SHA     string
		Message string
		Date    time.Time
	}

	githubRelease struct {
		TagName     string        `json:"tag_name"`
		Name        string        `json:"name"`
		Body        string        `json:"body"`
		Prerelease  bool          `json:"prerelease"`
		Draft       bool          `json:"draft"`
		HTMLURL     string        `json:"html_url"`
		PublishedAt string        `json:"published_at"`
		Assets      []githubAsset `json:"assets"`
	}

	githubAsset struct {
		Name               string `json:"name"`
		BrowserDownloadURL string `json:"browser_download_url"`
		Size               int64  `json:"size"`
		ContentType        string `json:"content_type"`
	}

	githubCommit struct {
		SHA    string `json:"sha"`
		Commit struct {
			Message   string `json:"message"`
			Committer struct {
				Date time.Time `json:"date"`
			} `json:"committer"`
		} `json:"commit"`
	}

	// GitHubClient talks to the GitHub REST API for one repository.
	GitHubClient struct {
		httpClient *http.Client
		owner      string
		repo       string
		baseURL    string // overridable for tests
		token      string // optional, raises the rate limit
		userAgent  string
	}

	// ClientOption configures a GitHubClient during construction.
	ClientOption func(*GitHubClient)
)

// Error formats the rate limit details as a human-readable message.
func (e *RateLimitError) Error() string {
	return fmt.Sprintf("GitHub API rate limit exceeded (%d remaining, resets at %s)",
		e.Remaining, e.ResetAt.UTC().Format("15:04 UTC"))
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s %s: unexpected status %d", e.Op, e.URL, e.Status)
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(g *GitHubClient) {
		g.httpClient = c
	}
}

// WithBaseURL overrides the GitHub API base URL, primarily for test servers.
func WithBaseURL(base string) ClientOption {
	return func(g *GitHubClient) {
		g.baseURL = strings.TrimRight(base, "/")
	}
}

// WithToken sets a personal access token. Authenticated requests get
// 5000 requests/hour instead of 60.
func WithToken(token string) ClientOption {
	return func(g *GitHubClient) {
		g.token = token
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) ClientOption {
	return func(g *GitHubClient) {
		if ua != "" {
			g.userAgent = ua
		}
	}
}

// WithRepo selects the repository the client queries.
func WithRepo(owner, repo string) ClientOption {
	return func(g *GitHubClient) {
		g.owner = owner
		g.repo = repo
	}
}

// NewGitHubClient creates a client for DefaultOwner/DefaultRepo on
// api.github.com unless overridden.
func NewGitHubClient(opts ...ClientOption) *GitHubClient {
	c := &GitHubClient{
		httpClient: http.DefaultClient,
		owner:      DefaultOwner,
		repo:       DefaultRepo,
		baseURL:    defaultBaseURL,
		userAgent:  defaultUserAgent,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Repo returns "owner/repo".
func (c *GitHubClient) Repo() string { return c.owner + "/" + c.repo }

// ListReleases fetches stable (non-draft, non-prerelease) releases sorted
// newest first by CompareVersions. Pagination is followed up to maxPages.
func (c *GitHubClient) ListReleases(ctx context.Context) ([]Release, error) {
	pageURL := fmt.Sprintf("%s/releases?per_page=%d", c.repoURL(), defaultPerPage)

	var all []Release
	for page := 0; page < maxPages && pageURL != ""; page++ {
		var raw []githubRelease
		header, err := c.getJSON(ctx, "listing releases", pageURL, &raw)
		if err != nil {
			return nil, err
		}

		for _, gr := range raw {
			if !gr.Draft && !gr.Prerelease {
				all = append(all, toRelease(gr))
			}
		}
		pageURL = parseLinkHeader(header.Get("Link"))
	}

	sortReleasesDesc(all)
	return all, nil
}

// LatestRelease returns the release GitHub marks as latest.
func (c *GitHubClient) LatestRelease(ctx context.Context) (*Release, error) {
	var gr githubRelease
	if _, err := c.getJSON(ctx, "getting latest release", c.repoURL()+"/releases/latest", &gr); err != nil {
		if isNotFound(err) {
			return nil, ErrReleaseNotFound
		}
		return nil, err
	}
	r := toRelease(gr)
	return &r, nil
}

// GetReleaseByTag fetches a single release by its tag.
func (c *GitHubClient) GetReleaseByTag(ctx context.Context, tag string) (*Release, error) {
	var gr githubRelease
	tagURL := c.repoURL() + "/releases/tags/" + url.PathEscape(tag)
	if _, err := c.getJSON(ctx, "getting release "+tag, tagURL, &gr); err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrReleaseNotFound, tag)
		}
		return nil, err
	}
	r := toRelease(gr)
	return &r, nil
}

// ListCommits returns up to n of the most recent commits on branch.
func (c *GitHubClient) ListCommits(ctx context.Context, branch string, n int) ([]Commit, error) {
	n = min(max(n, 1), 100)
	q := url.Values{"per_page": {strconv.Itoa(n)}}
	if branch != "" {
		q.Set("sha", branch)
	}

	var raw []githubCommit
	if _, err := c.getJSON(ctx, "listing commits", c.repoURL()+"/commits?"+q.Encode(), &raw); err != nil {
		if isNotFound(err) {
			return nil, fmt.Errorf("%w: %s", ErrRefNotFound, branch)
		}
		return nil, err
	}

	commits := make([]Commit, 0, len(raw))
	for _, gc := range raw {
		commits = append(commits, Commit{
			SHA:     gc.SHA,
			Message: gc.Commit.Message,
			Date:    gc.Commit.Committer.Date,
		})
	}
	return commits, nil
}

// LatestCommit returns the SHA of the newest commit on branch.
func (c *GitHubClient) LatestCommit(ctx context.Context, branch string) (string, error) {
	commits, err := c.ListCommits(ctx, branch, 1)
	if err != nil {
		return "", err
	}
	if len(commits) == 0 {
		return "", fmt.Errorf("%w: %s has no commits", ErrRefNotFound, branch)
	}
	return commits[0].SHA, nil
}

// DownloadAsset starts downloading assetURL and returns the body along with
// its length, or -1 when the server does not report one. The caller closes
// the body.
func (c *GitHubClient) DownloadAsset(ctx context.Context, assetURL string) (io.ReadCloser, int64, error) {
	return c.download(ctx, "downloading asset", assetURL)
}

// DownloadRepositoryArchive downloads a zip snapshot of the repository at ref.
func (c *GitHubClient) DownloadRepositoryArchive(ctx context.Context, ref string) (io.ReadCloser, int64, error) {
	body, size, err := c.download(ctx, "downloading repository archive", c.repoURL()+"/zipball/"+url.PathEscape(ref))
	if isNotFound(err) {
		return nil, 0, fmt.Errorf("%w: %s", ErrRefNotFound, ref)
	}
	return body, size, err
}

func (c *GitHubClient) repoURL() string {
	return fmt.Sprintf("%s/repos/%s/%s", c.baseURL, url.PathEscape(c.owner), url.PathEscape(c.repo))
}

func (c *GitHubClient) download(ctx context.Context, op, rawURL string) (io.ReadCloser, int64, error) {
	resp, err := c.doRequest(ctx, rawURL)
	if err != nil {
		return nil, 0, fmt.Errorf("%s %s: %w", op, redactURL(rawURL), err)
	}

	if err := checkRateLimit(resp); err != nil {
		_ = resp.Body.Close()
		return nil, 0, err
	}
	if resp.StatusCode != http.StatusOK {
		_ = resp.Body.Close()
		return nil, 0, &StatusError{Op: op, URL: redactURL(rawURL), Status: resp.StatusCode}
	}

	return resp.Body, resp.ContentLength, nil
}

// getJSON performs a GET and decodes the JSON body into v, returning the
// response headers for pagination.
func (c *GitHubClient) getJSON(ctx context.Context, op, rawURL string, v any) (http.Header, error) {
	resp, err := c.doRequest(ctx, rawURL)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer func() { _ = resp.Body.Close() }() // read-only response body

	if err := checkRateLimit(resp); err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, &StatusError{Op: op, URL: redactURL(rawURL), Status: resp.StatusCode}
	}

	if err := json.NewDecoder(io.LimitReader(resp.Body, maxJSONResponseBytes)).Decode(v); err != nil {
		return nil, fmt.Errorf("%s: decoding response: %w", op, err)
	}
	return resp.Header, nil
}

func (c *GitHubClient) doRequest(ctx context.Context, reqURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("X-GitHub-Api-Version", "2022-11-28")
	req.Header.Set("User-Agent", c.userAgent)

	// Download URLs may redirect to a CDN; the token only goes to GitHub.
	if c.token != "" && isGitHubHost(req.URL, c.baseURL) {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	return resp, nil
}

// checkRateLimit returns a RateLimitError when X-RateLimit-Remaining is zero.
// Missing or malformed headers are ignored.
func checkRateLimit(resp *http.Response) error {
	rem, err := strconv.Atoi(resp.Header.Get("X-RateLimit-Remaining"))
	if err != nil || rem > 0 {
		return nil //nolint:nilerr // absent or non-numeric header is not a rate limit
	}

	limit, _ := strconv.Atoi(resp.Header.Get("X-RateLimit-Limit"))                 //nolint:errcheck // best-effort
	resetUnix, _ := strconv.ParseInt(resp.Header.Get("X-RateLimit-Reset"), 10, 64) //nolint:errcheck // best-effort

	return &RateLimitError{
		Limit:     limit,
		Remaining: 0,
		ResetAt:   time.Unix(resetUnix, 0),
	}
}

func isNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.Status == http.StatusNotFound
}

// parseLinkHeader extracts the rel="next" URL from a Link header.
//
//	<https://api.github.com/...?page=2>; rel="next", <...>; rel="last"
func parseLinkHeader(header string) string {
	for part := range strings.SplitSeq(header, ",") {
		part = strings.TrimSpace(part)
		if !strings.Contains(part, `rel="next"`) {
			continue
		}
		start := strings.Index(part, "<")
		end := strings.Index(part, ">")
		if start >= 0 && end > start {
			return part[start+1 : end]
		}
	}
	return ""
}

func toRelease(gr githubRelease) Release {
	assets := make([]Asset, 0, len(gr.Assets))
	for _, ga := range gr.Assets {
		assets = append(assets, Asset(ga))
	}

	return Release{
		TagName:     gr.TagName,
		Name:        gr.Name,
		Body:        gr.Body,
		Prerelease:  gr.Prerelease,
		Draft:       gr.Draft,
		Assets:      assets,
		HTMLURL:     gr.HTMLURL,
		PublishedAt: gr.PublishedAt,
	}
}

// sortReleasesDesc orders releases newest first. Tags that are not valid
// versions sort last, keeping their relative order.
func sortReleasesDesc(releases []Release) {
	slices.SortStableFunc(releases, func(a, b Release) int {
		va, errA := ParseVersion(a.TagName)
		vb, errB := ParseVersion(b.TagName)
		switch {
		case errA != nil && errB != nil:
			return 0
		case errA != nil:
			return 1
		case errB != nil:
			return -1
		}
		return vb.Compare(va)
	})
}

// isGitHubHost reports whether reqURL targets the configured API host, or
// github.com when the API host is api.github.com.
func isGitHubHost(reqURL *url.URL, baseURL string) bool {
	base, err := url.Parse(baseURL)
	if err != nil {
		return false
	}
	if strings.EqualFold(reqURL.Host, base.Host) {
		return true
	}
	return strings.EqualFold(base.Host, "api.github.com") && strings.EqualFold(reqURL.Host, "github.com")
}

// redactURL strips query parameters and fragments for use in error messages.
func redactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid-url>"
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
