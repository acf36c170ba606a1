// SPDX-License-Identifier: MPL-2.0

package testutil

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

type (
	// FakeRelease is a release served by FakeGitHub, listed in the order
	// given.
	FakeRelease struct {
		Tag        string
		Name       string
		Body       string
		Prerelease bool
		Draft      bool
		Assets     []FakeAsset
	}

	// FakeAsset is a release asset whose content FakeGitHub serves from
	// memory.
	FakeAsset struct {
		Name string
		Data []byte
	}

	// FakeCommit is a commit on the fake repository's default branch.
	FakeCommit struct {
		SHA     string
		Message string
		Date    time.Time
	}

	// FakeGitHub is an in-memory GitHub REST API for one repository.
	// Its methods are safe for concurrent use.
	FakeGitHub struct {
		Server *httptest.Server

		mu        sync.Mutex
		owner     string
		repo      string
		releases  []FakeRelease
		commits   []FakeCommit
		zipballs  map[string][]byte
		limited   bool
		requests  int
		authSeen  []string
		downloads map[string]int
	}

	fakeReleaseJSON struct {
		TagName     string          `json:"tag_name"`
		Name        string          `json:"name"`
		Body        string          `json:"body"`
		Prerelease  bool            `json:"prerelease"`
		Draft       bool            `json:"draft"`
		HTMLURL     string          `json:"html_url"`
		PublishedAt string          `json:"published_at"`
		Assets      []fakeAssetJSON `json:"assets"`
	}

	fakeAssetJSON struct {
		Name               string `json:"name"`
		BrowserDownloadURL string `json:"browser_download_url"`
		Size               int    `json:"size"`
		ContentType        string `json:"content_type"`
	}

	fakeCommitJSON struct {
		SHA    string `json:"sha"`
		Commit struct {
			Message   string `json:"message"`
			Committer struct {
				Date time.Time `json:"date"`
			} `json:"committer"`
		} `json:"commit"`
	}
)

// NewFakeGitHub starts a fake API for owner/repo and closes it when the
// test ends.
func NewFakeGitHub(t testing.TB, owner, repo string) *FakeGitHub {
	t.Helper()

	f := &FakeGitHub{
		owner:     owner,
		repo:      repo,
		zipballs:  make(map[string][]byte),
		downloads: make(map[string]int),
	}

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(f.record)

	r.Route("/repos/{owner}/{repo}", func(r chi.Router) {
		r.Use(f.checkRepo)
		r.Get("/releases", f.listReleases)
		r.Get("/releases/latest", f.latestRelease)
		r.Get("/releases/tags/{tag}", f.releaseByTag)
		r.Get("/commits", f.listCommits)
		r.Get("/zipball/{ref}", f.zipball)
	})
	r.Get("/download/{tag}/{name}", f.download)

	f.Server = httptest.NewServer(r)
	t.Cleanup(f.Server.Close)
	return f
}

// URL returns the API base URL.
func (f *FakeGitHub) URL() string { return f.Server.URL }

// AddRelease appends a release.
func (f *FakeGitHub) AddRelease(rel FakeRelease) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.releases = append(f.releases, rel)
}

// AddCommit records a commit as the new branch head with the given zipball
// content.
func (f *FakeGitHub) AddCommit(c FakeCommit, zipball []byte) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.commits = append([]FakeCommit{c}, f.commits...)
	f.zipballs[c.SHA] = zipball
}

// SetRateLimited makes every API response report an exhausted rate limit.
func (f *FakeGitHub) SetRateLimited(limited bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.limited = limited
}

// AssetURL returns the download URL for an asset of tag.
func (f *FakeGitHub) AssetURL(tag, name string) string {
	return fmt.Sprintf("%s/download/%s/%s", f.Server.URL, tag, name)
}

// Downloads returns how many times the asset was downloaded.
func (f *FakeGitHub) Downloads(tag, name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.downloads[tag+"/"+name]
}

// Requests returns the number of requests served.
func (f *FakeGitHub) Requests() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests
}

// AuthHeaders returns the Authorization header of every request, in order.
func (f *FakeGitHub) AuthHeaders() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.authSeen...)
}

func (f *FakeGitHub) record(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.requests++
		f.authSeen = append(f.authSeen, r.Header.Get("Authorization"))
		limited := f.limited
		f.mu.Unlock()

		if limited {
			w.Header().Set("X-RateLimit-Limit", "60")
			w.Header().Set("X-RateLimit-Remaining", "0")
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(time.Hour).Unix(), 10))
			http.Error(w, `{"message":"API rate limit exceeded"}`, http.StatusForbidden)
			return
		}
		w.Header().Set("X-RateLimit-Remaining", "59")
		next.ServeHTTP(w, r)
	})
}

func (f *FakeGitHub) checkRepo(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if chi.URLParam(r, "owner") != f.owner || chi.URLParam(r, "repo") != f.repo {
			http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (f *FakeGitHub) listReleases(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	out := make([]fakeReleaseJSON, 0, len(f.releases))
	for _, rel := range f.releases {
		out = append(out, f.releaseJSON(rel))
	}
	f.mu.Unlock()

	writeJSON(w, out)
}

func (f *FakeGitHub) latestRelease(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, rel := range f.releases {
		if !rel.Draft && !rel.Prerelease {
			writeJSON(w, f.releaseJSON(rel))
			return
		}
	}
	http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
}

func (f *FakeGitHub) releaseByTag(w http.ResponseWriter, r *http.Request) {
	tag := chi.URLParam(r, "tag")

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, rel := range f.releases {
		if rel.Tag == tag {
			writeJSON(w, f.releaseJSON(rel))
			return
		}
	}
	http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
}

func (f *FakeGitHub) listCommits(w http.ResponseWriter, r *http.Request) {
	n, err := strconv.Atoi(r.URL.Query().Get("per_page"))
	if err != nil || n <= 0 {
		n = 30
	}

	f.mu.Lock()
	commits := f.commits[:min(n, len(f.commits))]
	out := make([]fakeCommitJSON, 0, len(commits))
	for _, c := range commits {
		var cj fakeCommitJSON
		cj.SHA = c.SHA
		cj.Commit.Message = c.Message
		cj.Commit.Committer.Date = c.Date
		out = append(out, cj)
	}
	f.mu.Unlock()

	writeJSON(w, out)
}

func (f *FakeGitHub) zipball(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "ref")

	f.mu.Lock()
	data, ok := f.zipballs[ref]
	if !ok && len(f.commits) > 0 {
		// Branch names resolve to the head commit.
		data, ok = f.zipballs[f.commits[0].SHA]
	}
	f.mu.Unlock()

	if !ok {
		http.Error(w, `{"message":"Not Found"}`, http.StatusNotFound)
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Length", strconv.Itoa(len(data)))
	_, _ = w.Write(data)
}

func (f *FakeGitHub) download(w http.ResponseWriter, r *http.Request) {
	tag, name := chi.URLParam(r, "tag"), chi.URLParam(r, "name")

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, rel := range f.releases {
		if rel.Tag != tag {
			continue
		}
		for _, a := range rel.Assets {
			if a.Name == name {
				f.downloads[tag+"/"+name]++
				w.Header().Set("Content-Type", "application/octet-stream")
				w.Header().Set("Content-Length", strconv.Itoa(len(a.Data)))
				_, _ = w.Write(a.Data)
				return
			}
		}
	}
	http.NotFound(w, r)
}

// releaseJSON must be called with mu held.
func (f *FakeGitHub) releaseJSON(rel FakeRelease) fakeReleaseJSON {
	assets := make([]fakeAssetJSON, 0, len(rel.Assets))
	for _, a := range rel.Assets {
		assets = append(assets, fakeAssetJSON{
			Name:               a.Name,
			BrowserDownloadURL: f.AssetURL(rel.Tag, a.Name),
			Size:               len(a.Data),
			ContentType:        "application/octet-stream",
		})
	}
	return fakeReleaseJSON{
		TagName:     rel.Tag,
		Name:        rel.Name,
		Body:        rel.Body,
		Prerelease:  rel.Prerelease,
		Draft:       rel.Draft,
		HTMLURL:     fmt.Sprintf("https://github.com/%s/%s/releases/tag/%s", f.owner, f.repo, rel.Tag),
		PublishedAt: "2024-01-01T00:00:00Z",
		Assets:      assets,
	}
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
