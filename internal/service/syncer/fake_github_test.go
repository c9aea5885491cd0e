package syncer

import (
	"crypto/sha1" //nolint:gosec // Only used to derive fake commit ids.
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
)

const (
	testOwner = "acme"
	testRepo  = "fw"
	testToken = "test-token"
)

// fakeAsset is a release asset served by fakeGitHub.
type fakeAsset struct {
	id      int64
	name    string
	content string
	// status overrides the download response status when non-zero.
	status int
}

// fakeRelease is a release served by fakeGitHub.
type fakeRelease struct {
	id        int64
	tag       string
	body      string
	published string
	assets    []fakeAsset
}

// fakeGitHub serves the subset of the GitHub REST API used by the sync.
type fakeGitHub struct {
	releases []fakeRelease

	mu         sync.Mutex
	failDetail map[int64]bool
	failTag    map[string]bool
	failList   bool
	// onDetail runs before every release detail response.
	onDetail func()
}

func newFakeGitHub(releases ...fakeRelease) *fakeGitHub {
	return &fakeGitHub{
		releases:   releases,
		failDetail: make(map[int64]bool),
		failTag:    make(map[string]bool),
	}
}

// commitFor derives a stable 40-character commit SHA from a tag.
func commitFor(tag string) string {
	return fmt.Sprintf("%x", sha1.Sum([]byte(tag))) //nolint:gosec // Fake data.
}

// start serves the fake API and returns its base URL.
func (f *fakeGitHub) start(t *testing.T) string {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("GET /repos/acme/fw/releases", f.listReleases)
	mux.HandleFunc("GET /repos/acme/fw/releases/{id}", f.getRelease)
	mux.HandleFunc("GET /repos/acme/fw/releases/assets/{id}", f.downloadAsset)
	mux.HandleFunc("GET /repos/acme/fw/git/ref/tags/{tag}", f.getTagRef)

	server := httptest.NewServer(requireToken(mux))
	t.Cleanup(server.Close)

	return server.URL
}

func requireToken(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer "+testToken {
			writeError(w, http.StatusUnauthorized, "Bad credentials")
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (f *fakeGitHub) listReleases(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	fail := f.failList
	f.mu.Unlock()

	if fail {
		writeError(w, http.StatusInternalServerError, "Server Error")
		return
	}

	summaries := make([]map[string]any, 0, len(f.releases))
	for _, r := range f.releases {
		summaries = append(summaries, map[string]any{"id": r.id, "tag_name": r.tag})
	}

	writeJSON(w, summaries)
}

func (f *fakeGitHub) getRelease(w http.ResponseWriter, r *http.Request) {
	id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)

	f.mu.Lock()
	fail := f.failDetail[id]
	hook := f.onDetail
	f.mu.Unlock()

	if hook != nil {
		hook()
	}

	if fail {
		writeError(w, http.StatusBadGateway, "Server Error")
		return
	}

	for _, rel := range f.releases {
		if rel.id != id {
			continue
		}

		assets := make([]map[string]any, 0, len(rel.assets))
		for _, a := range rel.assets {
			assets = append(assets, map[string]any{
				"id":           a.id,
				"name":         a.name,
				"size":         len(a.content),
				"content_type": "application/octet-stream",
			})
		}

		detail := map[string]any{
			"id":       rel.id,
			"tag_name": rel.tag,
			"body":     rel.body,
			"assets":   assets,
		}
		if rel.published != "" {
			detail["published_at"] = rel.published
		}

		writeJSON(w, detail)

		return
	}

	writeError(w, http.StatusNotFound, "Not Found")
}

func (f *fakeGitHub) getTagRef(w http.ResponseWriter, r *http.Request) {
	tag := r.PathValue("tag")

	f.mu.Lock()
	fail := f.failTag[tag]
	f.mu.Unlock()

	if fail {
		writeError(w, http.StatusNotFound, "Not Found")
		return
	}

	writeJSON(w, map[string]any{
		"ref":    "refs/tags/" + tag,
		"object": map[string]any{"type": "commit", "sha": commitFor(tag)},
	})
}

func (f *fakeGitHub) downloadAsset(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get("Accept") != "application/octet-stream" {
		writeError(w, http.StatusUnsupportedMediaType, "Unsupported Media Type")
		return
	}

	id, _ := strconv.ParseInt(r.PathValue("id"), 10, 64)

	for _, rel := range f.releases {
		for _, a := range rel.assets {
			if a.id != id {
				continue
			}

			if a.status != 0 && a.status != http.StatusOK {
				writeError(w, a.status, http.StatusText(a.status))
				return
			}

			w.Header().Set("Content-Type", "application/octet-stream")
			_, _ = w.Write([]byte(a.content))

			return
		}
	}

	writeError(w, http.StatusNotFound, "Not Found")
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"message": message})
}
