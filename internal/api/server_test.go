package api

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/jpeg"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/medleyfs/medley/internal/catalog"
	"github.com/medleyfs/medley/internal/listing"
	"github.com/medleyfs/medley/internal/media"
	"github.com/medleyfs/medley/internal/policy"
	"github.com/medleyfs/medley/internal/sandbox"
)

type fakeCatalog struct {
	entries map[string]*catalog.Entry
}

func (f *fakeCatalog) GetByUUID(_ context.Context, id string) (*catalog.Entry, error) {
	e, ok := f.entries[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return e, nil
}

func (f *fakeCatalog) Random(_ context.Context) (*catalog.Entry, error) {
	for _, e := range f.entries {
		return e, nil
	}
	return nil, catalog.ErrNotFound
}

func (f *fakeCatalog) Search(_ context.Context, q string, _ int) ([]*catalog.Entry, error) {
	var out []*catalog.Entry
	for _, e := range f.entries {
		if e.Name == q {
			out = append(out, e)
		}
	}
	return out, nil
}

type fakeSyncer struct {
	mu    sync.Mutex
	paths []string
	trees []string
}

func (f *fakeSyncer) Enqueue(p string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, p)
}

func (f *fakeSyncer) EnqueueTree(p string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.trees = append(f.trees, p)
}

func (f *fakeSyncer) treeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.trees)
}

type testEnv struct {
	root    string
	server  *Server
	syncer  *fakeSyncer
	handler http.Handler
}

func newTestEnv(t *testing.T, cat Catalog) *testEnv {
	t.Helper()
	root := t.TempDir()
	resolver, err := sandbox.New(root)
	if err != nil {
		t.Fatalf("sandbox.New: %v", err)
	}
	filter := policy.New([]string{"$RECYCLE.BIN"}, nil, []string{".part"})
	engine := listing.New(resolver, filter, "http://media.test", 500, 8)
	pipeline := media.New(1000, 16384, 64<<20, "medley")
	syncer := &fakeSyncer{}

	srv := NewServer(nil, resolver, filter, engine, pipeline, cat, syncer)
	return &testEnv{root: root, server: srv, syncer: syncer, handler: srv.Handler()}
}

func (env *testEnv) get(t *testing.T, target string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, target, nil)
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)
	return rec
}

func writeTestFile(t *testing.T, path string, data []byte) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, nil)
	rec := env.get(t, "/health")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestListRoot(t *testing.T) {
	env := newTestEnv(t, nil)
	writeTestFile(t, filepath.Join(env.root, "Music", "track.mp3"), []byte("x"))
	writeTestFile(t, filepath.Join(env.root, "readme.txt"), []byte("hello"))

	rec := env.get(t, "/api/v1/list")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}

	var entries []listing.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("entries = %d, want 2", len(entries))
	}
	if entries[0].Name != "Music" || entries[0].Type != "directory" {
		t.Errorf("first entry = %+v, want directory Music", entries[0])
	}
	if entries[1].Name != "readme.txt" {
		t.Errorf("second entry = %+v", entries[1])
	}
	if env.syncer.treeCount() == 0 {
		t.Error("listing did not feed the catalog synchronizer")
	}
}

func TestListRootWithoutAccessHidesDirectories(t *testing.T) {
	env := newTestEnv(t, nil)
	writeTestFile(t, filepath.Join(env.root, "Music", "track.mp3"), []byte("x"))
	writeTestFile(t, filepath.Join(env.root, "readme.txt"), []byte("hello"))

	env.server.RootAccess = func(*http.Request) bool { return false }
	handler := env.server.Handler()

	req := httptest.NewRequest(http.MethodGet, "/api/v1/list", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	var entries []listing.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name != "readme.txt" {
		t.Errorf("entries = %+v, want only readme.txt", entries)
	}

	// Subdirectory listings are unaffected by root access.
	rec = env.get(t, "/api/v1/list/Music")
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name != "track.mp3" {
		t.Errorf("Music entries = %+v", entries)
	}
}

func TestListTraversalForbidden(t *testing.T) {
	env := newTestEnv(t, nil)

	rec := env.get(t, "/api/v1/list/%2e%2e/etc")
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	var resp struct {
		Error string `json:"error"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Error != "forbidden" {
		t.Errorf("error = %q, the refusal reason must stay opaque", resp.Error)
	}
}

func TestListExcludedDirIsNotFound(t *testing.T) {
	env := newTestEnv(t, nil)
	if err := os.Mkdir(filepath.Join(env.root, "$RECYCLE.BIN"), 0o755); err != nil {
		t.Fatal(err)
	}

	rec := env.get(t, "/api/v1/list/%24RECYCLE.BIN")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", rec.Code)
	}
}

func TestListSortAndPagination(t *testing.T) {
	env := newTestEnv(t, nil)
	for _, n := range []string{"b.txt", "a.txt", "c.txt"} {
		writeTestFile(t, filepath.Join(env.root, n), []byte(n))
	}

	rec := env.get(t, "/api/v1/list?name=desc&limit=2&page=1")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var entries []listing.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &entries); err != nil {
		t.Fatal(err)
	}
	if len(entries) != 2 || entries[0].Name != "c.txt" || entries[1].Name != "b.txt" {
		t.Errorf("entries = %+v", entries)
	}
	if rec.Header().Get("X-Has-More") != "true" {
		t.Error("expected X-Has-More: true")
	}
}

func TestMediaRange(t *testing.T) {
	env := newTestEnv(t, nil)
	writeTestFile(t, filepath.Join(env.root, "clip.mp4"), bytes.Repeat([]byte("v"), 1000))

	req := httptest.NewRequest(http.MethodGet, "/api/v1/media/clip.mp4", nil)
	req.Header.Set("Range", "bytes=0-99")
	rec := httptest.NewRecorder()
	env.handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusPartialContent {
		t.Fatalf("status = %d, want 206", rec.Code)
	}
	if got := rec.Header().Get("Content-Range"); got != "bytes 0-99/1000" {
		t.Errorf("Content-Range = %q", got)
	}
	if rec.Body.Len() != 100 {
		t.Errorf("body = %d bytes, want 100", rec.Body.Len())
	}
	if len(env.syncer.paths) == 0 {
		t.Error("delivery did not feed the catalog synchronizer")
	}
}

func TestMediaNotFoundCases(t *testing.T) {
	env := newTestEnv(t, nil)
	writeTestFile(t, filepath.Join(env.root, "leftover.part"), []byte("x"))
	if err := os.Mkdir(filepath.Join(env.root, "dir"), 0o755); err != nil {
		t.Fatal(err)
	}

	for _, target := range []string{
		"/api/v1/media/missing.mp3",
		"/api/v1/media/leftover.part", // disallowed extension
		"/api/v1/media/dir",           // directories are not media
	} {
		if rec := env.get(t, target); rec.Code != http.StatusNotFound {
			t.Errorf("%s: status = %d, want 404", target, rec.Code)
		}
	}
}

func TestMediaOversizeScaleFails(t *testing.T) {
	env := newTestEnv(t, nil)
	var buf bytes.Buffer
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	writeTestFile(t, filepath.Join(env.root, "pic.jpg"), buf.Bytes())

	rec := env.get(t, "/api/v1/media/pic.jpg?x=5000")
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", rec.Code)
	}
}

func TestCatalogEndpoints(t *testing.T) {
	entry := &catalog.Entry{
		UUID: "11111111-1111-1111-1111-111111111111",
		Name: "track.mp3",
		Paths: catalog.Paths{
			Relative: "Music/track.mp3",
		},
	}
	cat := &fakeCatalog{entries: map[string]*catalog.Entry{entry.UUID: entry}}
	env := newTestEnv(t, cat)

	rec := env.get(t, "/api/v1/catalog/"+entry.UUID)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var got catalog.Entry
	if err := json.Unmarshal(rec.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.UUID != entry.UUID || got.Paths.Relative != "Music/track.mp3" {
		t.Errorf("entry = %+v", got)
	}

	if rec := env.get(t, "/api/v1/catalog/unknown"); rec.Code != http.StatusNotFound {
		t.Errorf("unknown uuid: status = %d, want 404", rec.Code)
	}

	if rec := env.get(t, "/api/v1/catalog/random"); rec.Code != http.StatusOK {
		t.Errorf("random: status = %d", rec.Code)
	}

	if rec := env.get(t, "/api/v1/search?q=track.mp3"); rec.Code != http.StatusOK {
		t.Errorf("search: status = %d", rec.Code)
	}
	if rec := env.get(t, "/api/v1/search"); rec.Code != http.StatusBadRequest {
		t.Errorf("search without q: status = %d, want 400", rec.Code)
	}
}

func TestCatalogUnavailable(t *testing.T) {
	env := newTestEnv(t, nil)
	if rec := env.get(t, "/api/v1/catalog/random"); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("status = %d, want 503", rec.Code)
	}
}
