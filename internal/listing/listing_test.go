package listing

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/medleyfs/medley/internal/policy"
	"github.com/medleyfs/medley/internal/sandbox"
)

func newTestEngine(t *testing.T) (*Engine, *sandbox.Resolver, string) {
	t.Helper()
	root := t.TempDir()
	resolver, err := sandbox.New(root)
	if err != nil {
		t.Fatalf("sandbox.New: %v", err)
	}
	filter := policy.New(
		[]string{".git"},
		[]string{".DS_Store"},
		[]string{".zip"},
	)
	return New(resolver, filter, "http://example.test", 500, 8), resolver, resolver.Root()
}

func writeFile(t *testing.T, path string, size int) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, make([]byte, size), 0644); err != nil {
		t.Fatal(err)
	}
}

func names(entries []Entry) []string {
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.Name
	}
	return out
}

func TestListDefaultOrdering(t *testing.T) {
	e, _, root := newTestEngine(t)
	writeFile(t, filepath.Join(root, "track10.mp3"), 10)
	writeFile(t, filepath.Join(root, "track2.mp3"), 20)
	writeFile(t, filepath.Join(root, "Album", "a.mp3"), 1)
	writeFile(t, filepath.Join(root, "zebra", "z.mp3"), 1)

	entries, more, err := e.List(root, Options{RootAccess: true})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if more {
		t.Error("unpaginated listing should not report more pages")
	}

	want := []string{"Album", "zebra", "track2.mp3", "track10.mp3"}
	got := names(entries)
	if len(got) != len(want) {
		t.Fatalf("got %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("entry %d = %q, want %q (full: %v)", i, got[i], want[i], got)
		}
	}
}

func TestListExclusions(t *testing.T) {
	e, _, root := newTestEngine(t)
	writeFile(t, filepath.Join(root, "movie.mkv"), 10)
	writeFile(t, filepath.Join(root, "archive.zip"), 10)
	writeFile(t, filepath.Join(root, ".DS_Store"), 10)
	writeFile(t, filepath.Join(root, ".git", "config"), 10)

	entries, _, err := e.List(root, Options{RootAccess: true})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	got := names(entries)
	if len(got) != 1 || got[0] != "movie.mkv" {
		t.Errorf("listing = %v, want only movie.mkv", got)
	}
}

func TestListRootHidesDirectoriesWithoutAccess(t *testing.T) {
	e, resolver, root := newTestEngine(t)
	writeFile(t, filepath.Join(root, "readme.txt"), 10)
	writeFile(t, filepath.Join(root, "private", "video.mp4"), 10)

	entries, _, err := e.List(root, Options{RootAccess: false})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	for _, entry := range entries {
		if entry.IsDir() {
			t.Errorf("root listing without access leaked directory %q", entry.Name)
		}
	}

	// Below root the flag does not apply.
	sub, err := resolver.Resolve("private")
	if err != nil {
		t.Fatal(err)
	}
	entries, _, err = e.List(sub, Options{RootAccess: false})
	if err != nil {
		t.Fatalf("List(sub): %v", err)
	}
	if len(entries) != 1 {
		t.Errorf("sub listing = %v, want the one file", names(entries))
	}
}

func TestListSortBySize(t *testing.T) {
	e, _, root := newTestEngine(t)
	writeFile(t, filepath.Join(root, "small.bin"), 1)
	writeFile(t, filepath.Join(root, "large.bin"), 100)
	writeFile(t, filepath.Join(root, "medium.bin"), 50)

	entries, _, err := e.List(root, Options{
		RootAccess: true,
		Sort:       SortSpec{Field: SortBySize, Dir: DirDesc},
	})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	want := []string{"large.bin", "medium.bin", "small.bin"}
	got := names(entries)
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("size desc = %v, want %v", got, want)
		}
	}
}

func TestListPaginationReassembles(t *testing.T) {
	e, _, root := newTestEngine(t)
	for _, n := range []string{"a", "b", "c", "d", "e", "f", "g"} {
		writeFile(t, filepath.Join(root, n+".mp3"), 5)
	}

	full, _, err := e.List(root, Options{RootAccess: true})
	if err != nil {
		t.Fatal(err)
	}

	var reassembled []Entry
	for page := 1; ; page++ {
		part, more, err := e.List(root, Options{
			RootAccess: true,
			Page:       PageSpec{Limit: 3, Page: page},
		})
		if err != nil {
			t.Fatal(err)
		}
		if len(part) > 3 {
			t.Fatalf("page %d has %d entries, limit 3", page, len(part))
		}
		reassembled = append(reassembled, part...)
		if !more {
			break
		}
	}

	if len(reassembled) != len(full) {
		t.Fatalf("reassembled %d entries, want %d", len(reassembled), len(full))
	}
	for i := range full {
		if reassembled[i].Name != full[i].Name {
			t.Errorf("entry %d = %q, want %q", i, reassembled[i].Name, full[i].Name)
		}
	}
}

func TestListPageClamping(t *testing.T) {
	e, _, root := newTestEngine(t)
	writeFile(t, filepath.Join(root, "one.mp3"), 1)

	// page < 1 treated as 1
	entries, _, err := e.List(root, Options{
		RootAccess: true,
		Page:       PageSpec{Limit: 10, Page: -3},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Errorf("page -3 = %d entries, want 1", len(entries))
	}

	// page past the end is empty, not an error
	entries, more, err := e.List(root, Options{
		RootAccess: true,
		Page:       PageSpec{Limit: 10, Page: 99},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 || more {
		t.Errorf("page 99 = %d entries (more=%v), want empty", len(entries), more)
	}
}

func TestListDirectoryDeepSize(t *testing.T) {
	e, _, root := newTestEngine(t)
	writeFile(t, filepath.Join(root, "shows", "s1", "e1.mkv"), 100)
	writeFile(t, filepath.Join(root, "shows", "s1", "e2.mkv"), 200)
	writeFile(t, filepath.Join(root, "shows", "s2", "e1.mkv"), 50)

	entries, _, err := e.List(root, Options{RootAccess: true})
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("listing = %v", names(entries))
	}
	if entries[0].Size != 350 {
		t.Errorf("deep size = %d, want 350", entries[0].Size)
	}
}

func TestListMissingDirectoryFails(t *testing.T) {
	e, _, root := newTestEngine(t)

	if _, _, err := e.List(filepath.Join(root, "nope"), Options{RootAccess: true}); err == nil {
		t.Error("listing a missing directory should fail")
	}
}

func TestClassify(t *testing.T) {
	cases := []struct {
		mime string
		want string
	}{
		{"audio/mpeg", "audio"},
		{"image/png", "image"},
		{"text/plain; charset=utf-8", "text"},
		{"video/mp4", "video"},
		{"application/mp4", "video"},
		{"application/pdf", "other"},
		{"", "other"},
	}
	for _, c := range cases {
		if got := Classify(c.mime); got != c.want {
			t.Errorf("Classify(%q) = %q, want %q", c.mime, got, c.want)
		}
	}
}

func TestNaturalCompare(t *testing.T) {
	cases := []struct {
		a, b string
		want int // sign only
	}{
		{"track2", "track10", -1},
		{"track10", "track2", 1},
		{"a", "b", -1},
		{"same", "same", 0},
		{"Apple", "apple", -1},
		{"ep01", "ep1", 1},
		{"disc1track9", "disc1track10", -1},
	}
	for _, c := range cases {
		got := naturalCompare(c.a, c.b)
		switch {
		case c.want < 0 && got >= 0,
			c.want > 0 && got <= 0,
			c.want == 0 && got != 0:
			t.Errorf("naturalCompare(%q, %q) = %d, want sign %d", c.a, c.b, got, c.want)
		}
	}
}
