package sticker

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEmbeddedCatalogLoads(t *testing.T) {
	c, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if c.Size() == 0 {
		t.Fatal("embedded catalog is empty")
	}
}

func TestPickScoresTagOverlap(t *testing.T) {
	c, err := New(Config{})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	entry, ok := c.Pick("今天好难过")
	if !ok {
		t.Fatal("Pick() found nothing")
	}
	found := false
	for _, tag := range entry.Tags {
		if tag == "难过" {
			found = true
		}
	}
	if !found {
		t.Fatalf("Pick(难过) = %v, want the sad entry", entry.Tags)
	}
}

func TestPickUnknownMoodFallsBackToRandom(t *testing.T) {
	picked := -1
	c, err := New(Config{RandInt: func(n int) int {
		picked = n
		return 2
	}})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}

	entry, ok := c.Pick("完全没有匹配的心情词汇xyz")
	if !ok {
		t.Fatal("Pick() found nothing")
	}
	if picked != c.Size() {
		t.Fatalf("random fallback not used, RandInt(%d) never called", c.Size())
	}
	if entry.URL == "" {
		t.Fatal("random entry has no url")
	}
}

func TestFileCatalogOverridesDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stickers.yaml")
	custom := `stickers:
  - tags: ["测试"]
    url: "https://example.com/test.png"
`
	if err := os.WriteFile(path, []byte(custom), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	c, err := New(Config{Path: path})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if c.Size() != 1 {
		t.Fatalf("Size() = %d, want 1 from file", c.Size())
	}
	entry, _ := c.Pick("测试一下")
	if entry.URL != "https://example.com/test.png" {
		t.Fatalf("Pick() url = %q, want file entry", entry.URL)
	}
}

func TestBrokenFileKeepsDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "stickers.yaml")
	if err := os.WriteFile(path, []byte("{not yaml"), 0o644); err != nil {
		t.Fatalf("write catalog: %v", err)
	}

	c, err := New(Config{Path: path})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	if c.Size() == 0 {
		t.Fatal("broken file wiped the embedded defaults")
	}
}
