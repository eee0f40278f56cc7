// Package sticker picks a sticker image for a mood from a YAML catalog.
// The catalog file can be edited at runtime; changes are picked up by a
// filesystem watcher.
package sticker

import (
	_ "embed"
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"gopkg.in/yaml.v3"
)

//go:embed stickers.yaml
var defaultCatalog []byte

// Entry is one sticker: the moods it fits and where its image lives.
type Entry struct {
	Tags []string `yaml:"tags"`
	URL  string   `yaml:"url"`
}

// Catalog holds the sticker table behind an RWMutex. Reloads swap the
// whole slice; a broken file keeps the previous table serving.
type Catalog struct {
	logger *slog.Logger
	path   string
	pick   func(n int) int

	mu      sync.RWMutex
	entries []Entry
}

// Config wires a Catalog.
type Config struct {
	// Path of the catalog file; empty means embedded defaults only.
	Path   string
	Logger *slog.Logger
	// RandInt overrides random selection, for tests.
	RandInt func(n int) int
}

// New loads the catalog: the file at Path when set, else the embedded
// defaults. A missing or broken file falls back to the defaults too.
func New(cfg Config) (*Catalog, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	pick := cfg.RandInt
	if pick == nil {
		pick = rand.Intn
	}

	c := &Catalog{logger: logger, path: cfg.Path, pick: pick}

	entries, err := parseCatalog(defaultCatalog)
	if err != nil {
		return nil, fmt.Errorf("embedded sticker catalog: %w", err)
	}
	c.entries = entries

	if cfg.Path != "" {
		if err := c.reload(); err != nil {
			logger.Warn("sticker catalog load failed, using embedded defaults",
				"path", cfg.Path, "error", err)
		}
	}
	return c, nil
}

func parseCatalog(data []byte) ([]Entry, error) {
	var doc struct {
		Stickers []Entry `yaml:"stickers"`
	}
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	if len(doc.Stickers) == 0 {
		return nil, fmt.Errorf("no sticker entries")
	}
	for i, e := range doc.Stickers {
		if e.URL == "" {
			return nil, fmt.Errorf("sticker %d has no url", i)
		}
	}
	return doc.Stickers, nil
}

func (c *Catalog) reload() error {
	data, err := os.ReadFile(c.path)
	if err != nil {
		return err
	}
	entries, err := parseCatalog(data)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.entries = entries
	c.mu.Unlock()
	c.logger.Info("sticker catalog loaded", "path", c.path, "entries", len(entries))
	return nil
}

// Watch reloads the catalog when its file changes, until stop is closed.
// Editor save patterns (rename, repeated writes) are debounced.
func (c *Catalog) Watch(stop <-chan struct{}) error {
	if c.path == "" {
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("sticker watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(c.path)); err != nil {
		watcher.Close()
		return fmt.Errorf("sticker watcher: %w", err)
	}

	go func() {
		defer watcher.Close()
		var pending *time.Timer
		for {
			select {
			case <-stop:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(event.Name) != filepath.Clean(c.path) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if pending != nil {
					pending.Stop()
				}
				pending = time.AfterFunc(200*time.Millisecond, func() {
					if err := c.reload(); err != nil {
						c.logger.Warn("sticker catalog reload failed", "error", err)
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.logger.Warn("sticker watcher error", "error", err)
			}
		}
	}()
	return nil
}

// Pick scores every entry by substring overlap between the mood and the
// entry's tags and returns the best match. When nothing matches, a random
// entry is returned so the tool always has something to send.
func (c *Catalog) Pick(mood string) (Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if len(c.entries) == 0 {
		return Entry{}, false
	}

	mood = strings.ToLower(strings.TrimSpace(mood))
	best, bestScore := -1, 0
	for i, e := range c.entries {
		score := 0
		for _, tag := range e.Tags {
			tag = strings.ToLower(tag)
			if tag == "" {
				continue
			}
			if strings.Contains(mood, tag) || strings.Contains(tag, mood) {
				score++
			}
		}
		if score > bestScore {
			best, bestScore = i, score
		}
	}
	if best >= 0 {
		return c.entries[best], true
	}
	return c.entries[c.pick(len(c.entries))], true
}

// Size reports how many entries are loaded.
func (c *Catalog) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
