// Package synonym expands search queries with related terms from a
// store-backed synonym table.
package synonym

import (
	"context"
	"log/slog"
	"regexp"
	"strings"
	"sync"
	"time"
)

// tokenPattern splits a query into CJK runs, Latin runs, and digit runs.
var tokenPattern = regexp.MustCompile(`[\x{4e00}-\x{9fff}]+|[a-zA-Z]+|[0-9]+`)

var cjkPattern = regexp.MustCompile(`^[\x{4e00}-\x{9fff}]+$`)

// Loader fetches the term -> synonyms table, typically from the store.
type Loader func(ctx context.Context) (map[string][]string, error)

// Expander caches the synonym table in process and expands queries against
// a reverse index (any synonym -> its whole group). A load failure leaves
// the previous table in place; an empty table just means no expansion.
type Expander struct {
	load   Loader
	logger *slog.Logger

	mu      sync.RWMutex
	mapping map[string][]string
	reverse map[string][]string
}

// New creates an expander. Call Load before first use; Start keeps the
// table fresh on a timer.
func New(load Loader, logger *slog.Logger) *Expander {
	if logger == nil {
		logger = slog.Default()
	}
	return &Expander{
		load:    load,
		logger:  logger,
		mapping: make(map[string][]string),
		reverse: make(map[string][]string),
	}
}

// Load replaces the cached table from the loader.
func (e *Expander) Load(ctx context.Context) error {
	rows, err := e.load(ctx)
	if err != nil {
		return err
	}

	mapping := make(map[string][]string, len(rows))
	reverse := make(map[string][]string)
	for term, synonyms := range rows {
		mapping[term] = synonyms
		for _, syn := range synonyms {
			reverse[strings.ToLower(syn)] = synonyms
		}
	}

	e.mu.Lock()
	e.mapping = mapping
	e.reverse = reverse
	e.mu.Unlock()

	e.logger.Debug("synonym table loaded", "groups", len(mapping))
	return nil
}

// Start refreshes the table every interval until ctx is done. Refresh
// failures are logged and the stale table keeps serving.
func (e *Expander) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.Load(ctx); err != nil {
				e.logger.Warn("synonym refresh failed", "error", err)
			}
		}
	}
}

// Expand returns the query plus every synonym any of its tokens maps to.
// The original query is always first; the rest of the order is unspecified.
func (e *Expander) Expand(query string) []string {
	if query == "" {
		return nil
	}

	tokens := Tokenize(query)

	e.mu.RLock()
	defer e.mu.RUnlock()

	seen := map[string]bool{query: true}
	expanded := []string{query}

	add := func(term string) {
		if term != "" && !seen[term] {
			seen[term] = true
			expanded = append(expanded, term)
		}
	}

	for _, token := range tokens {
		add(token)
		if group, ok := e.reverse[strings.ToLower(token)]; ok {
			for _, syn := range group {
				add(syn)
			}
		}
	}
	return expanded
}

// GroupCount reports how many synonym groups are cached.
func (e *Expander) GroupCount() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.mapping)
}

// Tokenize splits text into CJK/Latin/digit tokens. CJK tokens longer than
// two runes also emit every contiguous substring of length 2-4, which is a
// cheap stand-in for real word segmentation.
func Tokenize(text string) []string {
	tokens := tokenPattern.FindAllString(text, -1)

	seen := make(map[string]bool, len(tokens))
	var result []string
	add := func(t string) {
		if !seen[t] {
			seen[t] = true
			result = append(result, t)
		}
	}

	for _, token := range tokens {
		add(token)
		if !cjkPattern.MatchString(token) {
			continue
		}
		runes := []rune(token)
		if len(runes) <= 2 {
			continue
		}
		for n := 2; n <= 4 && n <= len(runes); n++ {
			for i := 0; i+n <= len(runes); i++ {
				add(string(runes[i : i+n]))
			}
		}
	}
	return result
}
