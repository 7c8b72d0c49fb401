// Package sourcelist resolves the set of journal sources to harvest.
package sourcelist

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"

	"github.com/scholarwatch/harvester/internal/harvest"
)

// Entry is one row of the source list file. BrowserFallback defaults to
// enabled when the field is absent.
type Entry struct {
	Name            string `json:"name"`
	Link            string `json:"link"`
	BrowserFallback *bool  `json:"browser_fallback,omitempty"`
}

// Provider yields source list entries, typically by scraping a directory page.
type Provider interface {
	Sources(ctx context.Context) ([]Entry, error)
}

// Loader resolves sources from a dynamic provider, falling back to a static
// JSON file when the provider fails or returns nothing.
type Loader struct {
	provider Provider
	fallback string
	logger   *zap.Logger
}

// New builds a Loader. provider may be nil, in which case only the fallback
// file is consulted.
func New(provider Provider, fallbackPath string, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{provider: provider, fallback: fallbackPath, logger: logger}
}

// Load returns the resolved sources. Dynamic results win when non-empty;
// otherwise the static file is used.
func (l *Loader) Load(ctx context.Context) ([]harvest.Source, error) {
	if l.provider != nil {
		entries, err := l.provider.Sources(ctx)
		if err != nil {
			l.logger.Warn("dynamic source list failed, using static file",
				zap.String("fallback", l.fallback),
				zap.Error(err),
			)
		} else if len(entries) > 0 {
			return toSources(entries)
		} else {
			l.logger.Warn("dynamic source list empty, using static file",
				zap.String("fallback", l.fallback),
			)
		}
	}
	entries, err := LoadFile(l.fallback)
	if err != nil {
		return nil, err
	}
	return toSources(entries)
}

// LoadFile reads source entries from a static JSON file.
func LoadFile(path string) ([]Entry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read source list: %w", err)
	}
	var entries []Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse source list: %w", err)
	}
	return entries, nil
}

func toSources(entries []Entry) ([]harvest.Source, error) {
	sources := make([]harvest.Source, 0, len(entries))
	seen := make(map[string]struct{}, len(entries))
	for _, e := range entries {
		name := strings.TrimSpace(e.Name)
		link := strings.TrimSpace(e.Link)
		if name == "" || link == "" {
			return nil, fmt.Errorf("source entry missing name or link: %+v", e)
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}
		browser := true
		if e.BrowserFallback != nil {
			browser = *e.BrowserFallback
		}
		sources = append(sources, harvest.Source{
			Name:            name,
			ListingURL:      link,
			BrowserFallback: browser,
		})
	}
	return sources, nil
}
