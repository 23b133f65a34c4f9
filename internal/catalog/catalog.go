// Package catalog loads company and technology records from folders of
// markdown files. Each catalog entry is a directory: an optional profile.md
// carries the entry's metadata, every other .md file is an unstructured
// content item fed to moment extraction.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/vthunder/moments/internal/logging"
	"github.com/vthunder/moments/internal/types"
)

const profileFilename = "profile.md"

// Loader reads catalog directories from disk
type Loader struct {
	companiesDir    string
	technologiesDir string
}

// Catalog is the loaded company/technology universe
type Catalog struct {
	Companies    []types.Company    `json:"companies"`
	Technologies []types.Technology `json:"technologies"`
}

// NewLoader creates a loader for the two catalog roots
func NewLoader(companiesDir, technologiesDir string) *Loader {
	return &Loader{
		companiesDir:    companiesDir,
		technologiesDir: technologiesDir,
	}
}

// Load reads both catalogs. A missing directory yields an empty catalog side
// with a warning, not an error - the service can run with companies only.
func (l *Loader) Load() (*Catalog, error) {
	cat := &Catalog{}

	companies, err := l.loadEntries(l.companiesDir, types.SourceCompany)
	if err != nil {
		return nil, fmt.Errorf("failed to load companies: %w", err)
	}
	for _, e := range companies {
		cat.Companies = append(cat.Companies, types.Company{
			ID: e.id, Name: e.name, Description: e.description,
			URL: e.url, Category: e.category, Path: e.path, Content: e.content,
		})
	}

	technologies, err := l.loadEntries(l.technologiesDir, types.SourceTechnology)
	if err != nil {
		return nil, fmt.Errorf("failed to load technologies: %w", err)
	}
	for _, e := range technologies {
		cat.Technologies = append(cat.Technologies, types.Technology{
			ID: e.id, Name: e.name, Description: e.description,
			URL: e.url, Category: e.category, Path: e.path, Content: e.content,
		})
	}

	logging.Info("catalog", "loaded %d companies, %d technologies, %d content items",
		len(cat.Companies), len(cat.Technologies), len(cat.ContentItems()))
	return cat, nil
}

// entry is the catalog-agnostic load result for one folder
type entry struct {
	id, name, description, url, category, path string
	content                                    []types.ContentItem
}

func (l *Loader) loadEntries(dir string, source types.SourceType) ([]entry, error) {
	dirents, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		logging.Warn("catalog", "%s directory %s does not exist, skipping", source, dir)
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", dir, err)
	}

	var entries []entry
	seen := map[string]bool{}
	for _, d := range dirents {
		if !d.IsDir() || strings.HasPrefix(d.Name(), ".") {
			continue
		}
		slug := d.Name()
		if seen[slug] {
			logging.Warn("catalog", "duplicate entry slug %q under %s, last wins", slug, dir)
		}
		seen[slug] = true

		e, err := l.loadEntry(filepath.Join(dir, slug), slug, source)
		if err != nil {
			logging.Warn("catalog", "skipping %s/%s: %v", source, slug, err)
			continue
		}
		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].id < entries[j].id })
	return entries, nil
}

func (l *Loader) loadEntry(dir, slug string, source types.SourceType) (entry, error) {
	e := entry{id: slug, name: humanize(slug), path: dir}

	files, err := os.ReadDir(dir)
	if err != nil {
		return e, err
	}

	for _, f := range files {
		if f.IsDir() || strings.HasPrefix(f.Name(), ".") || !strings.HasSuffix(f.Name(), ".md") {
			continue
		}
		path := filepath.Join(dir, f.Name())
		raw, err := os.ReadFile(path)
		if err != nil {
			logging.Warn("catalog", "unreadable file %s: %v", path, err)
			continue
		}

		front, body := splitFrontmatter(string(raw))
		m := parseMeta(front)

		if f.Name() == profileFilename {
			if m.Name != "" {
				e.name = m.Name
			}
			e.description = m.Description
			if e.description == "" {
				e.description = strings.TrimSpace(body)
			}
			e.url = m.URL
			e.category = m.Category
			continue
		}

		item := types.ContentItem{
			ID:       fmt.Sprintf("%s/%s/%s", source, slug, f.Name()),
			Path:     path,
			Body:     strings.TrimSpace(body),
			Source:   source,
			ParentID: slug,
		}

		item.Title = m.Title
		if item.Title == "" {
			item.Title = m.Name
		}
		if item.Title == "" {
			item.Title = firstHeading(body)
		}
		if item.Title == "" {
			item.Title = strings.TrimSuffix(f.Name(), ".md")
		}

		dateStr := m.Updated
		if dateStr == "" {
			dateStr = m.Date
		}
		if t, ok := parseDate(dateStr); ok {
			item.UpdatedAt = t
		} else if info, err := f.Info(); err == nil {
			item.UpdatedAt = info.ModTime()
		}

		e.content = append(e.content, item)
	}

	// Parent names resolve after the profile has been seen
	for i := range e.content {
		e.content[i].ParentName = e.name
	}

	sort.Slice(e.content, func(i, j int) bool { return e.content[i].ID < e.content[j].ID })
	return e, nil
}

// ContentItems flattens every content item across both catalogs
func (c *Catalog) ContentItems() []types.ContentItem {
	var out []types.ContentItem
	for _, co := range c.Companies {
		out = append(out, co.Content...)
	}
	for _, te := range c.Technologies {
		out = append(out, te.Content...)
	}
	return out
}

// Lookup finds a content item by ID
func (c *Catalog) Lookup(id string) (types.ContentItem, bool) {
	for _, item := range c.ContentItems() {
		if item.ID == id {
			return item, true
		}
	}
	return types.ContentItem{}, false
}

// humanize turns a folder slug into a display name ("acme-corp" -> "Acme Corp")
func humanize(slug string) string {
	words := strings.FieldsFunc(slug, func(r rune) bool { return r == '-' || r == '_' })
	for i, w := range words {
		if len(w) > 0 {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
