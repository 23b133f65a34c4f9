package catalog

import (
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// meta is the recognized frontmatter shape for catalog markdown files.
// Unknown keys are ignored.
type meta struct {
	Name        string `yaml:"name"`
	Title       string `yaml:"title"`
	Description string `yaml:"description"`
	URL         string `yaml:"url"`
	Category    string `yaml:"category"`
	Date        string `yaml:"date"`
	Updated     string `yaml:"updated"`
}

// splitFrontmatter separates a leading ---\n...\n---\n block from the body.
// Files without a block return an empty frontmatter and the full content.
func splitFrontmatter(content string) (front, body string) {
	if !strings.HasPrefix(content, "---\n") {
		return "", content
	}
	endIdx := strings.Index(content[4:], "\n---\n")
	if endIdx == -1 {
		return "", content
	}
	return content[4 : 4+endIdx], content[4+endIdx+5:]
}

// parseMeta parses a frontmatter block. Malformed YAML yields an empty meta
// rather than an error; the caller falls back to derived values.
func parseMeta(front string) meta {
	var m meta
	if front == "" {
		return m
	}
	_ = yaml.Unmarshal([]byte(front), &m)
	return m
}

// parseDate accepts the date formats seen in catalog files
func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range []string{"2006-01-02", time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// firstHeading returns the text of the first "# " line, if any
func firstHeading(body string) string {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if strings.HasPrefix(line, "# ") {
			return strings.TrimSpace(strings.TrimPrefix(line, "# "))
		}
	}
	return ""
}
