package vault

import (
	"bytes"
	"path"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/starford/ansuz/internal/models"
)

var (
	wikilinkRe = regexp.MustCompile(`\[\[(.*?)\]\]`)
	tagRe      = regexp.MustCompile(`(?:^|\s)#([A-Za-z][A-Za-z0-9_/-]*)`)
)

// Frontmatter keys consumed by the importer rather than copied into properties.
const (
	keyTitle = "title"
	keyTags  = "tags"
	keyType  = "type"
)

// Document is a parsed Markdown file.
type Document struct {
	Type        models.ObjectType
	Title       string
	Body        string
	Frontmatter map[string]any
	Links       []string
	Tags        []string
}

// Parse extracts frontmatter, body, wikilinks and tags from raw Markdown.
// The title falls back to the first H1 heading and then to the file stem of
// filePath.
func Parse(filePath string, data []byte) *Document {
	fm, body := splitFrontmatter(data)
	title := deriveTitle(fm, body)
	if title == "" {
		title = strings.TrimSuffix(path.Base(filePath), ".md")
	}
	return &Document{
		Type:        deriveType(fm),
		Title:       title,
		Body:        body,
		Frontmatter: fm,
		Links:       extractLinks(body),
		Tags:        extractTags(body, fm),
	}
}

// Properties returns the frontmatter keys that become object properties.
func (d *Document) Properties() models.Properties {
	props := make(models.Properties, len(d.Frontmatter))
	for k, v := range d.Frontmatter {
		switch k {
		case keyTitle, keyTags, keyType:
			continue
		}
		props[k] = v
	}
	return props
}

// splitFrontmatter separates YAML frontmatter (between leading --- delimiters)
// from the body. Missing or invalid frontmatter leaves the whole file as body.
func splitFrontmatter(data []byte) (map[string]any, string) {
	const delim = "---"
	trimmed := bytes.TrimLeft(data, "\n\r")

	if !bytes.HasPrefix(trimmed, []byte(delim)) {
		return nil, string(data)
	}

	rest := trimmed[len(delim):]
	idx := bytes.Index(rest, []byte("\n"+delim))
	if idx < 0 {
		return nil, string(data)
	}

	yamlBlock := rest[:idx]
	afterDelim := rest[idx+1+len(delim):]
	body := strings.TrimLeft(string(afterDelim), "\n\r")

	var fm map[string]any
	if err := yaml.Unmarshal(yamlBlock, &fm); err != nil {
		return nil, string(data)
	}
	return fm, body
}

// deriveType reads the frontmatter "type". Unknown types and the types the
// store manages itself fall back to note.
func deriveType(fm map[string]any) models.ObjectType {
	s, _ := fm[keyType].(string)
	t, err := models.ParseObjectType(strings.TrimSpace(s))
	if err != nil {
		return models.TypeNote
	}
	switch t {
	case models.TypeDailyNote, models.TypeTag, models.TypeQuery:
		return models.TypeNote
	}
	return t
}

// extractLinks returns deduplicated wikilink targets with aliases and
// headings stripped.
func extractLinks(body string) []string {
	matches := wikilinkRe.FindAllStringSubmatch(body, -1)
	seen := make(map[string]struct{}, len(matches))
	var out []string
	for _, m := range matches {
		target := m[1]
		if i := strings.IndexAny(target, "|#"); i >= 0 {
			target = target[:i]
		}
		target = strings.TrimSpace(target)
		if target == "" {
			continue
		}
		if _, ok := seen[target]; ok {
			continue
		}
		seen[target] = struct{}{}
		out = append(out, target)
	}
	return out
}

// extractTags collects tags from the frontmatter "tags" list and inline
// #tags in the body.
func extractTags(body string, fm map[string]any) []string {
	seen := make(map[string]struct{})
	var out []string
	add := func(s string) {
		s = strings.TrimSpace(s)
		if s == "" {
			return
		}
		if _, dup := seen[s]; dup {
			return
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}

	switch v := fm[keyTags].(type) {
	case []any:
		for _, item := range v {
			if s, ok := item.(string); ok {
				add(s)
			}
		}
	case string:
		for _, s := range strings.Split(v, ",") {
			add(s)
		}
	}

	for _, m := range tagRe.FindAllStringSubmatch(body, -1) {
		add(m[1])
	}
	return out
}

func deriveTitle(fm map[string]any, body string) string {
	if s, ok := fm[keyTitle].(string); ok && strings.TrimSpace(s) != "" {
		return strings.TrimSpace(s)
	}
	for _, line := range strings.Split(body, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "# ") {
			return strings.TrimSpace(trimmed[2:])
		}
	}
	return ""
}
