// Package formatter renders pipeline output: evolved artifact documents,
// CLI summaries as json, yaml, or aligned tables.
package formatter

import (
	"bytes"
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"text/template"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/Integrum-Global/kailash-learn/embedded"
	"github.com/Integrum-Global/kailash-learn/internal/storage"
	"github.com/Integrum-Global/kailash-learn/internal/types"
)

const (
	frontmatterDelim = "---\n"
	templateExt      = ".md.tmpl"
)

// ErrMalformedDocument is returned when an artifact file lacks a valid
// frontmatter block.
var ErrMalformedDocument = errors.New("malformed artifact document")

// Renderer produces artifact bodies from per-category templates.
type Renderer struct {
	tmpl *template.Template
}

// NewRenderer loads the templates compiled into the binary.
func NewRenderer() (*Renderer, error) {
	return NewRendererFS(embedded.Templates, embedded.TemplatePattern)
}

// NewRendererFS loads templates matching pattern from fsys. Each artifact
// category needs a <category>.md.tmpl; other files may define partials.
func NewRendererFS(fsys fs.FS, pattern string) (*Renderer, error) {
	tmpl, err := template.New("artifact").
		Option("missingkey=error").
		Funcs(templateFuncs()).
		ParseFS(fsys, pattern)
	if err != nil {
		return nil, fmt.Errorf("parse artifact templates: %w", err)
	}
	return &Renderer{tmpl: tmpl}, nil
}

// templateData holds all data for an artifact template.
type templateData struct {
	Instinct types.Instinct
	Category types.ArtifactCategory

	// Name is the dash-separated handle of the pattern.
	Name string

	// Steps are the ordered components of a compound pattern.
	Steps []string
}

// Render executes the category's template for inst. Any failure is an
// ErrEvolutionSynthesis scoped to this one instinct.
func (r *Renderer) Render(inst types.Instinct, category types.ArtifactCategory) (string, error) {
	name := string(category) + templateExt
	if r.tmpl.Lookup(name) == nil {
		return "", fmt.Errorf("%w: %s: no template for %s", types.ErrEvolutionSynthesis, inst.ID, category)
	}

	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, name, buildTemplateData(inst, category)); err != nil {
		return "", fmt.Errorf("%w: %s: %v", types.ErrEvolutionSynthesis, inst.ID, err)
	}
	return buf.String(), nil
}

func buildTemplateData(inst types.Instinct, category types.ArtifactCategory) templateData {
	name := storage.Slug(inst.Pattern, "-")
	if name == "" {
		name = inst.ID
	}

	var steps []string
	if _, rest, ok := strings.Cut(inst.Pattern, "_"); ok {
		for _, s := range strings.Split(rest, "__") {
			if s = strings.Trim(s, "_"); s != "" {
				steps = append(steps, strings.ReplaceAll(s, "_", " "))
			}
		}
	}
	if len(steps) == 0 {
		steps = []string{inst.Description}
	}

	return templateData{Instinct: inst, Category: category, Name: name, Steps: steps}
}

// templateFuncs returns custom template functions.
func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"required": func(field, v string) (string, error) {
			if strings.TrimSpace(v) == "" {
				return "", fmt.Errorf("%s is empty", field)
			}
			return v, nil
		},
		"pct": func(v float64) string {
			return fmt.Sprintf("%.0f%%", v*100)
		},
		"date": func(t time.Time) string {
			return t.UTC().Format("2006-01-02")
		},
		"plural": func(n int, one, many string) string {
			if n == 1 {
				return one
			}
			return many
		},
		"inc": func(i int) int { return i + 1 },
	}
}

// EncodeDocument writes the frontmatter of a and its body as one markdown
// document.
func EncodeDocument(a types.EvolvedArtifact) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(frontmatterDelim)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(a); err != nil {
		return nil, fmt.Errorf("encode frontmatter: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode frontmatter: %w", err)
	}
	buf.WriteString(frontmatterDelim)
	buf.WriteString("\n")
	buf.WriteString(a.Body)
	return buf.Bytes(), nil
}

// DecodeDocument parses a document written by EncodeDocument. The body is
// returned byte-for-byte.
func DecodeDocument(data []byte) (types.EvolvedArtifact, error) {
	s := string(data)
	if !strings.HasPrefix(s, frontmatterDelim) {
		return types.EvolvedArtifact{}, fmt.Errorf("%w: missing frontmatter", ErrMalformedDocument)
	}
	head, body, ok := strings.Cut(s[len(frontmatterDelim):], "\n"+frontmatterDelim)
	if !ok {
		return types.EvolvedArtifact{}, fmt.Errorf("%w: unterminated frontmatter", ErrMalformedDocument)
	}

	var a types.EvolvedArtifact
	if err := yaml.Unmarshal([]byte(head), &a); err != nil {
		return types.EvolvedArtifact{}, fmt.Errorf("%w: %v", ErrMalformedDocument, err)
	}
	a.Body = strings.TrimPrefix(body, "\n")
	return a, nil
}
