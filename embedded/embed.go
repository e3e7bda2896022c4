// Package embedded provides the artifact templates compiled into the learn
// binary. One template per artifact category, plus shared partials.
package embedded

import "embed"

// TemplatePattern matches every template file in Templates.
const TemplatePattern = "templates/*.md.tmpl"

// Templates contains the artifact body templates.
//
//go:embed templates/*.md.tmpl
var Templates embed.FS
