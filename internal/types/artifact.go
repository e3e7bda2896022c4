package types

import "time"

// ArtifactCategory is the kind of knowledge document an instinct evolves into.
type ArtifactCategory string

const (
	ArtifactSkill   ArtifactCategory = "skill"
	ArtifactCommand ArtifactCategory = "command"
	ArtifactAgent   ArtifactCategory = "agent"
)

// ArtifactCategories lists the artifact categories in ascending threshold order.
var ArtifactCategories = []ArtifactCategory{ArtifactSkill, ArtifactCommand, ArtifactAgent}

// ParseArtifactCategory accepts singular or plural names ("skill", "skills").
func ParseArtifactCategory(s string) (ArtifactCategory, bool) {
	switch s {
	case "skill", "skills":
		return ArtifactSkill, true
	case "command", "commands":
		return ArtifactCommand, true
	case "agent", "agents":
		return ArtifactAgent, true
	}
	return "", false
}

// Dir is the directory name under evolved/ holding this category.
func (c ArtifactCategory) Dir() string {
	return string(c) + "s"
}

// EvolvedArtifact is the frontmatter of a generated knowledge document.
// Body holds the rendered markdown after the frontmatter.
type EvolvedArtifact struct {
	ID               string           `yaml:"id" json:"id"`
	SourceInstinctID string           `yaml:"source_instinct_id" json:"source_instinct_id"`
	Category         ArtifactCategory `yaml:"category" json:"category"`
	Confidence       float64          `yaml:"confidence" json:"confidence"`
	CreatedAt        time.Time        `yaml:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `yaml:"updated_at" json:"updated_at"`
	Stale            bool             `yaml:"stale" json:"stale"`
	StaleSince       *time.Time       `yaml:"stale_since,omitempty" json:"stale_since,omitempty"`

	Body string `yaml:"-" json:"-"`
}
