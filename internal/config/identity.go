package config

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/Integrum-Global/kailash-learn/internal/storage"
	"github.com/Integrum-Global/kailash-learn/internal/types"
)

// Threshold is the evolution gate for one artifact category.
type Threshold struct {
	Confidence      float64 `json:"confidence" yaml:"confidence"`
	MinObservations int     `json:"min_observations" yaml:"min_observations"`
}

// Identity is the per-root pipeline configuration persisted in identity.json.
// Every component receives it explicitly; nothing reads it from a global.
type Identity struct {
	// StorageRoot is the absolute storage root. Rebound to the actual root on load.
	StorageRoot string `json:"storage_root" yaml:"storage_root"`

	// EnabledCategories lists the observation types accepted on append.
	EnabledCategories []types.ObservationType `json:"enabled_categories" yaml:"enabled_categories"`

	// Thresholds gates evolution per artifact category.
	Thresholds map[types.ArtifactCategory]Threshold `json:"thresholds" yaml:"thresholds"`

	// Normalizer is the observation count at which frequency saturates.
	Normalizer int `json:"normalizer" yaml:"normalizer"`

	// ConsistencyNormalizer is the distinct-context count at which consistency saturates.
	ConsistencyNormalizer int `json:"consistency_normalizer" yaml:"consistency_normalizer"`

	// HalfLifeDays is the recency half-life.
	HalfLifeDays float64 `json:"half_life_days" yaml:"half_life_days"`

	// EvolutionTargets maps instinct categories to artifact categories.
	EvolutionTargets map[string]types.ArtifactCategory `json:"evolution_targets" yaml:"evolution_targets"`

	// CreatedAt is when the root was initialised.
	CreatedAt time.Time `json:"created_at" yaml:"created_at"`
}

// Identity defaults.
const (
	DefaultNormalizer            = 50
	DefaultConsistencyNormalizer = 3
	DefaultHalfLifeDays          = 30
)

// DefaultThresholds returns the stock evolution gates.
func DefaultThresholds() map[types.ArtifactCategory]Threshold {
	return map[types.ArtifactCategory]Threshold{
		types.ArtifactSkill:   {Confidence: 0.85, MinObservations: 20},
		types.ArtifactCommand: {Confidence: 0.90, MinObservations: 30},
		types.ArtifactAgent:   {Confidence: 0.95, MinObservations: 50},
	}
}

// DefaultEvolutionTargets returns the stock instinct-category routing.
// Categories not listed evolve into skills.
func DefaultEvolutionTargets() map[string]types.ArtifactCategory {
	return map[string]types.ArtifactCategory{
		types.CategoryWorkflow:      types.ArtifactCommand,
		types.CategoryDomainModel:   types.ArtifactAgent,
		types.CategoryFramework:     types.ArtifactAgent,
		types.CategoryTesting:       types.ArtifactSkill,
		types.CategorySecurity:      types.ArtifactSkill,
		types.CategoryPattern:       types.ArtifactSkill,
		types.CategoryTooling:       types.ArtifactSkill,
		types.CategoryErrorHandling: types.ArtifactSkill,
	}
}

// DefaultIdentity returns a fresh identity for root.
func DefaultIdentity(root string, now time.Time) *Identity {
	return &Identity{
		StorageRoot:           root,
		EnabledCategories:     slices.Clone(types.ObservationTypes),
		Thresholds:            DefaultThresholds(),
		Normalizer:            DefaultNormalizer,
		ConsistencyNormalizer: DefaultConsistencyNormalizer,
		HalfLifeDays:          DefaultHalfLifeDays,
		EvolutionTargets:      DefaultEvolutionTargets(),
		CreatedAt:             now.UTC(),
	}
}

// LoadOrInit opens the storage root at root, creating the directory layout
// and a default identity.json on first run.
func LoadOrInit(root string, now time.Time) (*Identity, error) {
	layout, err := storage.NewLayout(root)
	if err != nil {
		return nil, err
	}
	if err := layout.Init(); err != nil {
		return nil, err
	}

	id, err := LoadIdentity(layout)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}

	id = DefaultIdentity(layout.Root, now)
	if err := id.Save(); err != nil {
		return nil, err
	}
	return id, nil
}

// LoadIdentity reads identity.json from layout. Fields missing from the file
// take their defaults.
func LoadIdentity(layout storage.Layout) (*Identity, error) {
	var id Identity
	if err := storage.ReadJSON(layout.IdentityFile(), &id); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		return nil, fmt.Errorf("read identity: %w", err)
	}
	id.StorageRoot = layout.Root
	id.fillDefaults()
	return &id, nil
}

func (id *Identity) fillDefaults() {
	if id.EnabledCategories == nil {
		id.EnabledCategories = slices.Clone(types.ObservationTypes)
	}
	if id.Thresholds == nil {
		id.Thresholds = map[types.ArtifactCategory]Threshold{}
	}
	for cat, th := range DefaultThresholds() {
		if _, ok := id.Thresholds[cat]; !ok {
			id.Thresholds[cat] = th
		}
	}
	if id.Normalizer <= 0 {
		id.Normalizer = DefaultNormalizer
	}
	if id.ConsistencyNormalizer <= 0 {
		id.ConsistencyNormalizer = DefaultConsistencyNormalizer
	}
	if id.HalfLifeDays <= 0 {
		id.HalfLifeDays = DefaultHalfLifeDays
	}
	if id.EvolutionTargets == nil {
		id.EvolutionTargets = DefaultEvolutionTargets()
	}
}

// Layout returns the storage layout of this identity's root.
func (id *Identity) Layout() storage.Layout {
	return storage.Layout{Root: id.StorageRoot}
}

// Save atomically writes identity.json.
func (id *Identity) Save() error {
	return storage.WriteJSON(id.Layout().IdentityFile(), id)
}

// Enabled reports whether observations of type t are accepted.
func (id *Identity) Enabled(t types.ObservationType) bool {
	return slices.Contains(id.EnabledCategories, t)
}

// Enable adds t to the enabled set.
func (id *Identity) Enable(t types.ObservationType) error {
	if !t.Known() {
		return fmt.Errorf("%w: unknown type %q", types.ErrInvalidObservation, t)
	}
	if id.Enabled(t) {
		return nil
	}
	id.EnabledCategories = append(id.EnabledCategories, t)
	// keep declaration order so the file diff stays stable
	slices.SortFunc(id.EnabledCategories, func(a, b types.ObservationType) int {
		return slices.Index(types.ObservationTypes, a) - slices.Index(types.ObservationTypes, b)
	})
	return nil
}

// Disable removes t from the enabled set.
func (id *Identity) Disable(t types.ObservationType) error {
	if !t.Known() {
		return fmt.Errorf("%w: unknown type %q", types.ErrInvalidObservation, t)
	}
	id.EnabledCategories = slices.DeleteFunc(id.EnabledCategories, func(e types.ObservationType) bool {
		return e == t
	})
	return nil
}

// Threshold returns the gate for category c.
func (id *Identity) Threshold(c types.ArtifactCategory) Threshold {
	if th, ok := id.Thresholds[c]; ok {
		return th
	}
	return DefaultThresholds()[c]
}

// SetThreshold replaces the gate for category c.
func (id *Identity) SetThreshold(c types.ArtifactCategory, th Threshold) error {
	if _, ok := ParseCategory(string(c)); !ok {
		return fmt.Errorf("unknown artifact category %q", c)
	}
	if th.Confidence < 0 || th.Confidence > 1 {
		return fmt.Errorf("confidence %v outside [0,1]", th.Confidence)
	}
	if th.MinObservations < 0 {
		return fmt.Errorf("min_observations %d is negative", th.MinObservations)
	}
	id.Thresholds[c] = th
	return nil
}

// TargetFor resolves the artifact category an instinct category evolves into:
// the category itself when it names an artifact category, else the configured
// target, else skill.
func (id *Identity) TargetFor(category string) types.ArtifactCategory {
	if c, ok := ParseCategory(category); ok {
		return c
	}
	if c, ok := id.EvolutionTargets[category]; ok {
		return c
	}
	return types.ArtifactSkill
}

// SetTarget routes instinct category to artifact category target.
func (id *Identity) SetTarget(category string, target types.ArtifactCategory) error {
	if category == "" {
		return errors.New("instinct category is required")
	}
	if _, ok := ParseCategory(string(target)); !ok {
		return fmt.Errorf("unknown artifact category %q", target)
	}
	id.EvolutionTargets[category] = target
	return nil
}

// ParseCategory accepts only the singular artifact names used in instinct
// categories and identity keys.
func ParseCategory(s string) (types.ArtifactCategory, bool) {
	c := types.ArtifactCategory(s)
	if slices.Contains(types.ArtifactCategories, c) {
		return c, true
	}
	return "", false
}

// HalfLife returns the recency half-life as a duration.
func (id *Identity) HalfLife() time.Duration {
	return time.Duration(id.HalfLifeDays * float64(24*time.Hour))
}
