// Package trust implements TrustPolicy: a pure categorization of a peer's
// key/name relationship and a decision lattice mapping each category to an
// admission level. Grounded in shape on the teacher's
// internal/config/config.go Default/Validate preset pattern — presets here
// are plain value literals checked for completeness the same way.
package trust

import "github.com/halvorsen/parlor/parlorerr"

// Category is one of the eight disjoint, exhaustive peer categories spec.md
// §4.3 defines.
type Category string

const (
	CategoryOnlyMatch      Category = "only_match"
	CategoryKnownAlias     Category = "known_alias"
	CategoryNameChange     Category = "name_change"
	CategorySharedKey      Category = "shared_key"
	CategoryNameCollision  Category = "name_collision"
	CategoryImpersonator   Category = "impersonator"
	CategoryStranger       Category = "stranger"
	CategoryAnonymous      Category = "anonymous"
)

// allCategories enumerates the category set for preset-completeness checks.
var allCategories = []Category{
	CategoryOnlyMatch, CategoryKnownAlias, CategoryNameChange, CategorySharedKey,
	CategoryNameCollision, CategoryImpersonator, CategoryStranger, CategoryAnonymous,
}

// Decision is an admission outcome.
type Decision string

const (
	DecisionReject           Decision = "reject"
	DecisionPromptThenTrust  Decision = "prompt_then_trust"
	DecisionConnectThenPrompt Decision = "connect_then_prompt"
	DecisionConnectAndTrust  Decision = "connect_and_trust"
)

// Factors are the booleans (plus the other-names count) spec.md §4.3
// derives from IdentityStore to categorize a peer.
type Factors struct {
	NameIsAnonymous  bool
	HasOfferedKey    bool
	KeyIsKnown       bool
	NameMatchesKey   bool
	NameHasOtherKey  bool
	OtherNamesForKey int
}

// Categorize maps Factors to exactly one Category. The result depends only
// on the input booleans, never on call order (spec.md §8).
func Categorize(f Factors) Category {
	if f.NameIsAnonymous {
		return CategoryAnonymous
	}
	if !f.HasOfferedKey {
		if f.NameHasOtherKey {
			return CategoryImpersonator
		}
		return CategoryStranger
	}
	if !f.KeyIsKnown {
		if f.NameHasOtherKey {
			return CategoryNameCollision
		}
		return CategoryStranger
	}
	if f.NameMatchesKey {
		if f.OtherNamesForKey == 0 {
			return CategoryOnlyMatch
		}
		return CategoryKnownAlias
	}
	if f.OtherNamesForKey <= 1 {
		return CategoryNameChange
	}
	return CategorySharedKey
}

// Mapping is a complete category -> Decision table.
type Mapping map[Category]Decision

// Validate reports an error unless every category has a defined decision
// (spec.md §4.3's preset-completeness invariant).
func (m Mapping) Validate() error {
	for _, c := range allCategories {
		if _, ok := m[c]; !ok {
			return parlorerr.New(parlorerr.KindConfig, "trust mapping missing category "+string(c), nil)
		}
	}
	return nil
}

// Policy pairs a category mapping with the Decide operation.
type Policy struct {
	mapping Mapping
}

// NewPolicy validates mapping and wraps it as a Policy.
func NewPolicy(mapping Mapping) (*Policy, error) {
	if err := mapping.Validate(); err != nil {
		return nil, err
	}
	return &Policy{mapping: mapping}, nil
}

// Decide returns the admission decision for a peer with the given factors.
func (p *Policy) Decide(f Factors) (Category, Decision) {
	cat := Categorize(f)
	return cat, p.mapping[cat]
}

// PresetByName resolves one of the six named presets (config.Trust.Preset's
// vocabulary) to its Mapping.
func PresetByName(name string) (Mapping, bool) {
	switch name {
	case "strict":
		return PresetStrict, true
	case "moderate":
		return PresetModerate, true
	case "lax":
		return PresetLax, true
	case "reject_all":
		return PresetRejectAll, true
	case "always_prompt":
		return PresetAlwaysPrompt, true
	case "unsafe":
		return PresetUnsafe, true
	default:
		return nil, false
	}
}

// Named presets, spec.md §4.3.
var (
	PresetStrict = Mapping{
		CategoryOnlyMatch:     DecisionConnectAndTrust,
		CategoryKnownAlias:    DecisionConnectAndTrust,
		CategoryNameChange:    DecisionConnectThenPrompt,
		CategorySharedKey:     DecisionConnectThenPrompt,
		CategoryNameCollision: DecisionReject,
		CategoryImpersonator:  DecisionPromptThenTrust,
		CategoryStranger:      DecisionConnectThenPrompt,
		CategoryAnonymous:     DecisionConnectThenPrompt,
	}

	PresetModerate = Mapping{
		CategoryOnlyMatch:     DecisionConnectAndTrust,
		CategoryKnownAlias:    DecisionConnectAndTrust,
		CategoryNameChange:    DecisionConnectAndTrust,
		CategorySharedKey:     DecisionConnectThenPrompt,
		CategoryNameCollision: DecisionPromptThenTrust,
		CategoryImpersonator:  DecisionPromptThenTrust,
		CategoryStranger:      DecisionConnectAndTrust,
		CategoryAnonymous:     DecisionConnectAndTrust,
	}

	PresetLax = Mapping{
		CategoryOnlyMatch:     DecisionConnectAndTrust,
		CategoryKnownAlias:    DecisionConnectAndTrust,
		CategoryNameChange:    DecisionConnectAndTrust,
		CategorySharedKey:     DecisionConnectAndTrust,
		CategoryNameCollision: DecisionConnectAndTrust,
		CategoryImpersonator:  DecisionConnectThenPrompt,
		CategoryStranger:      DecisionConnectAndTrust,
		CategoryAnonymous:     DecisionConnectAndTrust,
	}

	PresetRejectAll = Mapping{
		CategoryOnlyMatch:     DecisionReject,
		CategoryKnownAlias:    DecisionReject,
		CategoryNameChange:    DecisionReject,
		CategorySharedKey:     DecisionReject,
		CategoryNameCollision: DecisionReject,
		CategoryImpersonator:  DecisionReject,
		CategoryStranger:      DecisionReject,
		CategoryAnonymous:     DecisionReject,
	}

	PresetAlwaysPrompt = Mapping{
		CategoryOnlyMatch:     DecisionPromptThenTrust,
		CategoryKnownAlias:    DecisionPromptThenTrust,
		CategoryNameChange:    DecisionPromptThenTrust,
		CategorySharedKey:     DecisionPromptThenTrust,
		CategoryNameCollision: DecisionPromptThenTrust,
		CategoryImpersonator:  DecisionPromptThenTrust,
		CategoryStranger:      DecisionPromptThenTrust,
		CategoryAnonymous:     DecisionPromptThenTrust,
	}

	PresetUnsafe = Mapping{
		CategoryOnlyMatch:     DecisionConnectAndTrust,
		CategoryKnownAlias:    DecisionConnectAndTrust,
		CategoryNameChange:    DecisionConnectAndTrust,
		CategorySharedKey:     DecisionConnectAndTrust,
		CategoryNameCollision: DecisionConnectAndTrust,
		CategoryImpersonator:  DecisionConnectAndTrust,
		CategoryStranger:      DecisionConnectAndTrust,
		CategoryAnonymous:     DecisionConnectAndTrust,
	}
)
