package heal

import (
	"strings"

	"replwatch/internal/model"
)

// Policy is a named authorization tier bounding which remedies may be
// auto-applied. Adding a tier means adding one table row below.
type Policy string

const (
	Conservative Policy = "conservative"
	Moderate     Policy = "moderate"
	Aggressive   Policy = "aggressive"
)

// NormalizePolicy maps free-form input to a tier, defaulting to the most
// restrictive one.
func NormalizePolicy(s string) Policy {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "moderate":
		return Moderate
	case "aggressive":
		return Aggressive
	default:
		return Conservative
	}
}

// authorizedRemedies is the closed policy table checked at Evaluate time.
var authorizedRemedies = map[Policy]map[model.Remedy]bool{
	Conservative: {
		model.RemedyClearQueue: true,
		model.RemedyEscalate:   true,
	},
	Moderate: {
		model.RemedyClearQueue: true,
		model.RemedyEscalate:   true,
		model.RemedyForceSync:  true,
	},
	Aggressive: {
		model.RemedyClearQueue:     true,
		model.RemedyEscalate:       true,
		model.RemedyForceSync:      true,
		model.RemedyRestartService: true,
	},
}

// Allows reports whether the tier authorizes the remedy.
func (p Policy) Allows(r model.Remedy) bool {
	return authorizedRemedies[p][r]
}

// remedyFor maps an issue category to its remedy from the fixed vocabulary.
var remedyFor = map[model.Category]model.Remedy{
	model.CatUnreachable:     model.RemedyEscalate,
	model.CatDegraded:        model.RemedyRestartService,
	model.CatStale:           model.RemedyForceSync,
	model.CatVeryStale:       model.RemedyForceSync,
	model.CatCriticalFailure: model.RemedyRestartService,
	model.CatHighFailure:     model.RemedyForceSync,
	model.CatMediumFailure:   model.RemedyClearQueue,
	model.CatCustom:          model.RemedyEscalate,
}

// RemedyFor returns the remedy chosen for an issue category.
func RemedyFor(cat model.Category) model.Remedy {
	if r, ok := remedyFor[cat]; ok {
		return r
	}
	return model.RemedyEscalate
}
