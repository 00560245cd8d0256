package model

// Node is one replicated directory server under observation.
// Topology attributes are supplied by the resolver and immutable per run.
type Node struct {
	Name            string `json:"name"`
	Site            string `json:"site,omitempty"`
	IsGlobalCatalog bool   `json:"isGlobalCatalog,omitempty"`
	IsReadOnly      bool   `json:"isReadOnly,omitempty"`
}

// ScopeKind selects how the fleet is enumerated.
type ScopeKind string

const (
	ScopeFleet ScopeKind = "fleet"
	ScopeSite  ScopeKind = "site"
	ScopeList  ScopeKind = "list"
)

// Scope is the selector handed to the topology resolver.
type Scope struct {
	Kind  ScopeKind
	Site  string   // for ScopeSite
	Nodes []string // for ScopeList
}
