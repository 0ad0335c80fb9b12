// Package action models the "who did what" verbs shared by provenance events
// and proof records. Actions travel on the wire as "namespace:verb" strings
// ("export:pdf", "ai:compose"); unknown namespaces are preserved raw so new
// kinds can flow through before this package learns about them.
package action

import "strings"

// Namespace groups actions by the operation family that produces them.
type Namespace string

const (
	NamespaceAI         Namespace = "ai"
	NamespaceExport     Namespace = "export"
	NamespaceAttachment Namespace = "attachment"
	NamespaceSystem     Namespace = "system"
	// NamespaceUnknown tags raw strings that do not match a known namespace.
	NamespaceUnknown Namespace = ""
)

var knownNamespaces = map[Namespace]struct{}{
	NamespaceAI:         {},
	NamespaceExport:     {},
	NamespaceAttachment: {},
	NamespaceSystem:     {},
}

// Action is the parsed form of an action/kind string.
type Action struct {
	Namespace Namespace
	Verb      string
	// Raw is the original wire string, kept verbatim for storage and for
	// namespaces this package does not know yet.
	Raw string
}

// Parse splits an action string into namespace and verb. Strings without a
// known namespace keep NamespaceUnknown and round-trip unchanged via String.
func Parse(raw string) Action {
	ns, verb, ok := strings.Cut(raw, ":")
	if !ok {
		return Action{Namespace: NamespaceUnknown, Verb: raw, Raw: raw}
	}
	namespace := Namespace(ns)
	if _, known := knownNamespaces[namespace]; !known {
		return Action{Namespace: NamespaceUnknown, Verb: verb, Raw: raw}
	}
	return Action{Namespace: namespace, Verb: verb, Raw: raw}
}

// String returns the wire form.
func (a Action) String() string {
	if a.Raw != "" {
		return a.Raw
	}
	if a.Namespace == NamespaceUnknown {
		return a.Verb
	}
	return string(a.Namespace) + ":" + a.Verb
}

// IsAI reports whether the action belongs to the AI namespace. This is the
// namespace predicate the timeline reconciler dedups against.
func IsAI(raw string) bool {
	return Parse(raw).Namespace == NamespaceAI
}

// AIProofKinds is the allowlist of proof record kinds that project into the
// timeline as AI provenance entries. Kinds outside this list never compete
// with provenance events during dedup.
var AIProofKinds = []string{
	"ai:compose",
	"ai:summarize",
	"ai:rewrite",
	"ai:generate-canvas",
}

// IsAIProofKind reports membership in AIProofKinds.
func IsAIProofKind(kind string) bool {
	for _, k := range AIProofKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// ActorType classifies who performed an action.
type ActorType string

const (
	ActorHuman  ActorType = "human"
	ActorAI     ActorType = "ai"
	ActorSystem ActorType = "system"
)

// ValidActorType reports whether t is one of the three known actor types.
func ValidActorType(t ActorType) bool {
	switch t {
	case ActorHuman, ActorAI, ActorSystem:
		return true
	}
	return false
}
