// Package models defines the core data structures shared by retrieval, grounding, and answering.
package models

import (
	"fmt"
	"strings"
)

// Layer identifies one of the knowledge partitions, or the ALL selector.
type Layer int

const (
	// LayerCore holds atomic, verified facts (hours, prices, dates).
	LayerCore Layer = iota + 1
	// LayerContext holds contextual intelligence (crowds, weather, logistics).
	LayerContext
	// LayerStrategy holds experience strategy (itineraries, pacing, family advice).
	LayerStrategy
	// LayerAll selects every concrete layer, searched independently.
	LayerAll
)

var layerNames = map[Layer]string{
	LayerCore:     "CORE",
	LayerContext:  "CONTEXT_INTELLIGENCE",
	LayerStrategy: "EXPERIENCE_STRATEGY",
	LayerAll:      "ALL",
}

var layerSlugs = map[Layer]string{
	LayerCore:     "core",
	LayerContext:  "context",
	LayerStrategy: "strategy",
	LayerAll:      "all",
}

// Layers returns the concrete layers in their fixed result order.
func Layers() []Layer {
	return []Layer{LayerCore, LayerContext, LayerStrategy}
}

// ParseLayer accepts the short names (core, context, strategy, all) and the canonical
// names (CORE, CONTEXT_INTELLIGENCE, ...), case-insensitively.
func ParseLayer(s string) (Layer, error) {
	needle := strings.TrimSpace(s)
	for l, name := range layerNames {
		if strings.EqualFold(needle, name) || strings.EqualFold(needle, layerSlugs[l]) {
			return l, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownLayer, s)
}

// String returns the canonical name, e.g. CONTEXT_INTELLIGENCE.
func (l Layer) String() string {
	if name, ok := layerNames[l]; ok {
		return name
	}
	return fmt.Sprintf("Layer(%d)", int(l))
}

// Slug returns the short name used on the command line and in file names.
func (l Layer) Slug() string {
	if slug, ok := layerSlugs[l]; ok {
		return slug
	}
	return ""
}

// Valid reports whether l is a concrete layer or the ALL selector.
func (l Layer) Valid() bool {
	_, ok := layerNames[l]
	return ok
}

// Concrete reports whether l names a single partition (not ALL).
func (l Layer) Concrete() bool {
	return l.Valid() && l != LayerAll
}

// MarshalText encodes the canonical name.
func (l Layer) MarshalText() ([]byte, error) {
	if !l.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownLayer, int(l))
	}
	return []byte(l.String()), nil
}

// UnmarshalText decodes any name accepted by ParseLayer.
func (l *Layer) UnmarshalText(text []byte) error {
	parsed, err := ParseLayer(string(text))
	if err != nil {
		return err
	}
	*l = parsed
	return nil
}
