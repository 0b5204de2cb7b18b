package model

import (
	"errors"
	"fmt"
	"sort"
)

// ErrUnknownModel is returned when a requested model identifier is not
// present in the active configuration snapshot.
var ErrUnknownModel = errors.New("unknown model")

// Endpoint describes one configured backend: where to reach it, how to
// authenticate, and which model name it actually serves.
type Endpoint struct {
	DisplayName     string `json:"displayName"`
	URL             string `json:"url"`
	APIKey          string `json:"apiKey"`
	ActualModelName string `json:"actualModelName"`
}

// Snapshot is an immutable view of the endpoint configuration. A snapshot is
// never mutated after load; reloads build a fresh one and swap it in, so a
// request keeps whatever snapshot it resolved against.
type Snapshot struct {
	// Endpoints maps the externally visible model identifier to its backend.
	// Lookups are exact-match and case-sensitive.
	Endpoints map[string]*Endpoint

	// Path is the absolute path of the file this snapshot was loaded from.
	Path string
}

// Resolve looks up the backend for a model identifier.
func (s *Snapshot) Resolve(modelID string) (*Endpoint, error) {
	ep, ok := s.Endpoints[modelID]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownModel, modelID)
	}
	return ep, nil
}

// ModelIDs returns the configured model identifiers in sorted order. Map
// iteration is randomized and the /models listing must be deterministic for
// a given snapshot.
func (s *Snapshot) ModelIDs() []string {
	ids := make([]string, 0, len(s.Endpoints))
	for id := range s.Endpoints {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
