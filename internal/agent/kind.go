package agent

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownAgent is returned for names outside the registry.
var ErrUnknownAgent = errors.New("unknown agent")

// Kind is the closed set of agent variants.
type Kind string

const (
	KindDiscovery Kind = "discovery"
	KindVetting   Kind = "vetting"
	KindTechDebt  Kind = "tech_debt"
)

var kinds = []Kind{KindDiscovery, KindVetting, KindTechDebt}

// Kinds lists every registered agent in pipeline order.
func Kinds() []Kind { return append([]Kind(nil), kinds...) }

// ParseKind resolves a case-insensitive registry name.
func ParseKind(name string) (Kind, error) {
	key := Kind(strings.ToLower(strings.TrimSpace(name)))
	for _, k := range kinds {
		if k == key {
			return k, nil
		}
	}
	return "", fmt.Errorf("%w %q (available: %s)", ErrUnknownAgent, name, strings.Join(kindNames(), ", "))
}

func kindNames() []string {
	out := make([]string, len(kinds))
	for i, k := range kinds {
		out[i] = string(k)
	}
	return out
}

// New constructs the agent for k.
func New(k Kind, d Deps) (Agent, error) {
	d = d.withDefaults()
	switch k {
	case KindDiscovery:
		return Discovery{deps: d}, nil
	case KindVetting:
		return Vetting{deps: d}, nil
	case KindTechDebt:
		return TechDebt{deps: d}, nil
	}
	return nil, fmt.Errorf("%w %q", ErrUnknownAgent, string(k))
}

// Descriptor is the catalogue entry for one agent.
type Descriptor struct {
	Key         string `json:"key"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Catalogue describes every registered agent.
func Catalogue() []Descriptor {
	out := make([]Descriptor, 0, len(kinds))
	for _, k := range kinds {
		a, _ := New(k, Deps{})
		out = append(out, Descriptor{Key: string(k), Name: a.Name(), Description: a.Description()})
	}
	return out
}
