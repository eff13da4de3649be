package miso

import (
	"encoding/json"
	"sort"
)

// Capability is a named statement registered on a Factory.
// Its statement is rooted at the factory's entity; join entities are
// resolved by table name among the entities registered with Factory.Join.
type Capability struct {
	Name        string        `json:"name"`
	Description string        `json:"description,omitempty"`
	Statement   StatementSpec `json:"statement"`
	Tags        []string      `json:"tags,omitempty"`
}

// CapabilitySpec is the introspection view of a Capability.
type CapabilitySpec struct {
	Name        string    `json:"name"`
	Description string    `json:"description,omitempty"`
	Operation   Operation `json:"operation"`
	SQL         string    `json:"sql"`
	Tags        []string  `json:"tags,omitempty"`
}

// FactorySpec describes a factory's entity and every capability it serves.
type FactorySpec struct {
	Table        string           `json:"table"`
	Entity       EntitySpec       `json:"entity"`
	Joinable     []string         `json:"joinable,omitempty"`
	Capabilities []CapabilitySpec `json:"capabilities"`
}

// Spec returns a complete specification of the factory's capabilities.
// Capabilities are listed by name; each carries the SQL it compiles to.
func (f *Factory[T]) Spec() FactorySpec {
	f.mu.RLock()
	defer f.mu.RUnlock()

	spec := FactorySpec{
		Table:        f.entity.Table(),
		Entity:       specOf(f.entity),
		Joinable:     sortedKeys(f.catalog),
		Capabilities: make([]CapabilitySpec, 0, len(f.capabilities)),
	}

	for _, c := range f.capabilities {
		cs := CapabilitySpec{Name: c.Name, Description: c.Description, Tags: c.Tags}
		if stmt, err := f.compile(c); err == nil {
			cs.Operation = stmt.Operation
			cs.SQL = stmt.SQL
		}
		spec.Capabilities = append(spec.Capabilities, cs)
	}
	sort.Slice(spec.Capabilities, func(i, j int) bool {
		return spec.Capabilities[i].Name < spec.Capabilities[j].Name
	})
	return spec
}

// SpecJSON returns the factory specification as indented JSON.
func (f *Factory[T]) SpecJSON() (string, error) {
	data, err := json.MarshalIndent(f.Spec(), "", "  ")
	if err != nil {
		return "", err
	}
	return string(data), nil
}
