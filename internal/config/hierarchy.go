package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Pattern is an inheritance encoding.
type Pattern string

const (
	SingleTable          Pattern = "single-table"
	TablePerType         Pattern = "table-per-type"
	TablePerConcreteType Pattern = "table-per-concrete-type"
)

// Valid reports whether p names a supported encoding.
func (p Pattern) Valid() bool {
	switch p {
	case SingleTable, TablePerType, TablePerConcreteType:
		return true
	}
	return false
}

// HierarchyDoc declares inheritance trees that the source metadata cannot
// express by itself.
//
//	hierarchies:
//	  - table: VEHICLE
//	    pattern: single-table
//	    discriminator: KIND
//	    subclasses:
//	      - name: CAR
//	        discriminatorValue: CAR
//	        attributes: [DOORS]
//	      - name: TRUCK
//	        discriminatorValue: TRUCK
type HierarchyDoc struct {
	Hierarchies []Hierarchy `yaml:"hierarchies"`
}

// Hierarchy is one inheritance tree rooted at a physical table.
type Hierarchy struct {
	Table              string     `yaml:"table"`
	Pattern            Pattern    `yaml:"pattern"`
	Discriminator      string     `yaml:"discriminator"`      // single-table only
	DiscriminatorValue string     `yaml:"discriminatorValue"` // rows of the root type, if any
	Subclasses         []Subclass `yaml:"subclasses"`
}

// Subclass is a node below the root. Single-table subclasses are logical and
// identified by Name; the other patterns name a physical Table.
type Subclass struct {
	Name               string     `yaml:"name"`
	Table              string     `yaml:"table"`
	DiscriminatorValue string     `yaml:"discriminatorValue"`
	Attributes         []string   `yaml:"attributes"` // single-table columns owned by this subclass
	Subclasses         []Subclass `yaml:"subclasses"`
}

// Ident returns the table or logical name identifying the node.
func (s Subclass) Ident() string {
	if s.Table != "" {
		return s.Table
	}
	return s.Name
}

// LoadHierarchy reads a hierarchy description. Structural validation against
// the source schema happens during analysis.
func LoadHierarchy(path string) (*HierarchyDoc, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read hierarchy: %w", err)
	}
	return ParseHierarchy(data)
}

// ParseHierarchy decodes a hierarchy description.
func ParseHierarchy(data []byte) (*HierarchyDoc, error) {
	var doc HierarchyDoc
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse hierarchy: %w", err)
	}
	return &doc, nil
}
