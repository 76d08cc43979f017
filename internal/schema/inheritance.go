package schema

import (
	"fmt"
	"strings"

	"relgraph/internal/config"
	"relgraph/internal/run"
)

func malformed(node, msg string) error {
	return &run.SchemaInconsistencyError{Subject: node, Message: msg}
}

func (a *Analyzer) applyHierarchy(s *Schema, idx int, h config.Hierarchy) error {
	if h.Table == "" {
		return malformed(fmt.Sprintf("hierarchies[%d]", idx), "missing table")
	}
	node := "hierarchy " + h.Table
	if !h.Pattern.Valid() {
		return malformed(node, fmt.Sprintf("unknown pattern %q", h.Pattern))
	}
	root := s.Entity(h.Table)
	if root == nil {
		return malformed(node, "unknown table")
	}
	if root.Bag != nil {
		return malformed(node, "table already belongs to a hierarchy")
	}

	switch h.Pattern {
	case config.SingleTable:
		if h.Discriminator == "" {
			return malformed(node, "missing discriminator")
		}
		disc := root.Attribute(h.Discriminator)
		if disc == nil {
			return malformed(node, "unknown discriminator column "+h.Discriminator)
		}
		if containsAttr(root.PrimaryKey.Attributes, disc) {
			return malformed(node, "discriminator cannot be a key column")
		}
		root.removeAttributes([]*Attribute{disc})
		root.DiscriminatorValue = h.DiscriminatorValue

		bag := newBag(config.SingleTable, root, disc.Name)
		s.Bags = append(s.Bags, bag)
		seen := map[string]string{}
		if h.DiscriminatorValue != "" {
			seen[h.DiscriminatorValue] = root.Name
		}
		return a.singleTable(s, bag, root, h.Subclasses, node, seen)

	default:
		bag := newBag(h.Pattern, root, "")
		s.Bags = append(s.Bags, bag)
		return a.tablePer(s, bag, root, h.Subclasses, node)
	}
}

// singleTable creates one logical entity per subclass. Subclasses share the
// root's table and key; listed attributes move from the nearest ancestor
// owning them.
func (a *Analyzer) singleTable(s *Schema, bag *HierarchicalBag, parent *Entity, subs []config.Subclass, path string, seen map[string]string) error {
	root := bag.Root
	for i, sub := range subs {
		if sub.Name == "" {
			return malformed(fmt.Sprintf("%s.subclasses[%d]", path, i), "missing name")
		}
		node := path + "/" + sub.Name
		if sub.DiscriminatorValue == "" {
			return malformed(node, "missing discriminatorValue")
		}
		if other, dup := seen[sub.DiscriminatorValue]; dup {
			return malformed(node, fmt.Sprintf("discriminator value %q already used by %s", sub.DiscriminatorValue, other))
		}
		seen[sub.DiscriminatorValue] = sub.Name

		child := &Entity{
			Name:               sub.Name,
			SchemaName:         root.SchemaName,
			Table:              root.Table,
			Level:              parent.Level + 1,
			Parent:             parent,
			DiscriminatorValue: sub.DiscriminatorValue,
			PrimaryKey:         &PrimaryKey{Attributes: root.PrimaryKey.Attributes, Inherited: true},
			KeyAttributes:      root.PrimaryKey.Attributes,
		}
		if err := s.Add(child); err != nil {
			return err
		}

		for _, col := range sub.Attributes {
			owner, attr := ownerOf(parent, col)
			if attr == nil {
				return malformed(node, "unknown attribute "+col)
			}
			if containsAttr(root.PrimaryKey.Attributes, attr) {
				return malformed(node, "key column "+col+" cannot move to a subclass")
			}
			owner.removeAttributes([]*Attribute{attr})
			child.Attributes = append(child.Attributes, attr)
		}
		child.renumber()

		// Relationships carried entirely by moved columns now start at the child.
		for p := parent; p != nil; p = p.Parent {
			for _, r := range append([]*Relationship(nil), p.Out...) {
				if allContained(r.ForeignKey, child.Attributes) {
					p.Out = removeRel(p.Out, r)
					r.Child = child
					child.Out = append(child.Out, r)
				}
			}
		}

		bag.add(child)
		if err := a.singleTable(s, bag, child, sub.Subclasses, node, seen); err != nil {
			return err
		}
	}
	return nil
}

// tablePer links physical subclass tables to their parent. The child's key
// columns are stripped and the parent's key is inherited. For table-per-type
// the child-to-parent foreign key supplies the join columns and is removed;
// for table-per-concrete-type the remaining columns are split into own and
// inherited against the parent's full column set.
func (a *Analyzer) tablePer(s *Schema, bag *HierarchicalBag, parent *Entity, subs []config.Subclass, path string) error {
	for i, sub := range subs {
		if sub.Table == "" {
			return malformed(fmt.Sprintf("%s.subclasses[%d]", path, i), "missing table")
		}
		node := path + "/" + sub.Table
		child := s.Entity(sub.Table)
		if child == nil || !child.Physical {
			return malformed(node, "unknown table")
		}
		if child.Bag != nil {
			return malformed(node, "table already belongs to a hierarchy")
		}

		parentKey := parent.KeyColumnNames()
		var keyAttrs []*Attribute
		if bag.Pattern == config.TablePerType {
			for _, r := range child.Out {
				if r.Parent != parent {
					continue
				}
				if aligned := alignTo(r, parentKey); aligned != nil {
					keyAttrs = aligned
					child.removeRelationship(r)
					break
				}
			}
		}
		if keyAttrs == nil {
			if len(child.PrimaryKey.Attributes) != len(parentKey) {
				return malformed(node, fmt.Sprintf("primary key has %d columns, parent key has %d",
					len(child.PrimaryKey.Attributes), len(parentKey)))
			}
			keyAttrs = child.PrimaryKey.Attributes
		}

		strip := append(append([]*Attribute(nil), child.PrimaryKey.Attributes...), keyAttrs...)
		child.removeAttributes(strip)
		child.PrimaryKey = &PrimaryKey{Attributes: parent.PrimaryKey.Attributes, Inherited: true}
		child.KeyAttributes = keyAttrs
		child.Parent = parent
		child.Level = parent.Level + 1

		if bag.Pattern == config.TablePerConcreteType {
			splitInherited(child, parent)
		}

		bag.add(child)
		if err := a.tablePer(s, bag, child, sub.Subclasses, node); err != nil {
			return err
		}
	}
	return nil
}

// splitInherited moves the child's columns also present in the parent's
// table into InheritedAttributes and drops relationships the parent already
// declares over the same columns.
func splitInherited(child, parent *Entity) {
	inherited := make(map[string]bool)
	for _, a := range parent.Attributes {
		inherited[strings.ToLower(a.Name)] = true
	}
	for _, a := range parent.InheritedAttributes {
		inherited[strings.ToLower(a.Name)] = true
	}
	for _, name := range parent.KeyColumnNames() {
		inherited[strings.ToLower(name)] = true
	}

	var own []*Attribute
	for _, a := range child.Attributes {
		if inherited[strings.ToLower(a.Name)] {
			child.InheritedAttributes = append(child.InheritedAttributes, a)
		} else {
			own = append(own, a)
		}
	}
	child.Attributes = own
	child.renumber()

	for _, r := range append([]*Relationship(nil), child.Out...) {
		for _, anc := range child.Ancestors() {
			if declaresSame(anc, r) {
				child.removeRelationship(r)
				break
			}
		}
	}
}

func declaresSame(e *Entity, r *Relationship) bool {
	for _, x := range e.Out {
		if x.Parent == r.Parent && equalFold(x.ForeignKeyNames(), r.ForeignKeyNames()) {
			return true
		}
	}
	return false
}

// alignTo returns r's foreign-key attributes ordered like key when r
// references exactly those columns, or nil.
func alignTo(r *Relationship, key []string) []*Attribute {
	if len(r.ParentKey) != len(key) {
		return nil
	}
	out := make([]*Attribute, len(key))
	for i, k := range key {
		found := false
		for j, pk := range r.ParentKey {
			if strings.EqualFold(pk.Name, k) {
				out[i] = r.ForeignKey[j]
				found = true
				break
			}
		}
		if !found {
			return nil
		}
	}
	return out
}

func ownerOf(e *Entity, column string) (*Entity, *Attribute) {
	for p := e; p != nil; p = p.Parent {
		if a := p.Attribute(column); a != nil {
			return p, a
		}
	}
	return nil, nil
}

func allContained(attrs, in []*Attribute) bool {
	if len(attrs) == 0 {
		return false
	}
	for _, a := range attrs {
		if !containsAttr(in, a) {
			return false
		}
	}
	return true
}

func equalFold(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if !strings.EqualFold(a[i], b[i]) {
			return false
		}
	}
	return true
}
