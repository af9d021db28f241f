package testunit

// TypeInfo describes a test class: its full name, declaring assembly and
// position in the inheritance chain. Discovery builds these once; the core
// only reads them.
type TypeInfo struct {
	// Name is the fully qualified class name, used for ordering and
	// as the key of the Class scope.
	Name string `json:"name" yaml:"name"`

	// Assembly is the declaring assembly and the key of the Assembly scope.
	Assembly string `json:"assembly" yaml:"assembly"`

	// Base is the parent class, or nil at the root of the hierarchy.
	Base *TypeInfo `json:"-" yaml:"-"`

	// GenericDefinition is the open generic definition when this type is a
	// closed generic, or nil.
	GenericDefinition *TypeInfo `json:"-" yaml:"-"`
}

// Hierarchy returns the type followed by each of its base types, concrete first.
// A nil receiver yields an empty hierarchy.
func (t *TypeInfo) Hierarchy() []*TypeInfo {
	var levels []*TypeInfo
	seen := make(map[*TypeInfo]bool)
	for cur := t; cur != nil && !seen[cur]; cur = cur.Base {
		seen[cur] = true
		levels = append(levels, cur)
	}
	return levels
}

// InheritsFrom reports whether t is other, derives from other, or is a
// closed form of other somewhere along its base chain.
func (t *TypeInfo) InheritsFrom(other *TypeInfo) bool {
	if other == nil {
		return false
	}
	for _, level := range t.Hierarchy() {
		if level.is(other) {
			return true
		}
		if level.GenericDefinition != nil && level.GenericDefinition.is(other) {
			return true
		}
	}
	return false
}

func (t *TypeInfo) is(other *TypeInfo) bool {
	return t == other || (t.Name == other.Name && t.Assembly == other.Assembly)
}

// String returns the full name.
func (t *TypeInfo) String() string {
	if t == nil {
		return "<nil>"
	}
	return t.Name
}
