package resolve

import "github.com/Iron-Ham/gauntlet/internal/testunit"

// walker finds dependency chains that lead from a unit back to itself.
// Units proven unable to reach any cycle are remembered across walks.
type walker struct {
	acyclic map[*testunit.Unit]bool
}

// cycleThrough walks the dependencies of root depth-first and returns the
// chain root -> ... -> root if root lies on a cycle, or nil.
func (w *walker) cycleThrough(root *testunit.Unit) []*testunit.Unit {
	var path []*testunit.Unit
	onPath := make(map[*testunit.Unit]bool)
	tainted := make(map[*testunit.Unit]bool)

	var visit func(n *testunit.Unit) ([]*testunit.Unit, bool)
	visit = func(n *testunit.Unit) ([]*testunit.Unit, bool) {
		if w.acyclic[n] {
			return nil, false
		}
		if onPath[n] {
			if n == root {
				chain := make([]*testunit.Unit, 0, len(path)+1)
				chain = append(chain, path...)
				return append(chain, root), true
			}
			return nil, true
		}
		if t, seen := tainted[n]; seen {
			return nil, t
		}

		onPath[n] = true
		path = append(path, n)
		reached := false
		for _, d := range n.Dependencies() {
			chain, t := visit(d.Test)
			if chain != nil {
				return chain, true
			}
			reached = reached || t
		}
		path = path[:len(path)-1]
		onPath[n] = false

		tainted[n] = reached
		if !reached {
			w.acyclic[n] = true
		}
		return nil, reached
	}

	chain, _ := visit(root)
	return chain
}
