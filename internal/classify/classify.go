// Package classify partitions resolved units into the execution buckets of a
// schedule plan according to their parallel constraints.
package classify

import (
	"cmp"
	"math"
	"slices"
	"strings"

	"github.com/Iron-Ham/gauntlet/internal/logging"
	"github.com/Iron-Ham/gauntlet/internal/testunit"
)

// KeyedBucket holds the units sharing one exact key set, in run order.
type KeyedBucket struct {
	KeySet string
	Keys   []string
	Units  []*testunit.Unit
}

// Tier is one ordered step of a parallel group. Units is in seed order;
// Keyed holds the Combined units of the tier bucketed by key set.
type Tier struct {
	Order int
	Units []*testunit.Unit
	Keyed []KeyedBucket
}

// Group is a named parallel group with its tiers in ascending order.
type Group struct {
	Name  string
	Tiers []Tier
}

// Plan is the output of classification. Every unit appears in exactly one
// bucket.
type Plan struct {
	Parallel   []*testunit.Unit
	Sequential []*testunit.Unit
	Keyed      []KeyedBucket
	Groups     []Group
}

// Size returns the number of units in the plan.
func (p *Plan) Size() int {
	n := len(p.Parallel) + len(p.Sequential)
	for _, b := range p.Keyed {
		n += len(b.Units)
	}
	for _, g := range p.Groups {
		for _, t := range g.Tiers {
			n += len(t.Units)
		}
	}
	return n
}

// KeyedBucket returns the bucket for an exact key set, or nil.
func (p *Plan) KeyedBucket(keySet string) *KeyedBucket {
	for i := range p.Keyed {
		if p.Keyed[i].KeySet == keySet {
			return &p.Keyed[i]
		}
	}
	return nil
}

// Group returns the named group, or nil.
func (p *Plan) Group(name string) *Group {
	for i := range p.Groups {
		if p.Groups[i].Name == name {
			return &p.Groups[i]
		}
	}
	return nil
}

// Classifier builds plans.
type Classifier struct {
	logger *logging.Logger
}

// New creates a Classifier. A nil logger discards output.
func New(logger *logging.Logger) *Classifier {
	return &Classifier{logger: logging.OrNop(logger)}
}

// Classify partitions units by constraint. It is a pure function of the
// units' constraints, priorities, classes and registration order.
func (c *Classifier) Classify(units []*testunit.Unit) *Plan {
	seeded := slices.Clone(units)
	slices.SortStableFunc(seeded, seedOrder)

	plan := &Plan{}
	keyed := make(map[string]*KeyedBucket)
	var keyOrder []string
	groups := make(map[string]map[int]*Tier)
	var groupOrder []string

	for _, u := range seeded {
		con := u.Constraint
		switch con.Kind {
		case testunit.ConstraintNotInParallel:
			ks := con.KeySet()
			if ks == "" {
				plan.Sequential = append(plan.Sequential, u)
				continue
			}
			b, ok := keyed[ks]
			if !ok {
				b = &KeyedBucket{KeySet: ks, Keys: con.KeyList()}
				keyed[ks] = b
				keyOrder = append(keyOrder, ks)
			}
			b.Units = append(b.Units, u)

		case testunit.ConstraintParallelGroup, testunit.ConstraintCombined:
			tiers, ok := groups[con.Group]
			if !ok {
				tiers = make(map[int]*Tier)
				groups[con.Group] = tiers
				groupOrder = append(groupOrder, con.Group)
			}
			tier, ok := tiers[con.Order]
			if !ok {
				tier = &Tier{Order: con.Order}
				tiers[con.Order] = tier
			}
			tier.Units = append(tier.Units, u)

		default:
			plan.Parallel = append(plan.Parallel, u)
		}
	}

	slices.SortStableFunc(plan.Sequential, bucketOrder)

	slices.Sort(keyOrder)
	for _, ks := range keyOrder {
		b := keyed[ks]
		slices.SortStableFunc(b.Units, bucketOrder)
		plan.Keyed = append(plan.Keyed, *b)
	}

	slices.Sort(groupOrder)
	for _, name := range groupOrder {
		g := Group{Name: name}
		for _, tier := range groups[name] {
			tier.Keyed = keyedWithin(tier.Units)
			g.Tiers = append(g.Tiers, *tier)
		}
		slices.SortFunc(g.Tiers, func(a, b Tier) int { return cmp.Compare(a.Order, b.Order) })
		plan.Groups = append(plan.Groups, g)
	}

	c.logger.Debug("units classified",
		"parallel", len(plan.Parallel),
		"sequential", len(plan.Sequential),
		"keyed_buckets", len(plan.Keyed),
		"groups", len(plan.Groups))
	return plan
}

// keyedWithin buckets the Combined units of a tier by exact key set.
func keyedWithin(units []*testunit.Unit) []KeyedBucket {
	idx := make(map[string]int)
	var out []KeyedBucket
	for _, u := range units {
		if u.Constraint.Kind != testunit.ConstraintCombined {
			continue
		}
		keys := u.Constraint.KeyList()
		if len(keys) == 0 {
			keys = []string{testunit.GlobalKey}
		}
		ks := strings.Join(keys, ",")
		i, ok := idx[ks]
		if !ok {
			i = len(out)
			idx[ks] = i
			out = append(out, KeyedBucket{KeySet: ks, Keys: keys})
		}
		out[i].Units = append(out[i].Units, u)
	}
	for i := range out {
		slices.SortStableFunc(out[i].Units, bucketOrder)
	}
	slices.SortFunc(out, func(a, b KeyedBucket) int { return cmp.Compare(a.KeySet, b.KeySet) })
	return out
}

// seedOrder sorts by descending priority, class name, then constraint order.
// Units without an ordered constraint sort after ordered ones.
func seedOrder(a, b *testunit.Unit) int {
	return cmp.Or(
		cmp.Compare(b.Priority, a.Priority),
		cmp.Compare(className(a), className(b)),
		cmp.Compare(constraintOrder(a), constraintOrder(b)),
	)
}

// bucketOrder sorts sequential and keyed buckets by class name, descending
// priority, constraint order and registration order.
func bucketOrder(a, b *testunit.Unit) int {
	return cmp.Or(
		cmp.Compare(className(a), className(b)),
		cmp.Compare(b.Priority, a.Priority),
		cmp.Compare(constraintOrder(a), constraintOrder(b)),
		cmp.Compare(a.Seq, b.Seq),
	)
}

func className(u *testunit.Unit) string {
	if u.Class == nil {
		return ""
	}
	return u.Class.Name
}

func constraintOrder(u *testunit.Unit) int {
	switch u.Constraint.Kind {
	case testunit.ConstraintNotInParallel, testunit.ConstraintCombined:
		return u.Constraint.Order
	default:
		return math.MaxInt
	}
}
