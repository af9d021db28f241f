package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/gauntlet/internal/classify"
	"github.com/Iron-Ham/gauntlet/internal/engine"
	"github.com/Iron-Ham/gauntlet/internal/planfile"
	"github.com/Iron-Ham/gauntlet/internal/resolve"
	"github.com/Iron-Ham/gauntlet/internal/testunit"
)

func newPlanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "plan <plan.yaml>",
		Short: "Print the schedule plan without running it",
		Long: `Resolve dependencies and classify the units of a plan file, then print
the execution buckets in the order the scheduler would dispatch them.`,
		Args: cobra.ExactArgs(1),
		RunE: runPlan,
	}
}

func runPlan(cmd *cobra.Command, args []string) error {
	plan, err := planfile.Load(args[0])
	if err != nil {
		return err
	}
	built, err := plan.Build()
	if err != nil {
		return err
	}

	session := engine.NewSession(engine.Options{})
	session.AddUnits(built.Units...)
	schedule, resolution := session.Plan()
	printPlan(cmd.OutOrStdout(), schedule, resolution)
	return nil
}

func printPlan(w io.Writer, p *classify.Plan, r resolve.Report) {
	fmt.Fprintf(w, "%d units, %d dependency edges\n", p.Size(), r.Edges)

	section := func(title string, units []*testunit.Unit) {
		if len(units) == 0 {
			return
		}
		fmt.Fprintf(w, "\n%s:\n", title)
		for _, u := range units {
			fmt.Fprintf(w, "  %s%s\n", u.DisplayName(), describe(u))
		}
	}
	section("Parallel", p.Parallel)
	section("Sequential", p.Sequential)
	for _, b := range p.Keyed {
		section("Keyed ["+b.KeySet+"]", b.Units)
	}
	for _, g := range p.Groups {
		for _, t := range g.Tiers {
			section(fmt.Sprintf("Group %s, order %d", g.Name, t.Order), t.Units)
		}
	}

	if len(r.Failures) > 0 {
		fmt.Fprintln(w, "\nResolution failures:")
		for _, f := range r.Failures {
			fmt.Fprintf(w, "  %s: %v\n", f.Unit.DisplayName(), f.Err)
		}
	}
}

// describe renders the constraint and dependencies of u as a suffix.
func describe(u *testunit.Unit) string {
	var parts []string
	if u.Constraint.Kind == testunit.ConstraintCombined {
		parts = append(parts, "keys "+u.Constraint.KeySet())
	}
	if l := u.ParallelLimit; l.Enabled() {
		parts = append(parts, fmt.Sprintf("limit %s/%d", l.Name, l.Limit))
	}
	if deps := u.Dependencies(); len(deps) > 0 {
		names := make([]string, 0, len(deps))
		for _, d := range deps {
			name := d.Test.DisplayName()
			if d.ProceedOnFailure {
				name += " (proceed on failure)"
			}
			names = append(names, name)
		}
		parts = append(parts, "after "+strings.Join(names, ", "))
	}
	if u.SkipReason != "" {
		parts = append(parts, "skipped: "+u.SkipReason)
	}
	if len(parts) == 0 {
		return ""
	}
	return "  (" + strings.Join(parts, "; ") + ")"
}
