package main

import (
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/hochfrequenz/swarm-orchestrator/internal/audit"
	"github.com/hochfrequenz/swarm-orchestrator/internal/prbot"
)

var (
	mergeDryRun bool
	mergeOutput string
	auditFix    bool
	auditOutput string
)

func init() {
	mergeCmd := &cobra.Command{
		Use:   "merge",
		Short: "Review open pull requests and merge the routine ones",
		RunE:  runMerge,
	}
	mergeCmd.Flags().BoolVar(&mergeDryRun, "dry-run", false, "decide without merging, labeling or commenting")
	mergeCmd.Flags().StringVarP(&mergeOutput, "output", "o", outputText, "output format: text, json or yaml")
	rootCmd.AddCommand(mergeCmd)

	auditCmd := &cobra.Command{
		Use:   "audit",
		Short: "Check backlog labels for problems that stall scheduling",
		RunE:  runAudit,
	}
	auditCmd.Flags().BoolVar(&auditFix, "fix", false, "apply the suggested label edits")
	auditCmd.Flags().StringVarP(&auditOutput, "output", "o", outputText, "output format: text, json or yaml")
	rootCmd.AddCommand(auditCmd)
}

func runMerge(cmd *cobra.Command, args []string) error {
	if err := checkOutput(mergeOutput); err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	report, err := a.merger().Review(cmd.Context(), prbot.Options{DryRun: mergeDryRun})
	if err != nil {
		return err
	}
	if mergeOutput != outputText {
		return writeStructured(os.Stdout, mergeOutput, report)
	}
	printMergeReport(os.Stdout, report, mergeDryRun)
	return nil
}

func printMergeReport(out io.Writer, r *prbot.Report, dryRun bool) {
	if r.Total() == 0 {
		fmt.Fprintln(out, "No open pull requests.")
		return
	}
	if dryRun {
		fmt.Fprintln(out, mutedStyle.Render("dry run: nothing was changed"))
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PR\tISSUE\tPRIORITY\tOUTCOME\tREASON")
	for _, group := range [][]prbot.Result{r.Merged, r.NeedsReview, r.Blocked, r.Waiting, r.Skipped} {
		for _, res := range group {
			issue := "-"
			if res.Issue != 0 {
				issue = fmt.Sprintf("#%d", res.Issue)
			}
			fmt.Fprintf(w, "#%d\t%s\t%s\t%s\t%s\n", res.Number, issue, res.Priority, styleOutcome(res.Outcome), res.Reason)
		}
	}
	w.Flush()
	fmt.Fprintf(out, "\n%d merged, %d need review, %d blocked, %d waiting, %d skipped\n",
		len(r.Merged), len(r.NeedsReview), len(r.Blocked), len(r.Waiting), len(r.Skipped))
}

// auditResult is the structured output of the audit command
type auditResult struct {
	Report *audit.Report     `json:"report" yaml:"report"`
	Fixes  *audit.FixSummary `json:"fixes,omitempty" yaml:"fixes,omitempty"`
	Plan   []audit.FixAction `json:"plan,omitempty" yaml:"plan,omitempty"`
}

func runAudit(cmd *cobra.Command, args []string) error {
	if err := checkOutput(auditOutput); err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	auditor := a.auditor()
	report, err := auditor.Run(cmd.Context())
	if err != nil {
		return err
	}
	res := auditResult{Report: report, Plan: audit.Plan(report)}

	var fixErr error
	if auditFix {
		summary, err := auditor.Fix(cmd.Context(), report)
		res.Fixes, fixErr = &summary, err
	}

	if auditOutput != outputText {
		if err := writeStructured(os.Stdout, auditOutput, res); err != nil {
			return err
		}
		return fixErr
	}
	printAudit(os.Stdout, res)
	return fixErr
}

func printAudit(out io.Writer, res auditResult) {
	r := res.Report
	fmt.Fprintf(out, "%s %d open issues, %d problems\n", titleStyle.Render("Audit:"), r.Total, r.Problems())
	if r.Problems() == 0 {
		fmt.Fprintln(out, goodStyle.Render("Backlog labels look healthy."))
		return
	}

	section := func(name string, lines []string) {
		if len(lines) == 0 {
			return
		}
		fmt.Fprintf(out, "\n%s (%d)\n", warningStyle.Render(name), len(lines))
		for _, l := range lines {
			fmt.Fprintf(out, "  %s\n", l)
		}
	}

	var lines []string
	for _, b := range r.BrokenDeps {
		where := "body"
		if b.Label != "" {
			where = "label " + b.Label
		}
		lines = append(lines, fmt.Sprintf("#%d depends on missing #%d (%s)", b.Issue, b.Missing, where))
	}
	section("Broken dependencies", lines)

	lines = nil
	for _, m := range r.MissingPriority {
		lines = append(lines, fmt.Sprintf("#%d %s", m.Issue, m.Title))
	}
	section("Missing priority", lines)

	lines = nil
	for _, m := range r.MultiplePriority {
		lines = append(lines, fmt.Sprintf("#%d has %s, keep %s", m.Issue, strings.Join(m.Priorities, ", "), m.Keep))
	}
	section("Multiple priorities", lines)

	lines = nil
	for _, m := range r.MissingType {
		lines = append(lines, fmt.Sprintf("#%d %s (suggest %s)", m.Issue, m.Title, m.Label))
	}
	section("Missing type", lines)

	lines = nil
	for _, s := range r.SelfDependencies {
		lines = append(lines, fmt.Sprintf("#%d %s", s.Issue, s.Title))
	}
	section("Self dependencies", lines)

	lines = nil
	for _, c := range r.Cycles {
		lines = append(lines, fmt.Sprintf("#%d", c))
	}
	section("Dependency cycles", lines)

	lines = nil
	for _, c := range r.BehindCycle {
		lines = append(lines, fmt.Sprintf("#%d", c))
	}
	section("Waiting on a cycle", lines)

	if res.Fixes == nil {
		if len(res.Plan) > 0 {
			fmt.Fprintf(out, "\n%d label edits available, rerun with --fix to apply\n", len(res.Plan))
		}
		return
	}
	fmt.Fprintf(out, "\n%s %d applied, %d failed\n", titleStyle.Render("Fixes:"), len(res.Fixes.Applied), len(res.Fixes.Failed))
	for _, f := range res.Fixes.Failed {
		fmt.Fprintf(out, "  %s #%d: %s\n", badStyle.Render("failed"), f.Issue, f.Error)
	}
}
