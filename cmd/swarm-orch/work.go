package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/swarm-orchestrator/internal/domain"
	"github.com/hochfrequenz/swarm-orchestrator/internal/issues"
	"github.com/hochfrequenz/swarm-orchestrator/internal/scheduler"
)

var (
	nextOutput  string
	claimDryRun bool
	claimOutput string
)

func init() {
	nextCmd := &cobra.Command{
		Use:   "next",
		Short: "Show the next claimable issue without claiming it",
		RunE:  runNext,
	}
	nextCmd.Flags().StringVarP(&nextOutput, "output", "o", outputText, "output format: text, json or yaml")
	rootCmd.AddCommand(nextCmd)

	claimCmd := &cobra.Command{
		Use:   "claim",
		Short: "Claim the next issue for the configured agent",
		RunE:  runClaim,
	}
	claimCmd.Flags().BoolVar(&claimDryRun, "dry-run", false, "select without adding the WIP label")
	claimCmd.Flags().StringVarP(&claimOutput, "output", "o", outputText, "output format: text, json or yaml")
	rootCmd.AddCommand(claimCmd)

	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Explain the scheduling decision for every open issue",
		RunE:  runQueue,
	}
	rootCmd.AddCommand(queueCmd)
}

func runNext(cmd *cobra.Command, args []string) error {
	if err := checkOutput(nextOutput); err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	item, err := a.dispatcher().Next(cmd.Context())
	return printWorkItem(os.Stdout, nextOutput, "Next", item, err)
}

func runClaim(cmd *cobra.Command, args []string) error {
	if err := checkOutput(claimOutput); err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	d := a.dispatcher()
	if claimDryRun {
		item, err := d.Next(cmd.Context())
		return printWorkItem(os.Stdout, claimOutput, "Would claim", item, err)
	}
	item, err := d.ClaimNext(cmd.Context())
	return printWorkItem(os.Stdout, claimOutput, "Claimed", item, err)
}

// printWorkItem renders a selection result. Running out of work is not an
// error: text output says so and structured output is null.
func printWorkItem(w io.Writer, format, verb string, item domain.WorkItem, err error) error {
	if err != nil && !errors.Is(err, issues.ErrNoWork) {
		return err
	}
	noWork := err != nil

	if format != outputText {
		if noWork {
			return writeStructured(w, format, nil)
		}
		return writeStructured(w, format, viewItem(item))
	}

	if noWork {
		fmt.Fprintln(w, mutedStyle.Render("No claimable work."))
		return nil
	}
	fmt.Fprintf(w, "%s %s %s %s\n", verb, titleStyle.Render(item.Ref()), priorityLabel(item.Priority), item.Title)
	if item.URL != "" {
		fmt.Fprintf(w, "  %s\n", item.URL)
	}
	if len(item.DependsOn) > 0 {
		fmt.Fprintf(w, "  depends on: %v (all closed)\n", item.DependsOn)
	}
	return nil
}

func priorityLabel(p domain.PriorityTag) string {
	if p == domain.PriorityNone {
		return mutedStyle.Render("[none]")
	}
	return "[" + p.String() + "]"
}

func runQueue(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	decisions, err := a.dispatcher().Explain(cmd.Context())
	if err != nil {
		return err
	}
	printQueue(os.Stdout, decisions)
	return nil
}

func printQueue(out io.Writer, decisions []scheduler.Decision) {
	if len(decisions) == 0 {
		fmt.Fprintln(out, "No open issues.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ISSUE\tPRIORITY\tSTATUS\tDEPENDENCY\tAGE\tTITLE")
	eligible := 0
	for _, d := range decisions {
		dep := "-"
		if d.Dependency != 0 {
			dep = fmt.Sprintf("#%d", d.Dependency)
		}
		if d.Eligible() {
			eligible++
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			d.Item.Ref(),
			d.Item.Priority,
			styleReason(d.Reason),
			dep,
			age(d.Item.CreatedAt),
			truncate(d.Item.Title, 60),
		)
	}
	w.Flush()
	fmt.Fprintf(out, "\n%d open, %d eligible\n", len(decisions), eligible)
}

func age(t time.Time) string {
	if t.IsZero() {
		return "-"
	}
	return humanize.Time(t)
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-3]) + "..."
}
