package main

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/swarm-orchestrator/internal/domain"
	"github.com/hochfrequenz/swarm-orchestrator/internal/judgment"
	"github.com/hochfrequenz/swarm-orchestrator/internal/notify"
)

var (
	perfLogNotify bool
	perfOutput    string
	perfRunLimit  int
	judgeDryRun   bool
	judgeOutput   string
)

var offenseTypes = []domain.OffenseType{
	domain.OffenseSilentExit,
	domain.OffenseEmptyRun,
	domain.OffenseGhostRun,
	domain.OffenseErrorLoop,
}

func init() {
	perfCmd := &cobra.Command{
		Use:   "perf",
		Short: "Record and inspect agent performance",
	}

	logCmd := &cobra.Command{
		Use:   "log AGENT true|false [OFFENSE] [SUMMARY]",
		Short: "Record one agent run",
		Args:  cobra.RangeArgs(2, 4),
		RunE:  runPerfLog,
	}
	logCmd.Flags().BoolVar(&perfLogNotify, "notify", false, "post the run to the configured webhooks")
	perfCmd.AddCommand(logCmd)

	statsCmd := &cobra.Command{
		Use:   "stats [AGENT]",
		Short: "Show performance records",
		Args:  cobra.MaximumNArgs(1),
		RunE:  runPerfStats,
	}
	statsCmd.Flags().StringVarP(&perfOutput, "output", "o", outputText, "output format: text, json or yaml")
	statsCmd.Flags().IntVar(&perfRunLimit, "runs", 10, "recent runs to show for a single agent")
	perfCmd.AddCommand(statsCmd)

	importCmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import a legacy performance.json file",
		Args:  cobra.ExactArgs(1),
		RunE:  runPerfImport,
	}
	perfCmd.AddCommand(importCmd)

	enableCmd := &cobra.Command{
		Use:   "enable AGENT",
		Short: "Re-activate a disabled agent at the base interval",
		Args:  cobra.ExactArgs(1),
		RunE:  runPerfEnable,
	}
	perfCmd.AddCommand(enableCmd)

	rootCmd.AddCommand(perfCmd)

	judgeCmd := &cobra.Command{
		Use:   "judge",
		Short: "Judge every agent and enforce timeouts",
		RunE:  runJudge,
	}
	judgeCmd.Flags().BoolVar(&judgeDryRun, "dry-run", false, "judge without enforcing or notifying")
	judgeCmd.Flags().StringVarP(&judgeOutput, "output", "o", outputText, "output format: text, json or yaml")
	rootCmd.AddCommand(judgeCmd)

	reportCmd := &cobra.Command{
		Use:   "report",
		Short: "Show the swarm balance report without enforcing anything",
		RunE:  runReport,
	}
	rootCmd.AddCommand(reportCmd)
}

// parseRunArgs turns the positional perf log arguments into a run
func parseRunArgs(args []string) (domain.Run, error) {
	productive, err := strconv.ParseBool(args[1])
	if err != nil {
		return domain.Run{}, fmt.Errorf("productive must be true or false, got %q", args[1])
	}
	run := domain.Run{AgentID: args[0], Productive: productive}
	if len(args) > 2 && args[2] != "" {
		run.OffenseType, err = parseOffense(args[2])
		if err != nil {
			return domain.Run{}, err
		}
	}
	if len(args) > 3 {
		run.Summary = args[3]
	}
	return run, nil
}

func parseOffense(s string) (domain.OffenseType, error) {
	t := domain.OffenseType(strings.ToLower(s))
	for _, known := range offenseTypes {
		if t == known {
			return t, nil
		}
	}
	names := make([]string, len(offenseTypes))
	for i, known := range offenseTypes {
		names[i] = string(known)
	}
	return "", fmt.Errorf("unknown offense %q (want one of %s)", s, strings.Join(names, ", "))
}

func runPerfLog(cmd *cobra.Command, args []string) error {
	run, err := parseRunArgs(args)
	if err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	store, err := a.perfStore()
	if err != nil {
		return err
	}
	agent, err := store.LogRun(cmd.Context(), run)
	if err != nil {
		return err
	}

	state := goodStyle.Render("productive")
	if !run.Productive {
		state = warningStyle.Render("unproductive")
	}
	fmt.Printf("Logged %s run for %s: %d/%d productive, streak %d\n",
		state, agent.ID, agent.ProductiveRuns, agent.TotalRuns, agent.OffenseStreak)

	if perfLogNotify {
		if err := a.notifier.Send(notify.RunNotification(agent.ID, run.Productive, run.Summary)); err != nil {
			a.logger.Warn("run notification failed", "agent", agent.ID, "error", err)
		}
	}
	return nil
}

func runPerfStats(cmd *cobra.Command, args []string) error {
	if err := checkOutput(perfOutput); err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	store, err := a.perfStore()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if len(args) == 1 {
		agent, err := store.GetAgent(ctx, args[0])
		if err != nil {
			return err
		}
		runs, err := store.ListRuns(ctx, agent.ID, perfRunLimit)
		if err != nil {
			return err
		}
		if perfOutput != outputText {
			return writeStructured(os.Stdout, perfOutput, viewAgent(agent))
		}
		printAgentDetail(os.Stdout, agent, runs)
		return nil
	}

	agents, err := store.ListAgents(ctx)
	if err != nil {
		return err
	}
	if perfOutput != outputText {
		views := make([]agentView, len(agents))
		for i, ag := range agents {
			views[i] = viewAgent(ag)
		}
		return writeStructured(os.Stdout, perfOutput, views)
	}
	printAgents(os.Stdout, agents)
	return nil
}

func printAgents(out io.Writer, agents []*domain.Agent) {
	if len(agents) == 0 {
		fmt.Fprintln(out, "No agents recorded.")
		return
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "AGENT\tSTATUS\tRUNS\tPRODUCTIVITY\tSTREAK\tINTERVAL\tLAST PRODUCTIVE")
	for _, ag := range agents {
		last := "never"
		if ag.LastProductive != nil {
			last = humanize.Time(*ag.LastProductive)
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%.1f%%\t%d\t%dm\t%s\n",
			ag.ID, styleAgentStatus(ag.Status), ag.TotalRuns, ag.ProductivityRatio()*100,
			ag.OffenseStreak, ag.IntervalMinutes, last)
	}
	w.Flush()
}

func printAgentDetail(out io.Writer, ag *domain.Agent, runs []domain.Run) {
	fmt.Fprintf(out, "%s (%s)\n", titleStyle.Render(ag.ID), styleAgentStatus(ag.Status))
	fmt.Fprintf(out, "  runs:         %d (%d productive, %.1f%%)\n", ag.TotalRuns, ag.ProductiveRuns, ag.ProductivityRatio()*100)
	fmt.Fprintf(out, "  streak:       %d\n", ag.OffenseStreak)
	fmt.Fprintf(out, "  interval:     %dm (%d timeouts)\n", ag.IntervalMinutes, ag.TimeoutCount)
	if len(runs) == 0 {
		return
	}
	fmt.Fprintln(out, "\nRecent runs:")
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	for _, r := range runs {
		state := goodStyle.Render("productive")
		if !r.Productive {
			state = warningStyle.Render(string(r.OffenseType))
			if r.OffenseType == "" {
				state = warningStyle.Render("unproductive")
			}
		}
		fmt.Fprintf(w, "  %s\t%s\t%s\n", humanize.Time(r.At), state, truncate(r.Summary, 60))
	}
	w.Flush()
}

func runPerfImport(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return err
	}
	defer f.Close()

	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	store, err := a.perfStore()
	if err != nil {
		return err
	}
	n, err := store.ImportJSON(cmd.Context(), f)
	if err != nil {
		return fmt.Errorf("import %s: %w", args[0], err)
	}
	fmt.Printf("Imported %d agents from %s\n", n, args[0])
	return nil
}

func runPerfEnable(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	store, err := a.perfStore()
	if err != nil {
		return err
	}
	if err := store.Enable(cmd.Context(), args[0]); err != nil {
		return err
	}
	fmt.Printf("Enabled %s at %dm\n", args[0], domain.DefaultIntervalMinutes)
	return nil
}

// judgeResult is the structured output of judge and report
type judgeResult struct {
	Judgments []judgmentView       `json:"judgments" yaml:"judgments"`
	Report    domain.BalanceReport `json:"report" yaml:"report"`
	DryRun    bool                 `json:"dry_run" yaml:"dry_run"`
}

type judgmentView struct {
	Agent        string  `json:"agent" yaml:"agent"`
	Verdict      string  `json:"verdict" yaml:"verdict"`
	Reason       string  `json:"reason" yaml:"reason"`
	Productivity float64 `json:"productivity" yaml:"productivity"`
	Streak       int     `json:"streak" yaml:"streak"`
	Enforced     bool    `json:"enforced" yaml:"enforced"`
}

func viewJudgeResult(res judgment.Result, dryRun bool) judgeResult {
	out := judgeResult{Report: res.Report, DryRun: dryRun, Judgments: make([]judgmentView, len(res.Judgments))}
	for i, j := range res.Judgments {
		out.Judgments[i] = judgmentView{
			Agent:        j.Agent,
			Verdict:      string(j.Verdict),
			Reason:       j.Reason,
			Productivity: j.Productivity,
			Streak:       j.Streak,
			Enforced:     j.Enforced,
		}
	}
	return out
}

func runJudge(cmd *cobra.Command, args []string) error {
	if err := checkOutput(judgeOutput); err != nil {
		return err
	}
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	m, err := a.judge()
	if err != nil {
		return err
	}
	res, execErr := m.Execute(cmd.Context(), judgeDryRun)
	if res.Judgments == nil && execErr != nil {
		return execErr
	}

	if judgeOutput != outputText {
		if err := writeStructured(os.Stdout, judgeOutput, viewJudgeResult(res, judgeDryRun)); err != nil {
			return errors.Join(execErr, err)
		}
		return execErr
	}
	printJudgments(os.Stdout, res, judgeDryRun)
	printBalance(os.Stdout, res.Report)
	return execErr
}

func runReport(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	m, err := a.judge()
	if err != nil {
		return err
	}
	res, err := m.Evaluate(cmd.Context())
	if err != nil {
		return err
	}
	printBalance(os.Stdout, res.Report)
	return nil
}

func printJudgments(out io.Writer, res judgment.Result, dryRun bool) {
	if len(res.Judgments) == 0 {
		fmt.Fprintln(out, "No agents to judge.")
		return
	}
	if dryRun {
		fmt.Fprintln(out, mutedStyle.Render("dry run: nothing was enforced"))
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "AGENT\tVERDICT\tREASON")
	for _, j := range res.Judgments {
		fmt.Fprintf(w, "%s\t%s\t%s\n", j.Agent, styleVerdict(j.Verdict), j.Reason)
	}
	w.Flush()
	fmt.Fprintln(out)
}

func printBalance(out io.Writer, r domain.BalanceReport) {
	fmt.Fprintln(out, titleStyle.Render("Swarm balance"))
	fmt.Fprintf(out, "  agents:       %d\n", r.TotalAgents)
	fmt.Fprintf(out, "  productive:   %d\n", r.ProductiveAgents)
	fmt.Fprintf(out, "  timed out:    %d\n", r.TimedOut)
	fmt.Fprintf(out, "  disabled:     %d\n", r.Disabled)
	fmt.Fprintf(out, "  productivity: %.1f%%\n", r.SwarmProductivity*100)
}
