package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/charmbracelet/huh"
	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/agenr/memory/internal/pidfile"
)

var doctorFix bool

var (
	doctorPassStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	doctorWarnStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("11"))
	doctorFailStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
)

var doctorCmd = &cobra.Command{
	Use:     "doctor",
	GroupID: "ops",
	Short:   "Check database integrity and watcher health",
	Long: `doctor runs a quick SQLite integrity check and looks for a stalled
watcher heartbeat. With --fix, a corrupt vector index can be rebuilt (the
database itself is never deleted without confirmation).`,
	RunE: runDoctor,
}

func init() {
	doctorCmd.Flags().BoolVar(&doctorFix, "fix", false, "offer to repair problems found")
	rootCmd.AddCommand(doctorCmd)
}

func runDoctor(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	eng, err := openEngine(ctx)
	if err != nil {
		return err
	}
	defer eng.Close()

	out := cmd.OutOrStdout()
	problems := 0

	corrupt, err := eng.DB.QuickCheck(ctx)
	if err != nil {
		return fmt.Errorf("doctor: quick_check: %w", err)
	}
	if corrupt {
		problems++
		fmt.Fprintln(out, doctorFailStyle.Render("FAIL")+" database failed PRAGMA quick_check")
		if doctorFix && confirmFix("Rebuild the vector index now?") {
			if err := eng.DB.RebuildIndex(ctx); err != nil {
				return fmt.Errorf("doctor: rebuild_index: %w", err)
			}
			fmt.Fprintln(out, doctorPassStyle.Render("FIXED")+" vector index rebuilt")
		}
	} else {
		fmt.Fprintln(out, doctorPassStyle.Render("PASS")+" database integrity check")
	}

	watchDir := filepath.Join(eng.Config.Home(), "watch")
	health, ok, err := pidfile.ReadHeartbeat(watchDir)
	if err != nil {
		return fmt.Errorf("doctor: read heartbeat: %w", err)
	}
	switch {
	case !ok:
		fmt.Fprintln(out, doctorWarnStyle.Render("WARN")+" no watcher heartbeat found (watcher never run, or run with a different AGENR_HOME)")
	case health.Stalled(time.Now()):
		problems++
		fmt.Fprintf(out, "%s watcher heartbeat stale since %s (pid %d, %d entries stored)\n",
			doctorFailStyle.Render("FAIL"), health.LastHeartbeat.Format(time.RFC3339), health.Pid, health.EntriesStored)
	default:
		fmt.Fprintf(out, "%s watcher alive, last heartbeat %s (%d entries stored)\n",
			doctorPassStyle.Render("PASS"), health.LastHeartbeat.Format(time.RFC3339), health.EntriesStored)
	}

	count, err := eng.DB.CountActive(ctx)
	if err != nil {
		return fmt.Errorf("doctor: count active: %w", err)
	}
	fmt.Fprintf(out, "%d active entries\n", count)

	if problems > 0 {
		return fmt.Errorf("doctor found %d problem(s)", problems)
	}
	return nil
}

// confirmFix prompts interactively before a destructive/repair action.
// Non-interactive sessions (piped stdin, CI) default to no.
func confirmFix(prompt string) bool {
	if !isInteractive() {
		return false
	}
	var confirmed bool
	form := huh.NewForm(huh.NewGroup(
		huh.NewConfirm().Title(prompt).Value(&confirmed),
	))
	if err := form.Run(); err != nil {
		return false
	}
	return confirmed
}
