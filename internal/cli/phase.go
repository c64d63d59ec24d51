package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/noah-isme/teaching-load-planner/internal/models"
)

var (
	phaseName     string
	phaseTerm     string
	phaseStart    string
	phaseDeadline string
	phaseInactive bool
)

var phaseCmd = &cobra.Command{
	Use:     "phase",
	Short:   "Manage planning phases",
	GroupID: "planning",
}

var phaseOpenCmd = &cobra.Command{
	Use:   "open",
	Short: "Open a submission window for a term",
	Long: `Create a planning phase. Dates accept RFC3339 or YYYY-MM-DD; a bare
deadline date means the end of that day in UTC.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		start, err := parsePhaseTime(phaseStart, false)
		if err != nil {
			return fmt.Errorf("--start: %w", err)
		}
		deadline, err := parsePhaseTime(phaseDeadline, true)
		if err != nil {
			return fmt.Errorf("--deadline: %w", err)
		}
		phase := &models.PlanningPhase{
			Name:     strings.TrimSpace(phaseName),
			TermID:   strings.TrimSpace(phaseTerm),
			StartsAt: start,
			Deadline: deadline,
			Active:   !phaseInactive,
		}

		svc, err := openServices(cmd.Context())
		if err != nil {
			return err
		}
		defer svc.close()

		if err := svc.phases.Open(cmd.Context(), phase); err != nil {
			return err
		}
		out := cmd.OutOrStdout()
		printSuccess(out, fmt.Sprintf("Opened phase %q", phase.Name))
		printLabelValue(out, "ID", phase.ID)
		printLabelValue(out, "Term", phase.TermID)
		printLabelValue(out, "Window", fmt.Sprintf("%s - %s", phase.StartsAt.Format(time.RFC3339), phase.Deadline.Format(time.RFC3339)))
		return nil
	},
}

func parsePhaseTime(raw string, endOfDay bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("value is required")
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	day, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid time %q", raw)
	}
	if endOfDay {
		return day.Add(24*time.Hour - time.Second), nil
	}
	return day, nil
}

func init() {
	flags := phaseOpenCmd.Flags()
	flags.StringVar(&phaseName, "name", "", "Phase name")
	flags.StringVar(&phaseTerm, "term", "", "Term id")
	flags.StringVar(&phaseStart, "start", "", "Window start")
	flags.StringVar(&phaseDeadline, "deadline", "", "Submission deadline")
	flags.BoolVar(&phaseInactive, "inactive", false, "Create the phase without activating it")
	phaseCmd.AddCommand(phaseOpenCmd)
}
