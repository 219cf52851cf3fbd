package cmd

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/domain"
	"github.com/Sonlux/K8S-Anomaly-Detection-and-Remediation-sub001/internal/lifecycle"
)

var flagAction string

var remediateCmd = &cobra.Command{
	Use:   "remediate <anomaly-id>",
	Short: "Start a remediation for an anomaly",
	Long: `Create a Pending remediation for an Open or Acknowledged anomaly.

The backend runs the action and reports progress; use 'tb-dash watch' to
follow it.`,
	Args: cobra.ExactArgs(1),
	RunE: runRemediate,
}

var ackCmd = &cobra.Command{
	Use:   "ack <anomaly-id>",
	Short: "Acknowledge an anomaly",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setAnomalyStatus(cmd, args[0], domain.AnomalyAcknowledged)
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <anomaly-id>",
	Short: "Mark an anomaly resolved",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return setAnomalyStatus(cmd, args[0], domain.AnomalyResolved)
	},
}

var statusUpdateCmd = &cobra.Command{
	Use:   "status-update <remediation-id> <status>",
	Short: "Move a remediation to a new status",
	Long: `Move a remediation along Pending -> In Progress -> Completed or Failed.

Moves outside that order are refused before anything is sent.`,
	Args: cobra.ExactArgs(2),
	RunE: runStatusUpdate,
}

func init() {
	remediateCmd.Flags().StringVar(&flagAction, "action", "", "Action to run, e.g. restart-pod, scale-deployment")
	remediateCmd.MarkFlagRequired("action")
	rootCmd.AddCommand(remediateCmd, ackCmd, resolveCmd, statusUpdateCmd)
}

func runRemediate(cmd *cobra.Command, args []string) error {
	cfg, s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()
	ctrl, closeTrail, err := newController(cfg, s)
	if err != nil {
		return err
	}
	defer closeTrail()

	rem, err := ctrl.Initiate(cmd.Context(), args[0], flagAction)
	if err != nil {
		return explain(err)
	}
	if wantJSON() {
		return printJSON(rem)
	}
	fmt.Printf("Remediation %s created (%s, %s)\n", rem.ID, rem.Action, rem.Status)
	return nil
}

func setAnomalyStatus(cmd *cobra.Command, id string, to domain.AnomalyStatus) error {
	cfg, s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()
	ctrl, closeTrail, err := newController(cfg, s)
	if err != nil {
		return err
	}
	defer closeTrail()

	an, err := ctrl.UpdateAnomalyStatus(cmd.Context(), id, to)
	if err != nil {
		return explain(err)
	}
	if wantJSON() {
		return printJSON(an)
	}
	fmt.Printf("Anomaly %s is now %s\n", an.ID, an.Status)
	return nil
}

func runStatusUpdate(cmd *cobra.Command, args []string) error {
	to, err := domain.ParseRemediationStatus(args[1])
	if err != nil {
		return err
	}
	cfg, s, err := openSession()
	if err != nil {
		return err
	}
	defer s.Close()
	ctrl, closeTrail, err := newController(cfg, s)
	if err != nil {
		return err
	}
	defer closeTrail()

	rem, err := ctrl.UpdateRemediationStatus(cmd.Context(), args[0], to)
	if err != nil {
		return explain(err)
	}
	if wantJSON() {
		return printJSON(rem)
	}
	fmt.Printf("Remediation %s is now %s\n", rem.ID, rem.Status)
	return nil
}

// explain adds operator-facing context to lifecycle errors.
func explain(err error) error {
	var ill *domain.IllegalTransitionError
	switch {
	case errors.As(err, &ill):
		return fmt.Errorf("%w (nothing was sent to the backend)", err)
	case errors.Is(err, lifecycle.ErrNotFound):
		return fmt.Errorf("%w (the backend's current list does not contain it)", err)
	default:
		return err
	}
}
