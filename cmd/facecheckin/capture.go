package main

import (
	"errors"
	"fmt"

	"github.com/MrCodeEU/facecheckin/pkg/capture"
	"github.com/MrCodeEU/facecheckin/pkg/logging"
	"github.com/spf13/cobra"
)

var (
	captureProfile string
	enrollScopes   []string
	verifyScope    string
	replayLoop     bool
)

var enrollCmd = &cobra.Command{
	Use:   "enroll <member-id>",
	Short: "Capture a member's face and store the template",
	Long: `Capture a member's face and store the template.

Look at the camera in good lighting. Several captures are taken once the face
is centered; a prior template of the member is replaced.`,
	Args: cobra.ExactArgs(1),
	RunE: runEnroll,
}

var verifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Recognize members in front of the camera until interrupted",
	Args:  cobra.NoArgs,
	RunE:  runVerify,
}

func init() {
	for _, c := range []*cobra.Command{enrollCmd, verifyCmd} {
		c.Flags().StringVar(&captureProfile, "profile", "", "Capture profile (attendance or profile)")
		c.Flags().BoolVar(&replayLoop, "loop", false, "Restart a replay source when it runs out of frames")
	}
	enrollCmd.Flags().StringSliceVar(&enrollScopes, "scope", nil, "Scopes the member belongs to (repeatable)")
	verifyCmd.Flags().StringVar(&verifyScope, "scope", "", "Only match members of this scope")

	rootCmd.AddCommand(enrollCmd, verifyCmd)
}

func runEnroll(cmd *cobra.Command, args []string) error {
	memberID := args[0]

	a, err := newApp(cfg, captureProfile, replayLoop)
	if err != nil {
		return err
	}
	defer a.Close()
	a.orch.AddObserver(consoleObserver{w: cmd.OutOrStdout()})

	logging.Infof("Starting enrollment for member: %s", memberID)
	fmt.Fprintf(cmd.OutOrStdout(), "Starting enrollment for '%s'...\n", memberID)

	tmpl, err := a.orch.Enroll(cmd.Context(), memberID)
	if err != nil {
		var serr *capture.SessionError
		if errors.As(err, &serr) {
			if serr.Code == capture.ErrCodeCancelled {
				fmt.Fprintln(cmd.OutOrStdout(), "Enrollment cancelled.")
				return nil
			}
			if serr.Retry {
				fmt.Fprintln(cmd.ErrOrStderr(), "Please try again.")
			}
		}
		return err
	}

	if len(enrollScopes) > 0 {
		if err := a.store.SetScopes(memberID, enrollScopes); err != nil {
			return fmt.Errorf("failed to set scopes: %w", err)
		}
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Enrolled '%s' from %d captures.\n", memberID, tmpl.SampleCount)
	return nil
}

func runVerify(cmd *cobra.Command, args []string) error {
	a, err := newApp(cfg, captureProfile, replayLoop)
	if err != nil {
		return err
	}
	defer a.Close()
	a.orch.AddObserver(consoleObserver{w: cmd.OutOrStdout()})

	if err := a.orch.Verify(cmd.Context(), verifyScope); err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), "Verification stopped.")
	return nil
}
