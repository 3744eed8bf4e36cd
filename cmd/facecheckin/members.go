package main

import (
	"errors"
	"fmt"
	"strings"
	"text/tabwriter"

	"github.com/MrCodeEU/facecheckin/pkg/logging"
	"github.com/MrCodeEU/facecheckin/pkg/storage"
	"github.com/spf13/cobra"
)

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List all enrolled members",
	Args:  cobra.NoArgs,
	RunE:  runList,
}

var removeCmd = &cobra.Command{
	Use:   "remove <member-id>",
	Short: "Remove a member's face template",
	Args:  cobra.ExactArgs(1),
	RunE:  runRemove,
}

func init() {
	rootCmd.AddCommand(listCmd, removeCmd)
}

func openStorage() (*storage.FileStorage, error) {
	return storage.NewFileStorage(cfg.Storage.DataDir, cfg.Storage.EncryptionEnabled)
}

func runList(cmd *cobra.Command, args []string) error {
	logging.Debugf("Listing enrolled members")

	store, err := openStorage()
	if err != nil {
		return err
	}

	ids, err := store.ListMembers()
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "No members enrolled.")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 3, ' ', 0)
	fmt.Fprintln(w, "MEMBER\tSCOPES\tSAMPLES\tENROLLED\tUPDATED")
	for _, id := range ids {
		rec, err := store.LoadMember(id)
		if err != nil {
			fmt.Fprintf(w, "%s\t(unreadable: %v)\t\t\t\n", id, err)
			continue
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			rec.MemberID,
			strings.Join(rec.Scopes, ","),
			rec.Template.SampleCount,
			rec.EnrolledAt.Local().Format("2006-01-02 15:04"),
			rec.UpdatedAt.Local().Format("2006-01-02 15:04"))
	}
	w.Flush()

	fmt.Fprintf(cmd.OutOrStdout(), "\nTotal: %d member(s)\n", len(ids))
	return nil
}

func runRemove(cmd *cobra.Command, args []string) error {
	memberID := args[0]

	store, err := openStorage()
	if err != nil {
		return err
	}

	if err := store.DeleteMember(memberID); err != nil {
		if errors.Is(err, storage.ErrMemberNotFound) {
			return fmt.Errorf("member '%s' is not enrolled", memberID)
		}
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Face template for '%s' has been removed.\n", memberID)
	return nil
}
