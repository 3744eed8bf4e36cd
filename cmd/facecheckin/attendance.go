package main

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/MrCodeEU/facecheckin/pkg/attendance"
	"github.com/spf13/cobra"
)

var (
	attendanceDay    string
	attendanceMember string
)

var attendanceCmd = &cobra.Command{
	Use:   "attendance",
	Short: "Show the check-ins of a day",
	Args:  cobra.NoArgs,
	RunE:  runAttendance,
}

func init() {
	attendanceCmd.Flags().StringVar(&attendanceDay, "day", "", "Day as YYYY-MM-DD (default today)")
	attendanceCmd.Flags().StringVar(&attendanceMember, "member", "", "Only report whether this member checked in")
	rootCmd.AddCommand(attendanceCmd)
}

func parseDay(s string) (time.Time, error) {
	if s == "" {
		return time.Now(), nil
	}
	day, err := time.ParseInLocation(attendance.DayLayout, s, time.Local)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid day %q, expected YYYY-MM-DD", s)
	}
	return day, nil
}

func runAttendance(cmd *cobra.Command, args []string) error {
	if !cfg.Attendance.Enabled {
		return errors.New("attendance is disabled in the configuration")
	}
	day, err := parseDay(attendanceDay)
	if err != nil {
		return err
	}

	rec, err := attendance.Open(cfg.Attendance.DatabaseFile)
	if err != nil {
		return err
	}
	defer rec.Close()

	out := cmd.OutOrStdout()
	if attendanceMember != "" {
		ok, err := rec.CheckedIn(cmd.Context(), attendanceMember, day)
		if err != nil {
			return err
		}
		if ok {
			fmt.Fprintf(out, "'%s' checked in on %s.\n", attendanceMember, day.Format(attendance.DayLayout))
		} else {
			fmt.Fprintf(out, "'%s' has not checked in on %s.\n", attendanceMember, day.Format(attendance.DayLayout))
		}
		return nil
	}

	checkIns, err := rec.ForDay(cmd.Context(), day)
	if err != nil {
		return err
	}
	printCheckIns(out, day, checkIns)
	return nil
}

func printCheckIns(w io.Writer, day time.Time, checkIns []attendance.CheckIn) {
	if len(checkIns) == 0 {
		fmt.Fprintf(w, "No check-ins on %s.\n", day.Format(attendance.DayLayout))
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 3, ' ', 0)
	fmt.Fprintln(tw, "TIME\tMEMBER\tSCOPE\tSCORE")
	for _, c := range checkIns {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%.0f\n",
			c.CheckedInAt.Local().Format("15:04:05"), c.MemberID, c.Scope, c.Score)
	}
	tw.Flush()

	fmt.Fprintf(w, "\nTotal: %d check-in(s) on %s\n", len(checkIns), day.Format(attendance.DayLayout))
}
