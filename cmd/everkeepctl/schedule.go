package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	scheduleCmd := &cobra.Command{Use: "schedule", Short: "Schedule entry operations"}

	showCmd := &cobra.Command{
		Use:   "show MESSAGE_ID",
		Short: "Show the reminder plan for a message",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := doGet(fmt.Sprintf("%s/api/messages/%s/schedule", apiFlag, args[0]))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	scheduleCmd.AddCommand(showCmd)

	var status string
	var limit int
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List schedule entries by status",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := doGet(fmt.Sprintf("%s/api/schedule/entries?status=%s&limit=%d", apiFlag, status, limit))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	listCmd.Flags().StringVarP(&status, "status", "s", "failed", "Entry status to list")
	listCmd.Flags().IntVarP(&limit, "limit", "l", 50, "Maximum rows")
	scheduleCmd.AddCommand(listCmd)

	requeueCmd := &cobra.Command{
		Use:   "requeue ENTRY_ID",
		Short: "Requeue a failed entry for another attempt",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := doPostJSON(fmt.Sprintf("%s/api/schedule/entries/%s/requeue", apiFlag, args[0]), nil)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	scheduleCmd.AddCommand(requeueCmd)

	rootCmd.AddCommand(scheduleCmd)

	recoveryCmd := &cobra.Command{Use: "recovery", Short: "Recovery operations"}
	recoveryCmd.AddCommand(&cobra.Command{
		Use:   "run",
		Short: "Trigger an immediate recovery sweep",
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := doPostJSON(fmt.Sprintf("%s/api/recovery/run", apiFlag), nil)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	})
	rootCmd.AddCommand(recoveryCmd)
}
