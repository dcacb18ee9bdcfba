package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func init() {
	conditionsCmd := &cobra.Command{Use: "conditions", Short: "Condition operations"}

	// create
	var messageID, ownerID, kind, triggerDate string
	var hours, minutes int
	var leads []int
	var recipients []string
	var keepArmed bool
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a condition for a message",
		RunE: func(cmd *cobra.Command, args []string) error {
			if messageID == "" || ownerID == "" || kind == "" {
				return fmt.Errorf("--message, --owner and --kind required")
			}
			payload := map[string]interface{}{
				"messageId":  messageID,
				"ownerId":    ownerID,
				"kind":       kind,
				"recipients": recipients,
				"keepArmed":  keepArmed,
			}
			if cmd.Flags().Changed("hours") {
				payload["hoursThreshold"] = hours
			}
			if cmd.Flags().Changed("minutes") {
				payload["minutesThreshold"] = minutes
			}
			if triggerDate != "" {
				payload["triggerDate"] = triggerDate
			}
			if len(leads) > 0 {
				payload["reminderLeadTimes"] = leads
			}
			data, err := doPostJSON(fmt.Sprintf("%s/api/conditions", apiFlag), payload)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	createCmd.Flags().StringVarP(&messageID, "message", "m", "", "Message ID (required)")
	createCmd.Flags().StringVarP(&ownerID, "owner", "o", "", "Owner ID (required)")
	createCmd.Flags().StringVarP(&kind, "kind", "k", "", "Trigger kind (required)")
	createCmd.Flags().IntVar(&hours, "hours", 0, "Hours threshold for check-in kinds")
	createCmd.Flags().IntVar(&minutes, "minutes", 0, "Minutes threshold for check-in kinds")
	createCmd.Flags().StringVar(&triggerDate, "trigger-date", "", "RFC3339 deadline for scheduled kind")
	createCmd.Flags().IntSliceVar(&leads, "lead", nil, "Reminder lead times in minutes (repeatable)")
	createCmd.Flags().StringSliceVarP(&recipients, "recipient", "r", nil, "Recipient reference (repeatable)")
	createCmd.Flags().BoolVar(&keepArmed, "keep-armed", false, "Panic kind stays armed after firing")
	conditionsCmd.AddCommand(createCmd)

	// get
	getCmd := &cobra.Command{
		Use:   "get CONDITION_ID",
		Short: "Get condition by ID",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := doGet(fmt.Sprintf("%s/api/conditions/%s", apiFlag, args[0]))
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(os.Stdout, string(data))
			return nil
		},
	}
	conditionsCmd.AddCommand(getCmd)

	// lifecycle verbs share a shape
	for _, verb := range []struct{ use, short, path string }{
		{"arm CONDITION_ID", "Arm a condition and install its reminder plan", "arm"},
		{"disarm CONDITION_ID", "Disarm a condition and retire its schedule", "disarm"},
		{"checkin CONDITION_ID", "Record an owner check-in", "checkin"},
		{"panic CONDITION_ID", "Fire a panic condition immediately", "panic"},
	} {
		v := verb
		conditionsCmd.AddCommand(&cobra.Command{
			Use:   v.use,
			Short: v.short,
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				data, err := doPostJSON(fmt.Sprintf("%s/api/conditions/%s/%s", apiFlag, args[0], v.path), nil)
				if err != nil {
					return err
				}
				_, _ = fmt.Fprintln(os.Stdout, string(data))
				return nil
			},
		})
	}

	rootCmd.AddCommand(conditionsCmd)
}
