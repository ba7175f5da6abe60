package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Delete the stored device credential",
	Long: `Remove the stored device credential. The next checkin registers the
device from scratch. The client ID is kept.`,
	RunE: runResetCommand,
}

var force bool

func init() {
	resetCmd.Flags().BoolVar(&force, "force", false, "Reset without confirmation")

	rootCmd.AddCommand(resetCmd)
}

func runResetCommand(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	db, store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	ctx := cmd.Context()
	cred, err := store.Load(ctx)
	if err != nil {
		return err
	}

	if !cred.Valid() {
		fmt.Println("No device credential is stored.")
		return nil
	}

	// Confirm reset unless force flag is used
	if !force {
		fmt.Printf("This will delete the credential of device '%s'.\n", cred.DeviceID)
		fmt.Printf("Are you sure you want to continue? (y/N): ")

		var response string
		fmt.Scanln(&response)

		if response != "y" && response != "Y" && response != "yes" && response != "Yes" {
			fmt.Println("Reset cancelled.")
			return nil
		}
	}

	if err := store.Delete(ctx); err != nil {
		return fmt.Errorf("reset failed: %w", err)
	}

	logger.WithField("device_id", cred.DeviceID).Info("Stored device credential deleted")

	fmt.Println("✓ Device credential deleted.")
	fmt.Println("Run 'checkin' or start the agent to register the device again.")

	return nil
}
