package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"device-checkin/internal/checkin"
	"device-checkin/internal/metrics"
)

var checkinCmd = &cobra.Command{
	Use:   "checkin",
	Short: "Check this device in once and print the result",
	Long: `Perform one checkin with the registration service, store the issued
credential and print the device ID. A stored credential is sent along
so the service can renew it.`,
	RunE: runCheckinCommand,
}

var checkinTimeout time.Duration

func init() {
	checkinCmd.Flags().DurationVar(&checkinTimeout, "timeout", 2*time.Minute, "how long to wait for the checkin")

	rootCmd.AddCommand(checkinCmd)
}

func runCheckinCommand(cmd *cobra.Command, args []string) error {
	cfg, logger, err := setup()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), checkinTimeout)
	defer cancel()

	db, store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	orchestrator, err := newOrchestrator(ctx, cfg, logger, store, metrics.NoopRecorder{})
	if err != nil {
		return err
	}

	type outcome struct {
		cred *checkin.Credential
		err  error
	}
	done := make(chan outcome, 1)
	orchestrator.FetchCredential(func(cred *checkin.Credential, err error) {
		done <- outcome{cred: cred, err: err}
	})

	select {
	case <-ctx.Done():
		return fmt.Errorf("checkin did not complete: %w", ctx.Err())
	case res := <-done:
		if res.err != nil {
			return fmt.Errorf("checkin failed: %w", res.err)
		}
		fmt.Println("✓ Checkin successful!")
		fmt.Printf("Device ID: %s\n", res.cred.DeviceID)
		if res.cred.VersionInfo != "" {
			fmt.Printf("Version info: %s\n", res.cred.VersionInfo)
		}
		fmt.Printf("Checked in at: %s\n", res.cred.LastCheckin().Format(time.RFC3339))
		return nil
	}
}
