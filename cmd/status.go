package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the stored device credential",
	RunE:  runStatusCommand,
}

var statusJSON bool

func init() {
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print status as JSON")

	rootCmd.AddCommand(statusCmd)
}

type credentialStatus struct {
	Valid       bool      `json:"valid"`
	Stale       bool      `json:"stale"`
	DeviceID    string    `json:"deviceId,omitempty"`
	VersionInfo string    `json:"versionInfo,omitempty"`
	LastCheckin time.Time `json:"lastCheckin,omitempty"`
	ClientID    string    `json:"clientId"`
}

func runStatusCommand(cmd *cobra.Command, args []string) error {
	cfg, _, err := setup()
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
	clientID, err := resolveClientID(ctx, cfg, store)
	if err != nil {
		return err
	}

	status := credentialStatus{
		Valid:       cred.Valid(),
		Stale:       cred.Stale(time.Now(), cfg.CheckinIntervalDuration()),
		DeviceID:    cred.DeviceID,
		VersionInfo: cred.VersionInfo,
		LastCheckin: cred.LastCheckin(),
		ClientID:    clientID,
	}

	if statusJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(status)
	}

	if !status.Valid {
		fmt.Println("Device is not checked in.")
		fmt.Printf("Client ID: %s\n", status.ClientID)
		return nil
	}

	fmt.Printf("Device ID: %s\n", status.DeviceID)
	fmt.Printf("Client ID: %s\n", status.ClientID)
	if status.VersionInfo != "" {
		fmt.Printf("Version info: %s\n", status.VersionInfo)
	}
	if !status.LastCheckin.IsZero() {
		fmt.Printf("Last checkin: %s\n", status.LastCheckin.Format(time.RFC3339))
	}
	if status.Stale {
		fmt.Println("Credential is stale and will be refreshed by the agent.")
	}

	return nil
}
