package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hazyhaar/audasnap/harvest"
	"github.com/hazyhaar/audasnap/session"
)

func extractCmd(opts *rootOptions) *cobra.Command {
	var username, claim, vin string

	cmd := &cobra.Command{
		Use:   "extract",
		Short: "Run one extraction and print the archived record",
		Long: `Logs in, opens the claim by claim number (falling back to the VIN), captures
its damage zones and archives them. The password is read from AUDASNAP_PASSWORD
or from the first line of stdin.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := opts.load(os.Stderr)
			if err != nil {
				return err
			}
			if username == "" {
				username = os.Getenv("AUDASNAP_USERNAME")
			}
			password, err := readPassword()
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			h, err := a.harvester(context.Background())
			if err != nil {
				return err
			}
			defer h.Close()

			res, err := h.Extract(ctx, harvest.Request{
				Credentials: session.Credentials{Username: username, Password: password},
				ClaimNumber: claim,
				VIN:         vin,
			})
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(res.Record)
		},
	}

	cmd.Flags().StringVar(&username, "username", "", "vendor account username (default $AUDASNAP_USERNAME)")
	cmd.Flags().StringVar(&claim, "claim", "", "claim number")
	cmd.Flags().StringVar(&vin, "vin", "", "vehicle identification number")
	return cmd
}
