package main

import (
	"github.com/spf13/cobra"
)

func newDeviceCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "device",
		Short: "Print the device and session identifiers",
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, infra, _, err := openSession(cmd.Context(), opts, nil)
			if err != nil {
				return err
			}
			defer sess.Close()

			deviceID, err := sess.Identity.DeviceID(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), map[string]any{
				"deviceId":    deviceID,
				"sessionId":   sess.ID,
				"activeCount": sess.Orders.ActiveCount(),
				"storesReady": infra.Ping(cmd.Context()) == nil,
			})
		},
	}
}
