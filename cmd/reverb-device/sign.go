package main

import (
	"fmt"

	reverb "github.com/minicodemonkey/reverb-go"
	"github.com/spf13/cobra"
)

// newSignCmd returns an operator utility for generating the same
// private-channel admission token a broadcasting-auth HTTP endpoint would
// produce — handy for testing a channel's auth independently of a running
// listener. It signs "socket_id:channel" only; presence-channel tokens,
// which also sign channel_data, are not produced.
func newSignCmd() *cobra.Command {
	var appKey, appSecret, socketID, channel string

	cmd := &cobra.Command{
		Use:   "sign",
		Short: "Print the admission token for a private channel",
		RunE: func(cmd *cobra.Command, args []string) error {
			auth, err := reverb.SignPrivateChannel(appKey, appSecret, socketID, channel)
			if err != nil {
				return err
			}
			fmt.Println(auth)
			return nil
		},
	}

	cmd.Flags().StringVar(&appKey, "app-key", "", "Reverb app key")
	cmd.Flags().StringVar(&appSecret, "app-secret", "", "Reverb app secret")
	cmd.Flags().StringVar(&socketID, "socket-id", "", "socket_id to sign for")
	cmd.Flags().StringVar(&channel, "channel", "", "channel name to sign for")
	cmd.MarkFlagRequired("app-key")
	cmd.MarkFlagRequired("app-secret")
	cmd.MarkFlagRequired("socket-id")
	cmd.MarkFlagRequired("channel")

	return cmd
}
