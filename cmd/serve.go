package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vcsnet/netsync/config"
)

func serveCmd(vip *viper.Viper) *cobra.Command {
	defaults := config.DefaultConfig()
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "accept sessions from peers until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := openNode(vip)
			if err != nil {
				return err
			}
			defer n.Close()
			return n.ListenAndServe(cmd.Context())
		},
	}
	cmd.Flags().String("bind", defaults.Serve.Bind, "address to listen on")
	cmd.Flags().String("role", defaults.Serve.Role, "what peers may do: source, sink or source-and-sink")
	bind(vip, cmd.Flags(), "serve.bind", "bind")
	bind(vip, cmd.Flags(), "serve.role", "role")
	return cmd
}
