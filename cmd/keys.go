package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vcsnet/netsync/config"
	"github.com/vcsnet/netsync/node"
)

func genkeyCmd(vip *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "genkey <name>",
		Short: "generate a named identity",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := config.Load(vip)
			if err != nil {
				return err
			}
			signer, err := node.New(*conf).GenerateKey(args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", signer.KeyID(), signer.Name())
			return nil
		},
	}
}

func keysCmd(vip *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "list identities",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := config.Load(vip)
			if err != nil {
				return err
			}
			names, err := node.New(*conf).Keys()
			if err != nil {
				return err
			}
			for _, name := range names {
				fmt.Fprintln(cmd.OutOrStdout(), name)
			}
			return nil
		},
	}
}
