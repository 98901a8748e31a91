package cmd

import (
	"fmt"
	"io"
	"sort"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/vcsnet/netsync/common/types"
	"github.com/vcsnet/netsync/netsync"
	"github.com/vcsnet/netsync/node"
)

func syncCmd(vip *viper.Viper, use, short, role string) *cobra.Command {
	var (
		exclude    string
		dryRun     bool
		keysToPush []string
	)
	cmd := &cobra.Command{
		Use:   use + " <address> [include...]",
		Short: short,
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := node.ParseRole(role)
			if err != nil {
				return err
			}
			n, err := openNode(vip)
			if err != nil {
				return err
			}
			defer n.Close()
			var opts []netsync.Opt
			if dryRun {
				opts = append(opts, netsync.WithDryRun())
			}
			if len(keysToPush) > 0 {
				opt, err := n.PushKeys(keysToPush...)
				if err != nil {
					return err
				}
				opts = append(opts, opt)
			}
			res, err := n.Sync(cmd.Context(), args[0], r, node.Include(args[1:]), exclude, opts...)
			if res != nil {
				printResult(cmd.OutOrStdout(), res)
			}
			if err != nil {
				return err
			}
			if !res.OK() {
				return fmt.Errorf("%s with %s failed: %s: %w", use, res.Peer, res.Code, res.Err)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&exclude, "exclude", "x", "", "branches matching this pattern are not synchronized")
	cmd.Flags().BoolVarP(&dryRun, "dry-run", "n", false, "only report what would be transferred")
	cmd.Flags().StringSliceVar(&keysToPush, "key-to-push", nil, "also offer these identities to the peer")
	return cmd
}

func printResult(w io.Writer, res *netsync.Result) {
	if est := res.DryRun; est != nil {
		for _, t := range []types.ItemType{types.RevisionItem, types.CertItem, types.KeyItem} {
			more := ""
			if t == types.KeyItem && est.MoreKeys {
				more = " or more"
			}
			fmt.Fprintf(w, "would receive %d%s %ss, send %d\n", est.In[t], more, t, est.Out[t])
		}
		return
	}
	fmt.Fprintf(w, "bytes in %d, bytes out %d\n", res.BytesIn, res.BytesOut)
	for _, t := range []types.ItemType{types.RevisionItem, types.CertItem, types.KeyItem, types.FileItem} {
		if res.In[t] == 0 && res.Out[t] == 0 {
			continue
		}
		fmt.Fprintf(w, "%ss in %d, out %d\n", t, res.In[t], res.Out[t])
	}
	revs := make([]string, 0, len(res.Received[types.RevisionItem]))
	for _, id := range res.Received[types.RevisionItem] {
		revs = append(revs, id.String())
	}
	sort.Strings(revs)
	for _, rev := range revs {
		fmt.Fprintln(w, "received revision", rev)
	}
}
