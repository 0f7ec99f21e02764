package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

func newStatsCmd(opts *rootOptions) *cobra.Command {
	var auditN int
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Print user and catalog counts and recent curator actions",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			st, err := openStore(ctx, opts)
			if err != nil {
				return err
			}
			defer st.Close()

			users, err := st.CountUsers(ctx)
			if err != nil {
				return err
			}
			items, err := st.CountItems(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "users: %d\ncatalog items: %d\n", users, items)

			if auditN <= 0 {
				return nil
			}
			entries, err := st.RecentAudit(ctx, auditN)
			if err != nil {
				return err
			}
			fmt.Fprintln(out, "recent actions:")
			for _, e := range entries {
				fmt.Fprintf(out, "  %s %-20s actor=%d target=%s ok=%d fail=%d", e.At.Format(time.DateTime), e.Action, e.ActorID, e.Target, e.OK, e.Fail)
				if e.Error != "" {
					fmt.Fprintf(out, " err=%s", e.Error)
				}
				fmt.Fprintln(out)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&auditN, "audit", 10, "recent audit entries to show (0 to skip)")
	return cmd
}
