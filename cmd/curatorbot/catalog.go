package main

import (
	"errors"
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"curatorbot/internal/catalog"
	kit "curatorbot/internal/transport"
	logx "curatorbot/pkg/logx"
)

func newCatalogCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "catalog",
		Short: "Inspect and edit the content catalog",
	}
	cmd.AddCommand(newCatalogAddCmd(opts), newCatalogListCmd(opts), newCatalogCountCmd(opts))
	return cmd
}

func newCatalogAddCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "add -- <chat_id:msg_id|t.me/c link>...",
		Short: "Add items to the catalog",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer st.Close()
			m := catalog.New(st, logx.Nop(), catalog.Options{})

			out := cmd.OutOrStdout()
			var failed int
			for _, raw := range args {
				ref, err := kit.ParseItemRef(raw)
				if err == nil && !ref.Resolved() {
					err = errors.New("username links need a running bot; use chat_id:msg_id")
				}
				if err != nil {
					failed++
					fmt.Fprintf(out, "skip %s: %v\n", raw, err)
					continue
				}
				it, created, err := m.AddItem(cmd.Context(), ref.String())
				if err != nil {
					return err
				}
				state := "added"
				if !created {
					state = "exists"
				}
				fmt.Fprintf(out, "%s %s (id %d)\n", state, it.Ref, it.ID)
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d refs not added", failed, len(args))
			}
			return nil
		},
	}
}

func newCatalogListCmd(opts *rootOptions) *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalog items, oldest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := openStore(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer st.Close()
			items, err := catalog.New(st, logx.Nop(), catalog.Options{}).List(cmd.Context(), limit, offset)
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tREF\tADDED\tFAILURES")
			for _, it := range items {
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\n", it.ID, it.Ref, it.AddedAt.Format(time.RFC3339), it.DeliveryFailures)
			}
			return w.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "max items to print")
	cmd.Flags().IntVar(&offset, "offset", 0, "items to skip")
	return cmd
}

func newCatalogCountCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the number of catalog items",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := openStore(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer st.Close()
			n, err := st.CountItems(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), n)
			return nil
		},
	}
}
