package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/codewandler/kvrouter/core/cluster"
)

func newShardCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "shard <key>...",
		Short: "Print the region owning each key",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.config()
			if err != nil {
				return err
			}
			n := cfg.Topology().NumRegions()
			for _, key := range args {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%d\n", key, cluster.SlotString(key, n))
			}
			return nil
		},
	}
}

func newRequestCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "request <cmd> <key> [args]...",
		Short: "Send a command to the region owning its key",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, _, err := a.connect(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer closeRouter(r)

			reply, err := r.Request(cmd.Context(), cluster.Command(args))
			if err != nil {
				return err
			}
			printReply(cmd, reply)
			return nil
		},
	}
}

func newRequestAtCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "request-at <region> <cmd> [args]...",
		Short: "Send a command to a region without hashing",
		Args:  cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("region %q: %w", args[0], err)
			}
			r, _, err := a.connect(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer closeRouter(r)

			reply, err := r.RequestAt(cmd.Context(), id, cluster.Command(args[1:]))
			if err != nil {
				return err
			}
			printReply(cmd, reply)
			return nil
		},
	}
}

func newInstanceCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "instance <region>",
		Short: "Print the active instance of a region",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.Atoi(args[0])
			if err != nil {
				return fmt.Errorf("region %q: %w", args[0], err)
			}
			r, _, err := a.connect(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer closeRouter(r)

			ep, err := r.InstanceOf(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), ep)
			return nil
		},
	}
}

func newStatusCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Connect and print the state of every instance",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			r, _, err := a.connect(cmd.Context(), nil)
			if err != nil {
				return err
			}
			defer closeRouter(r)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "REGION\tPRIORITY\tINSTANCE\tCONNECTED\tLAST ATTEMPT")
			for _, rs := range r.Status() {
				for i, is := range rs.Instances {
					last := "-"
					if !is.LastAttempt.IsZero() {
						last = is.LastAttempt.Format(time.RFC3339)
					}
					fmt.Fprintf(w, "%d\t%d\t%s\t%t\t%s\n", rs.Region, i, is.Endpoint, is.Connected, last)
				}
			}
			return w.Flush()
		},
	}
}
