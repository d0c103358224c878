package main

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/ribelo/prism-sub000/app"
	"github.com/ribelo/prism-sub000/config"
	"github.com/ribelo/prism-sub000/services/routing"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

func newRouteCmd() *cobra.Command {
	var (
		vendor string
		caps   []string
	)
	cmd := &cobra.Command{
		Use:   "route <model>",
		Short: "Print the routing decisions for a model identifier",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New(cmd.Context())
			if err != nil {
				return err
			}
			_, router := app.NewRouter(cfg, zap.NewNop())

			req := &routing.RouteRequest{Model: args[0], VendorHint: vendor}
			for _, c := range caps {
				req.Capabilities = append(req.Capabilities, routing.Capability(strings.TrimSpace(c)))
			}

			decisions, err := router.Route(cmd.Context(), req)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(decisions)
		},
	}
	cmd.Flags().StringVar(&vendor, "vendor", "", "vendor hint, as sent in the X-Provider header")
	cmd.Flags().StringSliceVar(&caps, "cap", nil, "required capability (streaming, tools, vision, thinking); repeatable")
	return cmd
}

func newResolveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resolve <alias>",
		Short: "Print the targets an alias expands to",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.New(cmd.Context())
			if err != nil {
				return err
			}
			table, _ := app.NewRouter(cfg, zap.NewNop())

			if _, ok := table.Lookup(args[0]); !ok {
				fmt.Fprintf(cmd.ErrOrStderr(), "%s is not an alias\n", args[0])
			}
			for _, target := range table.Resolve(args[0]) {
				fmt.Fprintln(cmd.OutOrStdout(), target)
			}
			return nil
		},
	}
}
