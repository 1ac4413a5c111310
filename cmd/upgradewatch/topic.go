package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"upgradeWatch/internal/detector"
)

func newTopicCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "topic [signature...]",
		Short: "Print the topic0 of event signatures",
		Args:  cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				args = []string{detector.DefaultSignature}
			}
			for _, sig := range args {
				fmt.Fprintf(cmd.OutOrStdout(), "%s %s\n", detector.ComputeTopicID(sig), sig)
			}
			return nil
		},
	}
}
