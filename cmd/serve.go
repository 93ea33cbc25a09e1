// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sqlcheck/sqlcheck/internal/wlog"
	"github.com/sqlcheck/sqlcheck/internal/worker"
)

// serveCmd starts the worker session described in §4.9: one process, one
// request channel, reading length-prefixed JSON frames from stdin and
// writing responses to stdout (§6 "Request channel").
func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start a worker session reading requests from stdin",
		RunE: func(cmd *cobra.Command, args []string) error {
			log := wlog.New()

			ctx, cancel := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer cancel()

			sess := worker.NewSession(log)
			return worker.Run(ctx, sess, os.Stdin, os.Stdout, log)
		},
	}

	return cmd
}
