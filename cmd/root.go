// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// Version is the sqlcheck worker version.
var Version = "development"

func init() {
	viper.SetEnvPrefix("SQLCHECK")
	viper.AutomaticEnv()
}

var rootCmd = &cobra.Command{
	Use:          "sqlcheck",
	SilenceUsage: true,
	Version:      Version,
}

// Execute executes the root command.
func Execute() error {
	rootCmd.AddCommand(serveCmd())

	return rootCmd.Execute()
}
