/*
 *   Copyright 2023 Martin Proffitt <mproffitt@choclab.net>
 *
 *  Licensed under the Apache License, Version 2.0 (the "License");
 *  you may not use this file except in compliance with the License.
 *  You may obtain a copy of the License at
 *
 *      http://www.apache.org/licenses/LICENSE-2.0
 *
 *  Unless required by applicable law or agreed to in writing, software
 *  distributed under the License is distributed on an "AS IS" BASIS,
 *  WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 *  See the License for the specific language governing permissions and
 *  limitations under the License.
 */
package cmd

import (
	"fmt"
	"log"

	"github.com/notapipeline/fvault/pkg/config"
	"github.com/notapipeline/fvault/pkg/logging"
	"github.com/notapipeline/fvault/pkg/server"
	"github.com/notapipeline/fvault/pkg/types"
	"github.com/spf13/cobra"
)

var clientCmd types.ClientCmd = types.ClientCmd{}

var cfgFile string

var fatal func(format string, v ...interface{}) = func(format string, v ...interface{}) {
	log.Fatalf(format, v...)
}

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "fvault",
	Short: "End to end encrypted file vault",
	Long: `
fvault stores files on a server that never sees them in the clear.

Every file is encrypted on this machine under its own content key. The
content key is wrapped with a master key that only your password can
unlock. Files can be handed to another account without re-encrypting
them, only the content key is re-wrapped for the recipient.

The server address, port and email are read from
$HOME/.config/fvault/client.yaml, the FV_ environment variables and the
flags below, in that order.`,
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if cfgFile != "" {
			var path string = cfgFile
			config.ConfigPath = func(m config.ConfigMode) string {
				return path
			}
		}
		logging.SetDefault(logging.New(cmd.ErrOrStderr(), logging.Levels(clientCmd.Debug, clientCmd.Quiet)))
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

// Execute adds all child commands to the root command and sets flags appropriately.
// This is called by main.main(). It only needs to happen once to the rootCmd.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fatal("Error: %s", err)
	}
}

func init() {
	// These are consistent across all commands
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is $HOME/.config/fvault/client.yaml)")
	rootCmd.PersistentFlags().StringVar(&clientCmd.Server, "server", "", "address of the server (default localhost)")
	rootCmd.PersistentFlags().IntVar(&clientCmd.Port, "port", 0, "port of the server (default 6278)")
	rootCmd.PersistentFlags().StringVarP(&clientCmd.Email, "email", "e", "", "email of the account")
	rootCmd.PersistentFlags().BoolVar(&clientCmd.SkipVerify, "skip-verify", false, "skip verification of the server certificate")
	rootCmd.PersistentFlags().BoolVar(&clientCmd.Insecure, "insecure", false, "talk plain http to the server")
	rootCmd.PersistentFlags().BoolVar(&clientCmd.Debug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&clientCmd.Quiet, "quiet", false, "disable all logging")
}

func loadClientConfig() (c *config.Config, err error) {
	c = config.New()
	if err = c.Load(config.ConfigModeClient); err != nil {
		return nil, fmt.Errorf("invalid config file: %w", err)
	}
	c.MergeClientConfig(clientCmd)

	if c.Address == "" {
		c.Address = "localhost"
	}

	if c.Port == 0 {
		c.Port = server.DefaultPort
	}
	return
}
