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
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/notapipeline/fvault/pkg/logging"
	"github.com/notapipeline/fvault/pkg/server"
	"github.com/notapipeline/fvault/pkg/types"
	"github.com/spf13/cobra"
)

var serve types.ServeCmd = types.ServeCmd{}

var newServer func() listenAndServer = func() listenAndServer {
	return server.NewHttpServer()
}

type listenAndServer interface {
	ListenAndServe(ctx context.Context, cmdConfig types.ServeCmd) error
}

// serveCmd represents the serve command
var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Runs the fvault storage server",
	Long: `The serve command starts the storage server used by fvault clients.

The server only ever holds ciphertext, wrapped keys and a hash of each
account's authentication hash. Accounts, files and sessions are kept in a
bbolt database, by default next to the server config at
~/.config/fvault/fvault.db.

The server can be configured to only respond to requests from a whitelist
of IP addresses. The whitelist can be specified as a comma-separated list
of IP addresses or CIDR blocks using the --whitelist flag. A server without
TLS refuses to start unless a whitelist is given.

The server can be configured to use TLS. The certificate and key are
specified using the --cert and --key flags.

If no port is specified, the server will listen on port 6278.

Settings are read from ~/.config/fvault/server.yaml and the FV_ environment
variables before the flags are applied.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		serve.Merge(&clientCmd)

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		ctx = logging.WithLogger(ctx, logging.Default())
		return newServer().ListenAndServe(ctx, serve)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringSliceVarP(&serve.Whitelist, "whitelist", "w", []string{}, "Comma-separated list of IP addresses or CIDR blocks to whitelist")
	serveCmd.Flags().StringVarP(&serve.Cert, "cert", "c", "", "Path to TLS certificate")
	serveCmd.Flags().StringVarP(&serve.Key, "key", "k", "", "Path to TLS key")
	serveCmd.Flags().IntVarP(&serve.Port, "listen", "l", 0, "Port to listen on (default 6278)")
	serveCmd.Flags().StringVarP(&serve.Database, "database", "d", "", "Path to the bbolt database")
	serveCmd.Flags().Int64Var(&serve.MaxUpload, "max-upload", 0, "Largest accepted file in bytes (default 100MiB)")
}
