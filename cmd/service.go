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
	"os"
	"path/filepath"

	"github.com/notapipeline/fvault/pkg/logging"
	"github.com/notapipeline/fvault/pkg/unix"
	"github.com/spf13/cobra"
)

var appName string

// These are referenced as variables to enable them to be mocked in tests
var (
	installService = unix.InstallService
	removeService  = unix.RemoveService
	startService   = unix.StartService
	stopService    = unix.StopService
	serviceStatus  = unix.ServiceStatus
)

// serviceCmd represents the service command
var serviceCmd = &cobra.Command{
	Use:   "service",
	Short: "Manage the storage server as a systemd user service",
	Long: `Installs, removes and controls a systemd user unit running
'fvault serve'. The unit reads the same server.yaml as the serve command so
configure the whitelist or TLS there before starting it.`,
}

var startCommand = &cobra.Command{
	Use:   "start",
	Short: "Start the fvault server unit",
	RunE: func(cmd *cobra.Command, args []string) error {
		logging.Info(cmd.Context(), "starting service", "name", appName)
		return startService(cmd.Context(), appName)
	},
}

var stopCommand = &cobra.Command{
	Use:   "stop",
	Short: "Stop the fvault server unit",
	RunE: func(cmd *cobra.Command, args []string) error {
		logging.Info(cmd.Context(), "stopping service", "name", appName)
		return stopService(cmd.Context(), appName)
	},
}

var restartCommand = &cobra.Command{
	Use:   "restart",
	Short: "Stop and start the fvault server unit",
	Long: `Stops the unit and starts it again, for example after changing
server.yaml. Nothing is started if the stop fails.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := stopService(cmd.Context(), appName); err != nil {
			return err
		}
		return startService(cmd.Context(), appName)
	},
}

var statusCommand = &cobra.Command{
	Use:   "status",
	Short: "Print the active state of the fvault server unit",
	RunE: func(cmd *cobra.Command, args []string) error {
		status, err := serviceStatus(cmd.Context(), appName)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), status)
		return nil
	},
}

var installServiceCommand = &cobra.Command{
	Use:   "install",
	Short: "Install the fvault server as a systemd user unit",
	Long:  `Writes the user unit file, enables it and reloads systemd`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logging.Info(cmd.Context(), "installing service", "name", appName)
		return installService(cmd.Context(), appName)
	},
}

var removeServiceCommand = &cobra.Command{
	Use:   "remove",
	Short: "Remove the fvault server unit",
	Long:  `Stops and disables the service before removing its unit file`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logging.Info(cmd.Context(), "removing service", "name", appName)
		return removeService(cmd.Context(), appName)
	},
}

func init() {
	appName = filepath.Base(os.Args[0])
	rootCmd.AddCommand(serviceCmd)
	serviceCmd.AddCommand(startCommand)
	serviceCmd.AddCommand(stopCommand)
	serviceCmd.AddCommand(restartCommand)
	serviceCmd.AddCommand(statusCommand)
	serviceCmd.AddCommand(installServiceCommand)
	serviceCmd.AddCommand(removeServiceCommand)
}
