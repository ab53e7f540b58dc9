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

	"github.com/notapipeline/fvault/pkg/crypto"
	"github.com/notapipeline/fvault/pkg/tools"
	"github.com/spf13/cobra"
)

var accountName string

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create a new account",
	Long: `Creates an account on the server.

A random master key and an X25519 key pair are generated on this machine.
Only the master key wrapped under your password, the private key wrapped
under the master key and a hash of a key derived from your password are
sent to the server.

The password is taken from FV_PASSWORD or your secrets store if set,
otherwise you are asked for it twice.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadClientConfig()
		if err != nil {
			return err
		}

		v, err := newVault(c)
		if err != nil {
			return err
		}

		email, err := tools.GetEmail(clientCmd.Email, c.Email)
		if err != nil {
			return err
		}

		password, err := newPassword(fmt.Sprintf("Please choose a password for %s.", email))
		if err != nil {
			return err
		}
		defer crypto.Wipe(password)

		s, err := v.Register(cmd.Context(), email, accountName, password)
		if err != nil {
			return fmt.Errorf("registration failed: %w", err)
		}
		defer v.Logout(cmd.Context())

		fmt.Fprintf(cmd.OutOrStdout(), "registered %s\nfingerprint %s\n", s.Email, s.Fingerprint())
		return nil
	},
}

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Check your credentials",
	Long: `Logs in, unlocks the account keys and prints the fingerprint of your
public key. Compare it with the fingerprint a sender sees before they
transfer files to you.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, _, done, err := login(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		s, _ := v.Sessions().Current()
		fmt.Fprintf(cmd.OutOrStdout(), "logged in as %s\nfingerprint %s\n", s.Email, s.Fingerprint())
		return nil
	},
}

var passwdCmd = &cobra.Command{
	Use:   "passwd",
	Short: "Change your password",
	Long: `Changes the account password.

The master key is re-wrapped under the new password. Files, transfers and
your key pair are untouched.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, current, done, err := login(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		password, err := confirmPassword("Please enter the new password.")
		if err != nil {
			return err
		}
		defer crypto.Wipe(password)

		if err = v.ChangePassword(cmd.Context(), current, password); err != nil {
			return fmt.Errorf("password change failed: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "password changed")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(registerCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(passwdCmd)

	registerCmd.Flags().StringVarP(&accountName, "name", "n", "", "display name of the account")
}
