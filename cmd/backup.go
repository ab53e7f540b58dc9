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
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/ProtonMail/go-crypto/openpgp/armor"
	"github.com/notapipeline/fvault/pkg/crypto"
	"github.com/notapipeline/fvault/pkg/session"
	"github.com/notapipeline/fvault/pkg/tools"
	"github.com/notapipeline/fvault/pkg/vault"
	"github.com/spf13/cobra"
)

const backupBlockType = "FVAULT CREDENTIAL BACKUP"

var backupOutput string

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Export or check an offline copy of your wrapped master key",
	Long: `A backup holds the master key wrapped under your password together with
the salts and key derivation parameters needed to unwrap it. It contains no
secret in the clear but should still be stored somewhere safe.`,
}

var backupExportCmd = &cobra.Command{
	Use:   "export",
	Short: "Write an ASCII armoured credential backup",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, password, done, err := login(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		backup, err := v.Backup(cmd.Context(), password)
		if err != nil {
			return err
		}

		var out io.Writer = cmd.OutOrStdout()
		if backupOutput != "" && backupOutput != "-" {
			f, err := os.OpenFile(backupOutput, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
			if err != nil {
				return err
			}
			defer f.Close()
			out = f
		}
		return encodeBackup(out, backup)
	},
}

var backupVerifyCmd = &cobra.Command{
	Use:   "verify <file>",
	Short: "Check that your password opens a backup",
	Long: `Unwraps the master key held by a backup with the password you give.
Nothing is sent to the server.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		f, err := os.Open(args[0])
		if err != nil {
			return err
		}
		defer f.Close()

		backup, err := decodeBackup(f)
		if err != nil {
			return err
		}

		password, err := tools.GetAccountPassword(backup.Email, fmt.Sprintf("Please enter the password for %s.", backup.Email))
		if err != nil {
			return err
		}
		defer crypto.Wipe(password)

		if err = backup.Verify(cmd.Context(), password); err != nil {
			return fmt.Errorf("backup of %s cannot be opened: %w", backup.Email, err)
		}
		fmt.Fprintf(cmd.OutOrStdout(), "backup of %s is valid\nfingerprint %s\n", backup.Email, session.Fingerprint(backup.PublicKey))
		return nil
	},
}

func encodeBackup(out io.Writer, backup vault.Backup) (err error) {
	var w io.WriteCloser
	if w, err = armor.Encode(out, backupBlockType, map[string]string{
		"Email":   backup.Email,
		"Comment": "fvault credential backup",
	}); err != nil {
		return
	}

	if err = json.NewEncoder(w).Encode(backup); err != nil {
		w.Close()
		return
	}
	if err = w.Close(); err != nil {
		return
	}
	_, err = fmt.Fprintln(out)
	return
}

func decodeBackup(in io.Reader) (backup vault.Backup, err error) {
	var block *armor.Block
	if block, err = armor.Decode(in); err != nil {
		return backup, fmt.Errorf("not an armoured backup: %w", err)
	}
	if block.Type != backupBlockType {
		return backup, fmt.Errorf("unexpected armour block %q", block.Type)
	}

	if err = json.NewDecoder(block.Body).Decode(&backup); err != nil {
		return backup, fmt.Errorf("invalid backup: %w", err)
	}
	return
}

func init() {
	rootCmd.AddCommand(backupCmd)
	backupCmd.AddCommand(backupExportCmd)
	backupCmd.AddCommand(backupVerifyCmd)

	backupExportCmd.Flags().StringVarP(&backupOutput, "output", "o", "", "file to write, stdout when empty")
}
