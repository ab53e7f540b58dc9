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
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"github.com/hokaccha/go-prettyjson"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/notapipeline/fvault/pkg/crypto"
	"github.com/notapipeline/fvault/pkg/session"
	"github.com/notapipeline/fvault/pkg/tools"
	"github.com/notapipeline/fvault/pkg/types"
	"github.com/notapipeline/fvault/pkg/unix"
	"github.com/spf13/cobra"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/yaml"
)

const (
	FormatRaw    = "raw"
	FormatSecret = "secret"
)

type downloadOptions struct {
	Output    string
	Format    string
	Name      string
	Namespace string
	Agent     bool
}

var (
	contentType string
	download    downloadOptions = downloadOptions{}
	recipients  []string
)

var invalidSecretName = regexp.MustCompile(`[^a-z0-9.-]+`)

var uploadCmd = &cobra.Command{
	Use:   "upload <file>...",
	Short: "Encrypt and upload files",
	Long: `Encrypts each file under a fresh content key and uploads it. The
server only ever receives ciphertext and the wrapped content key.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, _, done, err := login(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		for _, path := range args {
			body, err := os.ReadFile(path)
			if err != nil {
				return err
			}

			var ct string = contentType
			if ct == "" {
				ct = detectContentType(path, body)
			}

			resp, err := v.Upload(cmd.Context(), filepath.Base(path), ct, body)
			crypto.Wipe(body)
			if err != nil {
				return fmt.Errorf("failed to upload %s: %w", path, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", resp.FileID, resp.FileName)
		}
		return nil
	},
}

var downloadCmd = &cobra.Command{
	Use:   "download <id>",
	Short: "Download and decrypt a file",
	Long: `Downloads a file and decrypts it locally.

By default the file is written to the current directory under its original
name. Use --output - to write to stdout.

--format secret wraps the file in a Kubernetes Secret manifest keyed by the
file name, ready for kubectl apply.

--agent loads a downloaded ssh or pgp private key into the running agent
instead of writing it anywhere.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if download.Format != FormatRaw && download.Format != FormatSecret {
			return fmt.Errorf("unknown format %q", download.Format)
		}

		v, _, done, err := login(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		body, metadata, err := v.Download(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		defer crypto.Wipe(body)

		if download.Agent {
			var passphrase []byte
			if passphrase, err = tools.GetPassword("fvault", fmt.Sprintf("Passphrase for %s, leave empty if none.", metadata.FileName), "Passphrase:"); err != nil {
				passphrase = nil
			}
			defer crypto.Wipe(passphrase)
			return unix.LoadKey(cmd.Context(), metadata.FileName, body, passphrase)
		}

		var (
			output []byte = body
			target string = download.Output
		)
		if download.Format == FormatSecret {
			if output, err = secretManifest(metadata.FileName, download.Name, download.Namespace, body); err != nil {
				return err
			}
			if target == "" {
				target = "-"
			}
		}

		return writeOutput(cmd.OutOrStdout(), target, metadata.FileName, output)
	},
}

var lsCmd = &cobra.Command{
	Use:     "ls",
	Aliases: []string{"list"},
	Short:   "List your files",
	Args:    cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		v, _, done, err := login(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		files, err := v.Files(cmd.Context())
		if err != nil {
			return err
		}
		renderFiles(cmd.OutOrStdout(), files.Files)
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info <id>",
	Short: "Show the metadata of a file",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, _, done, err := login(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		metadata, err := v.Metadata(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		b, err := prettyjson.Marshal(metadata)
		if err != nil {
			return err
		}
		fmt.Fprintln(cmd.OutOrStdout(), string(b))
		return nil
	},
}

var rmCmd = &cobra.Command{
	Use:   "rm <id>...",
	Short: "Delete files you own",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, _, done, err := login(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		for _, id := range args {
			if err = v.Delete(cmd.Context(), id); err != nil {
				return fmt.Errorf("failed to delete %s: %w", id, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "deleted %s\n", id)
		}
		return nil
	},
}

var transferCmd = &cobra.Command{
	Use:   "transfer <id>",
	Short: "Give other accounts access to a file",
	Long: `Re-wraps the content key of a file for each recipient using their public
key. The file itself is not re-encrypted. A failure for one recipient does
not stop the others.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if len(recipients) == 0 {
			return fmt.Errorf("no recipients given, use --to")
		}

		v, _, done, err := login(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		results, err := v.Transfer(cmd.Context(), args[0], recipients)
		if err != nil {
			return err
		}
		return reportTransfers(cmd.OutOrStdout(), results)
	},
}

var pubkeyCmd = &cobra.Command{
	Use:   "pubkey <email>",
	Short: "Show the public key of an account",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, _, done, err := login(cmd.Context())
		if err != nil {
			return err
		}
		defer done()

		key, err := v.PublicKey(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "%s\nfingerprint %s\n", key.String(), session.Fingerprint(key))
		return nil
	},
}

func detectContentType(path string, body []byte) string {
	if ct := mime.TypeByExtension(filepath.Ext(path)); ct != "" {
		return ct
	}
	return http.DetectContentType(body)
}

// secretManifest renders body as an Opaque Kubernetes secret. The name
// defaults to the file name made safe for the api server.
func secretManifest(fileName, name, namespace string, body []byte) ([]byte, error) {
	if name == "" {
		name = strings.Trim(invalidSecretName.ReplaceAllString(strings.ToLower(fileName), "-"), "-.")
	}
	if name == "" {
		return nil, fmt.Errorf("unable to derive a secret name from %q, use --name", fileName)
	}

	secret := corev1.Secret{
		TypeMeta: metav1.TypeMeta{
			APIVersion: "v1",
			Kind:       "Secret",
		},
		ObjectMeta: metav1.ObjectMeta{
			Name:      name,
			Namespace: namespace,
		},
		Type: corev1.SecretTypeOpaque,
		Data: map[string][]byte{
			fileName: body,
		},
	}
	return yaml.Marshal(&secret)
}

func writeOutput(stdout io.Writer, output, fileName string, body []byte) error {
	switch output {
	case "-":
		_, err := stdout.Write(body)
		return err
	case "":
		output = filepath.Base(fileName)
	}
	return os.WriteFile(output, body, 0600)
}

func renderFiles(out io.Writer, files []types.FileInfo) {
	t := table.NewWriter()
	t.SetOutputMirror(out)
	t.AppendHeader(table.Row{"ID", "Name", "Size", "Type", "Created", "Owner", "Transferred"})
	for _, f := range files {
		t.AppendRow(table.Row{
			f.ID, f.FileName, f.FileSize, f.ContentType,
			f.CreatedAt.Format("2006-01-02 15:04:05"), f.Owner, f.Transferred,
		})
	}
	t.AppendFooter(table.Row{"", "", "", "", "", "Total", len(files)})
	t.Render()
}

func reportTransfers(out io.Writer, results []session.TransferResult) error {
	var failed []error
	for _, r := range results {
		if r.Err != nil {
			fmt.Fprintf(out, "%s\tfailed: %s\n", r.Recipient, r.Err)
			failed = append(failed, fmt.Errorf("%s: %w", r.Recipient, r.Err))
			continue
		}
		fmt.Fprintf(out, "%s\ttransferred\n", r.Recipient)
	}
	if len(failed) > 0 {
		return fmt.Errorf("%d of %d transfers failed: %w", len(failed), len(results), errors.Join(failed...))
	}
	return nil
}

func init() {
	rootCmd.AddCommand(uploadCmd)
	rootCmd.AddCommand(downloadCmd)
	rootCmd.AddCommand(lsCmd)
	rootCmd.AddCommand(infoCmd)
	rootCmd.AddCommand(rmCmd)
	rootCmd.AddCommand(transferCmd)
	rootCmd.AddCommand(pubkeyCmd)

	uploadCmd.Flags().StringVarP(&contentType, "content-type", "t", "", "content type of the files (detected when empty)")

	downloadCmd.Flags().StringVarP(&download.Output, "output", "o", "", "file to write, - for stdout")
	downloadCmd.Flags().StringVarP(&download.Format, "format", "f", FormatRaw, "output format, raw or secret")
	downloadCmd.Flags().StringVar(&download.Name, "name", "", "name of the kubernetes secret")
	downloadCmd.Flags().StringVarP(&download.Namespace, "namespace", "n", "", "namespace of the kubernetes secret")
	downloadCmd.Flags().BoolVar(&download.Agent, "agent", false, "load the file into ssh-agent or gpg instead of writing it")

	transferCmd.Flags().StringSliceVar(&recipients, "to", []string{}, "emails of the recipients")
}
