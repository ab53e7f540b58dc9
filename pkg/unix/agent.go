//go:build !windows
// +build !windows

package unix

import (
	"bytes"
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"strings"

	"github.com/notapipeline/fvault/pkg/logging"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/agent"
)

// These are referenced as variables to enable them to be mocked in tests
var (
	dialAgent func(socket string) (net.Conn, error) = func(socket string) (net.Conn, error) {
		return net.Dial("unix", socket)
	}
	gpgCommand func(ctx context.Context, args ...string) *exec.Cmd = func(ctx context.Context, args ...string) *exec.Cmd {
		return exec.CommandContext(ctx, "gpg", args...)
	}
)

// KeyKind reports which agent a downloaded file can be loaded into, judged
// from its name. SSH keys contain `id_`, PGP keys end with `.pgp` or `.asc`.
func KeyKind(filename string) string {
	var lower string = strings.ToLower(filename)
	switch {
	case strings.Contains(lower, "id_") && !strings.HasSuffix(lower, ".pub"):
		return "ssh"
	case strings.HasSuffix(lower, ".pgp"), strings.HasSuffix(lower, ".asc"):
		return "gpg"
	}
	return ""
}

// LoadKey hands a decrypted key file to the matching agent
func LoadKey(ctx context.Context, filename string, key, passphrase []byte) error {
	switch KeyKind(filename) {
	case "ssh":
		return AddSSHKey(key, passphrase, filename)
	case "gpg":
		return ImportPGPKey(ctx, key, passphrase)
	}
	return fmt.Errorf("%q is not recognised as an ssh or pgp key", filename)
}

// AddSSHKey adds a key to the ssh-agent
func AddSSHKey(key, passphrase []byte, filename string) error {
	var (
		socket string
		conn   net.Conn
		err    error
		sshKey interface{}
	)

	if len(passphrase) != 0 {
		if sshKey, err = ssh.ParseRawPrivateKeyWithPassphrase(key, passphrase); err != nil {
			return fmt.Errorf("failed to parse private key: %w", err)
		}
	} else {
		if sshKey, err = ssh.ParseRawPrivateKey(key); err != nil {
			return fmt.Errorf("failed to parse private key: %w", err)
		}
	}

	if socket = os.Getenv("SSH_AUTH_SOCK"); socket == "" {
		return fmt.Errorf("SSH_AUTH_SOCK not set")
	}

	if conn, err = dialAgent(socket); err != nil {
		return fmt.Errorf("failed to connect to ssh-agent: %w", err)
	}
	defer conn.Close()

	if err := agent.NewClient(conn).Add(agent.AddedKey{
		PrivateKey: sshKey,
		Comment:    "fvault added key " + filename,
	}); err != nil {
		return fmt.Errorf("failed to add key to ssh-agent: %w", err)
	}
	return nil
}

// ImportPGPKey feeds a key into `gpg --import`. For the passphrase to be
// used gpg must allow the loopback pinentry mode.
func ImportPGPKey(ctx context.Context, key, passphrase []byte) error {
	var (
		stdout  strings.Builder
		stderr  strings.Builder
		gpgArgs []string = []string{
			"--batch", "--yes",
			"--pinentry-mode", "loopback",
		}
	)

	if len(passphrase) != 0 {
		gpgArgs = append(gpgArgs, "--passphrase", string(passphrase))
	}
	gpgArgs = append(gpgArgs, "--import", "-")

	var gpgCmd *exec.Cmd = gpgCommand(ctx, gpgArgs...)
	gpgCmd.Stdin = bytes.NewReader(key)
	gpgCmd.Stdout = &stdout
	gpgCmd.Stderr = &stderr

	err := gpgCmd.Run()
	printBuffers(ctx, &stdout, &stderr)
	if err != nil {
		return fmt.Errorf("failed to import key with gpg: %w", err)
	}
	return nil
}

func printBuffers(ctx context.Context, stdout, stderr *strings.Builder) {
	for _, b := range strings.Split(strings.TrimSpace(stderr.String()), "\n") {
		if b != "" {
			logging.Debug(ctx, "gpg", "stderr", b)
		}
	}
	for _, b := range strings.Split(strings.TrimSpace(stdout.String()), "\n") {
		if b != "" {
			logging.Debug(ctx, "gpg", "stdout", b)
		}
	}
}
