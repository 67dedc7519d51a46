package remote

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
	"golang.org/x/term"
)

var defaultKeyNames = []string{"id_ed25519", "id_ecdsa", "id_rsa", "id_dsa"}

// DiscoverSigners loads private keys from paths, or from the usual
// ~/.ssh locations when paths is empty. Unreadable or encrypted keys are
// skipped.
func DiscoverSigners(paths []string) []ssh.Signer {
	if len(paths) == 0 {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil
		}
		for _, name := range defaultKeyNames {
			paths = append(paths, filepath.Join(home, ".ssh", name))
		}
	}

	var signers []ssh.Signer
	for _, p := range paths {
		signer, err := LoadSigner(p)
		if err != nil {
			continue
		}
		signers = append(signers, signer)
	}
	return signers
}

func LoadSigner(path string) (ssh.Signer, error) {
	data, err := os.ReadFile(expandHome(path))
	if err != nil {
		return nil, err
	}
	signer, err := ssh.ParsePrivateKey(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSSHAuthentication, path, err)
	}
	return signer, nil
}

// HostKeyCallback verifies against a known_hosts file, or accepts any key
// when file is empty.
func HostKeyCallback(file string) (ssh.HostKeyCallback, error) {
	if file == "" {
		return ssh.InsecureIgnoreHostKey(), nil
	}
	cb, err := knownhosts.New(expandHome(file))
	if err != nil {
		return nil, fmt.Errorf("load known hosts %s: %w", file, err)
	}
	return cb, nil
}

// PasswordPrompter asks the operator for a password.
type PasswordPrompter func(user, host string, port int) (string, error)

// TerminalPrompter reads a password from the controlling terminal without
// echo.
func TerminalPrompter(in *os.File, out io.Writer) PasswordPrompter {
	return func(user, host string, port int) (string, error) {
		fd := int(in.Fd())
		if !term.IsTerminal(fd) {
			return "", fmt.Errorf("%w: no terminal to prompt for password", ErrSSHAuthentication)
		}
		fmt.Fprintf(out, "password for ssh -p %d %s@%s: ", port, user, host)
		b, err := term.ReadPassword(fd)
		fmt.Fprintln(out)
		if err != nil {
			return "", fmt.Errorf("%w: read password: %v", ErrSSHAuthentication, err)
		}
		return string(b), nil
	}
}

func expandHome(p string) string {
	if p == "~" || strings.HasPrefix(p, "~/") {
		if home, err := os.UserHomeDir(); err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}
