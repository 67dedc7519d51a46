package sshkeygen

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/crypto/ssh"
)

// KeyInfo describes a deploy key's public half.
type KeyInfo struct {
	PrivateKeyPath string
	PublicKeyPath  string
	AuthorizedKey  string
	Fingerprint    string
	Created        bool
}

// GenerateEd25519KeyPair writes a new key pair unless the private key
// already exists. comment is appended to the authorized_keys line.
func GenerateEd25519KeyPair(privateKeyPath, publicKeyPath, comment string) (*KeyInfo, error) {
	if _, err := os.Stat(privateKeyPath); err == nil {
		info, err := ReadPublicKey(publicKeyPath)
		if err != nil {
			return nil, err
		}
		info.PrivateKeyPath = privateKeyPath
		return info, nil
	}

	sshDir := filepath.Dir(privateKeyPath)
	if err := os.MkdirAll(sshDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create ssh directory: %w", err)
	}

	pubKey, privKey, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key pair: %w", err)
	}

	privKeyPEM, err := ssh.MarshalPrivateKey(privKey, comment)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal private key: %w", err)
	}
	if err := os.WriteFile(privateKeyPath, pem.EncodeToMemory(privKeyPEM), 0600); err != nil {
		return nil, fmt.Errorf("failed to write private key: %w", err)
	}

	sshPubKey, err := ssh.NewPublicKey(pubKey)
	if err != nil {
		return nil, fmt.Errorf("failed to create public key: %w", err)
	}
	line := authorizedLine(sshPubKey, comment)
	if err := os.WriteFile(publicKeyPath, []byte(line+"\n"), 0644); err != nil {
		return nil, fmt.Errorf("failed to write public key: %w", err)
	}

	return &KeyInfo{
		PrivateKeyPath: privateKeyPath,
		PublicKeyPath:  publicKeyPath,
		AuthorizedKey:  line,
		Fingerprint:    ssh.FingerprintSHA256(sshPubKey),
		Created:        true,
	}, nil
}

// ReadPublicKey parses an authorized_keys formatted public key file.
func ReadPublicKey(publicKeyPath string) (*KeyInfo, error) {
	raw, err := os.ReadFile(publicKeyPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read public key: %w", err)
	}
	pub, comment, _, _, err := ssh.ParseAuthorizedKey(raw)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key %s: %w", publicKeyPath, err)
	}
	return &KeyInfo{
		PublicKeyPath: publicKeyPath,
		AuthorizedKey: authorizedLine(pub, comment),
		Fingerprint:   ssh.FingerprintSHA256(pub),
	}, nil
}

func authorizedLine(pub ssh.PublicKey, comment string) string {
	line := strings.TrimSpace(string(ssh.MarshalAuthorizedKey(pub)))
	if comment != "" {
		line += " " + comment
	}
	return line
}

// DefaultPaths returns ~/.ssh/id_ed25519 and its .pub sibling.
func DefaultPaths() (string, string, error) {
	homeDir, err := os.UserHomeDir()
	if err != nil {
		return "", "", fmt.Errorf("failed to get home directory: %w", err)
	}
	priv := filepath.Join(homeDir, ".ssh", "id_ed25519")
	return priv, priv + ".pub", nil
}
