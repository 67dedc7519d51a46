package main

import (
	"fmt"
	"os"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/stackbuild/stackbuild/pkg/utils/crypto"
	"github.com/stackbuild/stackbuild/pkg/utils/keygen"
	"github.com/stackbuild/stackbuild/pkg/utils/sshkeygen"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		color.New(color.FgRed).Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var (
		privateKeyPath string
		comment        string
	)

	root := &cobra.Command{
		Use:           "keygen",
		Short:         "Create the deploy key used to reach build hosts",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			publicKeyPath := privateKeyPath + ".pub"
			if privateKeyPath == "" {
				var err error
				privateKeyPath, publicKeyPath, err = sshkeygen.DefaultPaths()
				if err != nil {
					return err
				}
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Private key: %s\n", privateKeyPath)
			fmt.Fprintf(out, "Public key: %s\n", publicKeyPath)

			info, err := sshkeygen.GenerateEd25519KeyPair(privateKeyPath, publicKeyPath, comment)
			if err != nil {
				return err
			}
			if info.Created {
				color.New(color.FgGreen).Fprintln(out, "✓ Key pair generated successfully")
			} else {
				color.New(color.FgYellow).Fprintln(out, "✓ Key pair already exists (skipped)")
			}
			fmt.Fprintf(out, "Fingerprint: %s\n", info.Fingerprint)
			fmt.Fprintf(out, "Add to ~/.ssh/authorized_keys on each host:\n%s\n", info.AuthorizedKey)
			return nil
		},
	}
	root.Flags().StringVarP(&privateKeyPath, "out", "o", "", "private key path (default ~/.ssh/id_ed25519)")
	root.Flags().StringVar(&comment, "comment", "stackbuild", "key comment")

	root.AddCommand(newTokenCmd(), newEncryptCmd())
	return root
}

func newTokenCmd() *cobra.Command {
	var size int
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Print a random admin API or encryption key",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			token, err := keygen.GenerateToken(size)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().IntVar(&size, "bytes", 32, "random bytes before hex encoding")
	return cmd
}

func newEncryptCmd() *cobra.Command {
	var key string
	cmd := &cobra.Command{
		Use:   "encrypt <password>",
		Short: "Encrypt a host password for the enc: config form",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if key == "" {
				key = os.Getenv("STACKBUILD_SECURITY_ENCRYPTION_KEY")
			}
			if key == "" {
				return fmt.Errorf("encryption key required (--key or STACKBUILD_SECURITY_ENCRYPTION_KEY)")
			}
			sealed, err := crypto.Seal(args[0], key)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sealed)
			return nil
		},
	}
	cmd.Flags().StringVar(&key, "key", "", "security.encryption_key value")
	return cmd
}
