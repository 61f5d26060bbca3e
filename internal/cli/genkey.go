package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/tako-update/tako/pkg/crypto"
)

var genKeyCmd = &cobra.Command{
	Use:   "gen-key",
	Short: "Generate a key pair for signing manifests",
	Long: `Gen-key generates a new Ed25519 key pair and prints it to stdout.

The secret key is printed rather than written to a file, so the sensitive
material never touches the disk unencrypted. Copy it into an encrypted
secret store; to sign manifests, bring it into the environment as
` + secretKeyEnvVar + ` or pass it to 'tako store' directly. The public key
goes into the fetch config files as the PublicKey value.`,
	Args: cobra.NoArgs,
	RunE: runGenKey,
}

func init() {
	rootCmd.AddCommand(genKeyCmd)
}

func runGenKey(cmd *cobra.Command, args []string) error {
	secret, public, err := crypto.GenerateKeyPair()
	if err != nil {
		return err
	}
	defer secret.Zero()

	encoded, err := secret.EncodePKCS8()
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Secret key (save to an encrypted secret store):\n%s\n", encoded)
	fmt.Fprintf(out, "\nPublic key:\n%s\n", public.Encode())
	return nil
}
