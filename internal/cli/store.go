package cli

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/tako-update/tako/pkg/crypto"
	"github.com/tako-update/tako/pkg/store"
)

// secretKeyEnvVar is consulted when neither --key nor --key-file is given.
const secretKeyEnvVar = "TAKO_SECRET_KEY"

var (
	storeKey     string
	storeKeyFile string
	storeOutput  string
)

var storeCmd = &cobra.Command{
	Use:   "store [-k <key> | -f <file>] --output <dir> <image> <version>",
	Short: "Add a new image version to a server directory",
	Long: `Store signs an image under a version and publishes it into a server
directory, writing a manifest, the content blob, and the version index with
atomic file operations.

The secret key is taken from --key, from the file named by --key-file, or
from the ` + secretKeyEnvVar + ` environment variable, in that order of
precedence. Exactly one source must yield a valid key.

Publishing the same image under the same version twice is a no-op.
Publishing different content under an existing version, or under a version
that differs from an existing one only in separator punctuation (such as
"1-0" next to "1.0"), is rejected.`,
	Args: cobra.ExactArgs(2),
	RunE: runStore,
}

func init() {
	rootCmd.AddCommand(storeCmd)
	storeCmd.Flags().StringVarP(&storeKey, "key", "k", "", "secret key to sign the manifest with")
	storeCmd.Flags().StringVarP(&storeKeyFile, "key-file", "f", "", "file to read the secret key from")
	storeCmd.Flags().StringVarP(&storeOutput, "output", "o", "", "server directory to publish into")
	_ = storeCmd.MarkFlagRequired("output")
	storeCmd.MarkFlagsMutuallyExclusive("key", "key-file")
}

func runStore(cmd *cobra.Command, args []string) error {
	imagePath, version := args[0], args[1]

	secret, err := resolveSecretKey()
	if err != nil {
		return err
	}
	defer secret.Zero()

	err = store.Store(store.Options{
		ImagePath: imagePath,
		Version:   version,
		SecretKey: secret,
		OutputDir: storeOutput,
		Logger:    logger,
	})
	if conflicting, ok := store.IsDuplicate(err); ok {
		return fmt.Errorf("cannot publish %q: it conflicts with already-published version %q", version, conflicting)
	}
	return err
}

// resolveSecretKey loads and decodes the secret key with the documented
// precedence: --key, then --key-file, then the environment. The key is
// validated here, before any filesystem mutation.
func resolveSecretKey() (crypto.SecretKey, error) {
	switch {
	case storeKey != "":
		return crypto.DecodeSecretKey(storeKey)
	case storeKeyFile != "":
		data, err := os.ReadFile(storeKeyFile)
		if err != nil {
			return crypto.SecretKey{}, fmt.Errorf("read key file: %w", err)
		}
		return crypto.DecodeSecretKey(strings.TrimSpace(string(data)))
	default:
		if encoded, ok := os.LookupEnv(secretKeyEnvVar); ok {
			return crypto.DecodeSecretKey(strings.TrimSpace(encoded))
		}
		return crypto.SecretKey{}, errors.New("secret key not provided: pass it via --key, " +
			"read it from a key file with --key-file, or set the " + secretKeyEnvVar + " environment variable")
	}
}
