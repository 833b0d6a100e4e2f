package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"cipherchat/crypto"
)

var keygenCmd = &cobra.Command{
	Use:   "keygen",
	Short: "Generate a client key pair",
	Long: `Generate a fresh NaCl box key pair and print it base64-encoded.

The relay never stores secret keys. The secret key printed here belongs on
the client; only the public key is ever advertised to the server.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		pair, err := crypto.GenerateKeyPair()
		if err != nil {
			return fmt.Errorf("generate key pair: %w", err)
		}

		fmt.Fprintf(cmd.OutOrStdout(), "public key:  %s\n", pair.PublicKey)
		fmt.Fprintf(cmd.OutOrStdout(), "secret key:  %s\n", pair.SecretKey)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(keygenCmd)
}
