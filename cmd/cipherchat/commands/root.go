// Package commands wires the cipherchat CLI.
package commands

import (
	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "cipherchat",
	Short: "End-to-end encrypted direct messaging relay",
	Long: `cipherchat is a relay server for end-to-end encrypted direct messaging.

Clients hold their own keys and exchange NaCl box ciphertext; the relay
persists messages, tracks who is online, and forwards events between
connected users without ever seeing plaintext.`,
	SilenceUsage:  true,
	SilenceErrors: false,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}
