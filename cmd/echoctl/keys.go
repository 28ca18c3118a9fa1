package main

import (
	"encoding/json"
	"fmt"

	"github.com/echoproof/echo/internal/nostr"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	keysSignature string
	keysFormat    string
)

var keysCmd = &cobra.Command{
	Use:   "keys",
	Short: "Show the Nostr anchor identity for a wallet",
	Long: `Keys derives the Nostr keypair used to sign witness events. The secret is
sha256 of the wallet's signature over the derivation message, so the same
wallet always yields the same identity.

Pass --signature with a signature produced by any wallet, or let echoctl
sign with the configured key.`,
	Args: cobra.NoArgs,
	RunE: runKeys,
}

func init() {
	keysCmd.Flags().StringVar(&keysSignature, "signature", "", "hex wallet signature over the derivation message")
	keysCmd.Flags().String("key", "", "hex EVM private key to sign the derivation message with")
	keysCmd.Flags().StringVar(&keysFormat, "format", "text", "Output format: text or json")
}

func runKeys(cmd *cobra.Command, args []string) error {
	if f := cmd.Flags().Lookup("key"); f.Changed {
		viper.Set("key", f.Value.String())
	}

	var (
		keys   *nostr.Keys
		wallet string
		err    error
	)
	if keysSignature != "" {
		keys, err = nostr.DeriveKeys(keysSignature)
	} else {
		if viper.GetString("key") == "" {
			fmt.Fprintf(cmd.OutOrStdout(), "Sign this message with your wallet and pass it as --signature:\n\n%s\n", nostr.DerivationMessage)
			return nil
		}
		signer, serr := loadSigner(cmd)
		if serr != nil {
			return serr
		}
		wallet = signer.Address()
		keys, err = anchorKeys(cmd.Context(), signer)
	}
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if keysFormat == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]string{
			"wallet": wallet,
			"npub":   keys.Npub(),
			"nsec":   keys.Nsec(),
			"pubkey": keys.PublicKeyHex(),
		})
	}
	if wallet != "" {
		fmt.Fprintf(out, "Wallet: %s\n", wallet)
	}
	fmt.Fprintf(out, "npub:   %s\n", keys.Npub())
	fmt.Fprintf(out, "nsec:   %s\n", keys.Nsec())
	fmt.Fprintf(out, "pubkey: %s\n", keys.PublicKeyHex())
	return nil
}
