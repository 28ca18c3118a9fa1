package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/echoproof/echo/internal/contenthash"
	"github.com/echoproof/echo/internal/evm"
	"github.com/echoproof/echo/internal/nostr"
	"github.com/echoproof/echo/internal/session"
	"github.com/echoproof/echo/internal/witness"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	recordOut         string
	recordMode        string
	recordChunkLength time.Duration
	recordOmit        bool
	recordWitness     bool
	recordRelays      []string
	recordInterval    int
	recordPushURL     string
)

var recordCmd = &cobra.Command{
	Use:   "record <chunk> [chunk...]",
	Short: "Build a signed proof from audio chunk files",
	Long: `Record runs an offline recording session over chunk files in the order
given. Every chunk is hashed and signed with the EVM key from --key, the
ECHO_KEY environment variable or "key" in the config file. With --witness,
every Nth chunk and the last one are published to Nostr relays under an
anchor identity derived from the key.

The proof and the combined audio are written to --out:

  echoctl record --key $KEY --witness chunk_*.webm --out ./session`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRecord,
}

func init() {
	recordCmd.Flags().String("key", "", "hex EVM private key (generated when empty)")
	_ = viper.BindPFlag("key", recordCmd.Flags().Lookup("key"))
	recordCmd.Flags().StringVar(&recordOut, "out", ".", "output directory")
	recordCmd.Flags().StringVar(&recordMode, "mode", string(contenthash.Scalar), "hashing mode: scalar or tree")
	recordCmd.Flags().DurationVar(&recordChunkLength, "chunk-duration", session.DefaultChunkDuration, "audio length of one chunk")
	recordCmd.Flags().BoolVar(&recordOmit, "omit-content", false, "record chunk hashes without embedding chunk bytes")
	recordCmd.Flags().BoolVar(&recordWitness, "witness", false, "publish witness checkpoints to Nostr relays")
	recordCmd.Flags().StringSliceVar(&recordRelays, "relays", nil, "relay URLs (default: built-in relay list)")
	recordCmd.Flags().IntVar(&recordInterval, "interval", witness.DefaultInterval, "witness every Nth chunk")
	recordCmd.Flags().StringVar(&recordPushURL, "pushgateway", "", "Prometheus Pushgateway URL for session metrics")
}

func runRecord(cmd *cobra.Command, args []string) error {
	mode, err := contenthash.ParseMode(recordMode)
	if err != nil {
		return err
	}

	signer, err := loadSigner(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	keys, err := anchorKeys(ctx, signer)
	if err != nil {
		return err
	}

	metrics := newSessionMetrics()
	ledger := witness.NewLedger()
	var w witness.Witness
	if recordWitness {
		pool := nostr.NewPool(recordRelays, 10*time.Second, logger)
		pub := witness.NewPublisher(pool, witness.Identity{Wallet: signer.Address(), Keys: keys},
			witness.Policy{Interval: recordInterval}, ledger, logger)
		pub.SetMetricsRecord(metrics.RecordWitnessPublish)
		async := witness.NewAsyncPublisher(pub, 0, logger)
		defer async.Close()
		w = async
	}

	rec, err := session.New(session.Config{
		Mode:           mode,
		ChunkDuration:  recordChunkLength,
		OmitContent:    recordOmit,
		AnchorIdentity: keys.Npub(),
	}, signer, w, ledger, logger)
	if err != nil {
		return err
	}

	if err := rec.Start(ctx); err != nil {
		return err
	}
	for _, path := range args {
		chunk, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read chunk: %w", err)
		}
		if err := rec.Submit(ctx, chunk); err != nil {
			return fmt.Errorf("submit %s: %w", path, err)
		}
	}
	if _, err := rec.Stop(ctx); err != nil {
		return err
	}

	bundle, err := rec.Export()
	if err != nil {
		return err
	}
	proofJSON, err := bundle.MarshalIndent()
	if err != nil {
		return fmt.Errorf("encode proof: %w", err)
	}
	combined, err := rec.Combined()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(recordOut, 0o755); err != nil {
		return err
	}
	proofPath := filepath.Join(recordOut, "proof.json")
	audioPath := filepath.Join(recordOut, session.DefaultFinalName)
	if err := os.WriteFile(proofPath, proofJSON, 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(audioPath, combined, 0o644); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Recorded %d chunks (%.1fs), %d revisions\n",
		bundle.Metadata.TotalChunks, bundle.Metadata.Duration, len(bundle.Tree.Order))
	fmt.Fprintf(out, "Signer:    %s\n", signer.Address())
	fmt.Fprintf(out, "Anchor:    %s\n", keys.Npub())
	fmt.Fprintf(out, "Witnesses: %d\n", len(bundle.Metadata.Witnesses))
	fmt.Fprintf(out, "Proof:     %s\n", proofPath)
	fmt.Fprintf(out, "Audio:     %s\n", audioPath)

	metrics.chunks.Add(float64(bundle.Metadata.TotalChunks))
	metrics.duration.Set(bundle.Metadata.Duration)
	if recordPushURL != "" {
		if err := metrics.push(recordPushURL, signer.Address()); err != nil {
			logger.Warn("pushgateway push failed", zap.Error(err))
		}
	}
	return nil
}

func loadSigner(cmd *cobra.Command) (*evm.KeySigner, error) {
	if key := viper.GetString("key"); key != "" {
		return evm.NewKeySigner(key)
	}
	s, err := evm.GenerateKeySigner()
	if err != nil {
		return nil, err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "no key configured; generated %s (key %s)\n", s.Address(), s.PrivateKeyHex())
	return s, nil
}

// anchorKeys derives the Nostr anchor identity from the wallet's signature
// over the derivation message.
func anchorKeys(ctx context.Context, signer evm.Signer) (*nostr.Keys, error) {
	sig, err := signer.Sign(ctx, nostr.DerivationMessage)
	if err != nil {
		return nil, fmt.Errorf("sign derivation message: %w", err)
	}
	return nostr.DeriveKeys(sig.Signature)
}
