package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/echoproof/echo/internal/evm"
	"github.com/echoproof/echo/pkg/client"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

var (
	uploadAudio string
	uploadNpub  string

	shareOut  string
	shareWait time.Duration
)

var uploadCmd = &cobra.Command{
	Use:   "upload <proof>",
	Short: "Upload a recording and its proof to an echod server",
	Long: `Upload signs in to the server with the wallet key, stores the combined
recording and its proof, and prints the share link.

The server verifies the proof before storing anything.`,
	Args: cobra.ExactArgs(1),
	RunE: runUpload,
}

var shareCmd = &cobra.Command{
	Use:   "share <share-id>",
	Short: "Download a shared recording and print its verification",
	Args:  cobra.ExactArgs(1),
	RunE:  runShare,
}

func init() {
	rootCmd.PersistentFlags().String("server", "http://localhost:8080", "echod base URL")
	_ = viper.BindPFlag("server", rootCmd.PersistentFlags().Lookup("server"))

	uploadCmd.Flags().StringVar(&uploadAudio, "audio", "", "combined recording file (required)")
	uploadCmd.Flags().StringVar(&uploadNpub, "npub", "", "Nostr npub to store with the recording")
	uploadCmd.Flags().String("key", "", "hex private key of the wallet")
	_ = uploadCmd.MarkFlagRequired("audio")

	shareCmd.Flags().StringVarP(&shareOut, "out", "o", ".", "directory for the audio and proof")
	shareCmd.Flags().DurationVar(&shareWait, "wait", 0, "keep retrying while the content propagates")
}

func newAPIClient() (*client.Client, error) {
	return client.New(viper.GetString("server"))
}

func runUpload(cmd *cobra.Command, args []string) error {
	ctx := cmdContext(cmd)

	aqua, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	audio, err := os.ReadFile(uploadAudio)
	if err != nil {
		return err
	}

	key, _ := cmd.Flags().GetString("key")
	if key == "" {
		key = viper.GetString("key")
	}
	if key == "" {
		return errors.New("a wallet key is required: pass --key or set key in the config")
	}
	signer, err := evm.NewKeySigner(key)
	if err != nil {
		return err
	}

	c, err := newAPIClient()
	if err != nil {
		return err
	}
	if _, err := c.SignIn(ctx, signer.Address(), func(ctx context.Context, msg string) (string, error) {
		sig, err := signer.Sign(ctx, msg)
		return sig.Signature, err
	}); err != nil {
		// Servers without wallet sign-in accept uploads anonymously.
		logger.Debug("sign-in skipped", zap.Error(err))
	}

	res, err := c.Upload(ctx, client.UploadRequest{
		Audio:      audio,
		AudioName:  filepath.Base(uploadAudio),
		Aqua:       aqua,
		EVMAddress: signer.Address(),
		NostrNpub:  uploadNpub,
	})
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Share URL: %s\n", res.ShareURL)
	fmt.Fprintf(out, "Audio CID: %s\n", res.AudioCID)
	fmt.Fprintf(out, "Proof CID: %s\n", res.AquaCID)
	return nil
}

func runShare(cmd *cobra.Command, args []string) error {
	ctx := cmdContext(cmd)
	c, err := newAPIClient()
	if err != nil {
		return err
	}

	deadline := time.Now().Add(shareWait)
	var share *client.Share
	for {
		share, err = c.Share(ctx, args[0])
		var ue *client.UnavailableError
		if !errors.As(err, &ue) || time.Now().After(deadline) {
			break
		}
		wait := ue.RetryAfter
		if wait <= 0 {
			wait = 5 * time.Second
		}
		logger.Info("content still propagating", zap.String("cid", ue.CID), zap.Duration("retry_in", wait))
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
	}
	if err != nil {
		return err
	}

	if err := os.MkdirAll(shareOut, 0o755); err != nil {
		return err
	}
	audioPath := filepath.Join(shareOut, args[0]+".webm")
	proofPath := filepath.Join(shareOut, args[0]+".aqua.json")
	if err := os.WriteFile(audioPath, share.AudioData, 0o644); err != nil {
		return err
	}
	if err := os.WriteFile(proofPath, share.AquaData, 0o644); err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Recorded: %s\n", share.Recording.CreatedAt.Format(time.RFC3339))
	fmt.Fprintf(out, "Audio:    %s\n", audioPath)
	fmt.Fprintf(out, "Proof:    %s\n\n", proofPath)
	if share.Verification != nil {
		printReport(out, share.Verification)
		if !share.Verification.Valid {
			return errInvalidProof
		}
	}
	return nil
}

func cmdContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}
