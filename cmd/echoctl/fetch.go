package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/echoproof/echo/internal/blobstore"
	"github.com/echoproof/echo/internal/retrieval"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	fetchOut   string
	fetchProof bool
)

var fetchCmd = &cobra.Command{
	Use:   "fetch <cid>",
	Short: "Fetch content from the blob store with retries",
	Long: `Fetch retrieves content by id, retrying while it is still propagating
(1s, 2s, 4s between attempts) and stopping at once when it is gone.

Content is read through the Pinata gateway from pinata.gateway, or from a
local store with --local. With --proof the content is decoded as a proof
bundle and re-encoded as JSON.`,
	Args: cobra.ExactArgs(1),
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().StringVarP(&fetchOut, "out", "o", "", "write content to file instead of stdout")
	fetchCmd.Flags().BoolVar(&fetchProof, "proof", false, "decode the content as a proof bundle")
	fetchCmd.Flags().String("gateway", "", "Pinata gateway host")
	fetchCmd.Flags().String("jwt", "", "Pinata JWT")
	fetchCmd.Flags().String("local", "", "local blob store path")
	fetchCmd.Flags().Int("attempts", retrieval.DefaultAttempts, "maximum attempts")
	_ = viper.BindPFlag("pinata.gateway", fetchCmd.Flags().Lookup("gateway"))
	_ = viper.BindPFlag("pinata.jwt", fetchCmd.Flags().Lookup("jwt"))
	_ = viper.BindPFlag("store.local_path", fetchCmd.Flags().Lookup("local"))
	_ = viper.BindPFlag("retrieval.attempts", fetchCmd.Flags().Lookup("attempts"))
}

func runFetch(cmd *cobra.Command, args []string) error {
	store, closeStore, err := openStore()
	if err != nil {
		return err
	}
	defer closeStore()

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	f := retrieval.New(store, retrieval.Config{
		Attempts: viper.GetInt("retrieval.attempts"),
		MaxDepth: viper.GetInt("verify.max_depth"),
	}, logger)

	var data []byte
	if fetchProof {
		b, ferr := f.FetchProof(ctx, args[0])
		if ferr == nil {
			data, ferr = b.MarshalIndent()
		}
		err = ferr
	} else {
		data, err = f.FetchMedia(ctx, args[0])
	}
	switch {
	case errors.Is(err, retrieval.ErrNotYetAvailable):
		return fmt.Errorf("%w: the content may still be propagating, try again shortly", err)
	case err != nil:
		return err
	}

	if fetchOut == "" {
		_, err = cmd.OutOrStdout().Write(data)
		return err
	}
	if err := os.WriteFile(fetchOut, data, 0o644); err != nil {
		return err
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "wrote %d bytes to %s\n", len(data), fetchOut)
	return nil
}

func openStore() (blobstore.Store, func(), error) {
	if path := viper.GetString("store.local_path"); path != "" {
		local, err := blobstore.OpenLocal(path, logger)
		if err != nil {
			return nil, nil, err
		}
		return local, func() { local.Close() }, nil
	}
	pinata, err := blobstore.NewPinata(blobstore.PinataConfig{
		JWT:     viper.GetString("pinata.jwt"),
		Gateway: viper.GetString("pinata.gateway"),
	}, logger)
	if err != nil {
		return nil, nil, err
	}
	return pinata, func() {}, nil
}
