package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/echoproof/echo/internal/verifier"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var errInvalidProof = errors.New("proof is not valid")

var (
	verifyAudio  []string
	verifyFormat string
)

var verifyCmd = &cobra.Command{
	Use:   "verify <proof.json>",
	Short: "Verify a proof bundle and, optionally, the audio it covers",
	Long: `Verify checks the structure of a proof bundle: revision links, content
hashes, signatures and hashing mode. Audio files given with --audio are
matched against the chain by file name; use name=path to check a file
under a different name:

  echoctl verify proof.json --audio recording_combined.webm
  echoctl verify proof.json --audio recording_combined.webm=./download.webm`,
	Args: cobra.ExactArgs(1),
	RunE: runVerify,
}

func init() {
	verifyCmd.Flags().StringArrayVar(&verifyAudio, "audio", nil, "audio file to check, as path or name=path (repeatable)")
	verifyCmd.Flags().StringVar(&verifyFormat, "format", "text", "Output format: text or json")
	verifyCmd.Flags().Int("max-depth", 0, "maximum bundle nesting depth (0 = default)")
	_ = viper.BindPFlag("verify.max_depth", verifyCmd.Flags().Lookup("max-depth"))
}

func runVerify(cmd *cobra.Command, args []string) error {
	data, err := os.ReadFile(args[0])
	if err != nil {
		return fmt.Errorf("read proof: %w", err)
	}

	files := make([]verifier.File, 0, len(verifyAudio))
	for _, arg := range verifyAudio {
		f, err := loadAudio(arg)
		if err != nil {
			return err
		}
		files = append(files, f)
	}

	report := verifier.New(viper.GetInt("verify.max_depth"), logger).VerifyBytes(data, files...)

	out := cmd.OutOrStdout()
	if verifyFormat == "json" {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			return err
		}
	} else {
		printReport(out, report)
	}

	if !report.Valid {
		return errInvalidProof
	}
	return nil
}

// loadAudio reads "path" or "name=path".
func loadAudio(arg string) (verifier.File, error) {
	name, path, ok := strings.Cut(arg, "=")
	if !ok {
		path = arg
		name = filepath.Base(arg)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return verifier.File{}, fmt.Errorf("read audio: %w", err)
	}
	return verifier.File{Name: name, Data: data}, nil
}

func printReport(out io.Writer, r *verifier.Report) {
	verdict := "VALID"
	if !r.Valid {
		verdict = "INVALID"
	}
	fmt.Fprintf(out, "Proof: %s\n\n", verdict)

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintf(w, "Structure\t%s\n", okText(r.StructureValid))
	if r.ContentChecked {
		fmt.Fprintf(w, "Content\t%s\n", okText(r.ContentValid))
	}
	fmt.Fprintf(w, "Hashing mode\t%s\n", r.HashingMode)
	if r.Signer != "" {
		fmt.Fprintf(w, "Signer\t%s\n", r.Signer)
	}
	fmt.Fprintf(w, "Revisions\t%d (%d content, %d signature)\n", r.TotalRevisions, r.ContentRevisions, r.SignatureRevisions)
	fmt.Fprintf(w, "Chunks\t%d (%.1fs)\n", r.TotalChunks, r.Duration)
	if r.FirstSeen != nil && r.LastSeen != nil {
		fmt.Fprintf(w, "Recorded\t%s to %s (%s)\n",
			r.FirstSeen.Format(time.RFC3339), r.LastSeen.Format(time.RFC3339), r.Interval())
	}
	if r.EstimatedStart != nil {
		fmt.Fprintf(w, "Estimated start\t%s (approximate)\n", r.EstimatedStart.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "Witnesses\t%d\n", len(r.Witnesses))
	w.Flush()

	if len(r.Files) > 0 {
		fmt.Fprintln(out, "\nFiles:")
		fw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
		for _, f := range r.Files {
			fmt.Fprintf(fw, "  %s\t%s\n", f.Name, f.Status)
		}
		fw.Flush()
	}
	for _, wr := range r.Witnesses {
		fmt.Fprintf(out, "  witness chunk %d  event %s  in chain: %v\n", wr.ChunkIndex+1, wr.EventID, wr.InChain)
	}
	if len(r.Issues) > 0 {
		fmt.Fprintln(out, "\nIssues:")
		for _, is := range r.Issues {
			if is.Revision != "" {
				fmt.Fprintf(out, "  [%s] %s: %s\n", is.Kind, short(is.Revision), is.Message)
			} else {
				fmt.Fprintf(out, "  [%s] %s\n", is.Kind, is.Message)
			}
		}
	}
}

func okText(ok bool) string {
	if ok {
		return "ok"
	}
	return "FAILED"
}

func short(h string) string {
	if len(h) > 12 {
		return h[:12] + "…"
	}
	return h
}
