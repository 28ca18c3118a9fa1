// Package verifier re-derives trust in a proof bundle. The structure phase
// always runs; the content phase runs when original media is supplied.
// Verification never fails with an error: every defect lands in the Report.
package verifier

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sort"
	"time"

	"github.com/echoproof/echo/internal/chain"
	"github.com/echoproof/echo/internal/contenthash"
	"github.com/echoproof/echo/internal/evm"
	"github.com/echoproof/echo/internal/proof"
	"github.com/echoproof/echo/internal/wire"
	"go.uber.org/zap"
)

// DefaultChunkDuration is assumed for EstimatedStart when the bundle does not
// declare one.
const DefaultChunkDuration = 2 * time.Second

// MetricsRecordFunc is an optional callback for recording verification results.
type MetricsRecordFunc func(valid bool)

// Verifier checks proof bundles.
type Verifier struct {
	decoder   proof.Decoder
	onMetrics MetricsRecordFunc
	logger    *zap.Logger
}

// New creates a Verifier. maxDepth bounds bundle nesting; zero uses the wire
// default.
func New(maxDepth int, logger *zap.Logger) *Verifier {
	return &Verifier{decoder: proof.Decoder{MaxDepth: maxDepth}, logger: logger}
}

// SetMetricsRecord configures the metrics recording callback.
func (v *Verifier) SetMetricsRecord(fn MetricsRecordFunc) {
	v.onMetrics = fn
}

// VerifyBytes parses a serialized bundle and verifies it. Parse failures are
// reported as MalformedWire or MalformedBundle issues.
func (v *Verifier) VerifyBytes(data []byte, files ...File) *Report {
	b, err := v.decoder.Parse(data)
	if err != nil {
		return v.finish(parseFailure(err))
	}
	return v.Verify(b, files...)
}

// VerifyValue verifies a bundle held as a generic value tree.
func (v *Verifier) VerifyValue(val any, files ...File) *Report {
	b, err := v.decoder.ParseValue(val)
	if err != nil {
		return v.finish(parseFailure(err))
	}
	return v.Verify(b, files...)
}

func parseFailure(err error) *Report {
	kind := KindMalformedBundle
	if errors.Is(err, wire.ErrMalformedWire) {
		kind = KindMalformedWire
	}
	return &Report{
		Issues:     []Issue{{Kind: kind, Message: err.Error()}},
		Timestamps: []time.Time{},
		Witnesses:  []WitnessResult{},
	}
}

// Verify runs both phases over b. b is not modified. A panic in either phase
// is reported as an InternalError issue.
func (v *Verifier) Verify(b *proof.Bundle, files ...File) *Report {
	return v.finish(v.safePhases(b, files))
}

// runPhases is replaced in tests.
var runPhases = phases

func (v *Verifier) safePhases(b *proof.Bundle, files []File) (report *Report) {
	defer func() {
		if rec := recover(); rec != nil {
			v.logger.Error("verifier panic",
				zap.Any("panic", rec),
				zap.ByteString("stack", debug.Stack()),
			)
			report = &Report{
				Issues:     []Issue{{Kind: KindInternal, Message: fmt.Sprintf("verification aborted: %v", rec)}},
				Timestamps: []time.Time{},
				Witnesses:  []WitnessResult{},
			}
		}
	}()
	return runPhases(b, files)
}

func phases(b *proof.Bundle, files []File) *Report {
	r := &Report{Issues: []Issue{}}
	if b == nil {
		r.Issues = append(r.Issues, Issue{Kind: KindMalformedBundle, Message: "no bundle"})
		r.Timestamps = []time.Time{}
		r.Witnesses = []WitnessResult{}
		return r
	}

	s := newStructure(b.Tree)
	s.run()
	r.Issues = append(r.Issues, s.issues...)
	r.HashingMode = s.mode
	r.StructureValid = len(s.issues) == 0

	if len(files) > 0 {
		r.ContentChecked = true
		r.Files = checkContent(b.Tree, s.mode, files)
		r.ContentValid = true
		for _, f := range r.Files {
			if f.Status == StatusTampered {
				r.ContentValid = false
			}
		}
	}

	extract(r, b, s.order)
	return r
}

func (v *Verifier) finish(r *Report) *Report {
	r.Valid = r.StructureValid && (!r.ContentChecked || r.ContentValid)
	if v.onMetrics != nil {
		v.onMetrics(r.Valid)
	}
	return r
}

// structure holds the state of the structure phase.
type structure struct {
	tree   proof.Tree
	mode   contenthash.Mode
	order  []string
	issues []Issue
}

func newStructure(t proof.Tree) *structure {
	return &structure{tree: t}
}

func (s *structure) add(kind Kind, rev, format string, args ...any) {
	s.issues = append(s.issues, Issue{Kind: kind, Revision: rev, Message: fmt.Sprintf(format, args...)})
}

func (s *structure) run() {
	revs := s.tree.Revisions

	// (a) linkage
	order, err := chain.Order(revs)
	if err != nil {
		var le *chain.LinkError
		if errors.As(err, &le) {
			s.add(KindChainDiscontinuity, le.Hash, "%s", le.Reason)
		} else {
			s.add(KindChainDiscontinuity, "", "%v", err)
		}
		order = s.tree.Hashes()
	}
	s.order = order
	s.mode = s.chainMode(order)

	for h := range s.tree.FileIndex {
		if _, ok := revs[h]; !ok {
			s.add(KindChainDiscontinuity, h, "file index names a revision that is not in the chain")
		}
	}

	for _, h := range order {
		rev := revs[h]
		s.checkRevision(h, &rev)
	}
}

// chainMode is the Genesis mode; if there is no usable Genesis the first
// valid mode declared in order is used so the remaining checks still run.
func (s *structure) chainMode(order []string) contenthash.Mode {
	for _, h := range order {
		rev := s.tree.Revisions[h]
		if rev.Type == chain.KindGenesis {
			if !rev.HashingMode.Valid() {
				s.add(KindInconsistentHashingMode, h, "genesis declares unknown hashing mode %q", string(rev.HashingMode))
				break
			}
			return rev.HashingMode
		}
	}
	for _, h := range order {
		if m := s.tree.Revisions[h].HashingMode; m.Valid() {
			return m
		}
	}
	return contenthash.Scalar
}

func (s *structure) checkRevision(h string, rev *chain.Revision) {
	if rev.HashingMode != "" && rev.HashingMode != s.mode {
		s.add(KindInconsistentHashingMode, h, "revision uses %q, chain uses %q", string(rev.HashingMode), string(s.mode))
	}
	if got := rev.Hash(s.mode); got != h {
		s.add(KindRevisionHashMismatch, h, "recomputed revision hash %s", got)
	}

	switch rev.Type {
	case chain.KindGenesis, chain.KindContent:
		// (b) embedded content
		if rev.FileHash == "" {
			s.add(KindContentHashMismatch, h, "content revision has no file hash")
			return
		}
		if rev.HasContent() && !contenthash.Equal(s.mode, rev.Content, rev.FileHash) {
			s.add(KindContentHashMismatch, h, "embedded content does not hash to declared file hash")
		}
	case chain.KindSignature:
		// (c) signatures
		if rev.PreviousHash == "" {
			s.add(KindInvalidSignature, h, "signature attests to nothing")
			return
		}
		if err := evm.Verify(chain.SignMessage(rev.PreviousHash), rev.Signature, rev.SignerAddress); err != nil {
			s.add(KindInvalidSignature, h, "%v", err)
		}
	default:
		s.add(KindMalformedBundle, h, "unknown revision type %q", string(rev.Type))
	}
}

// checkContent compares supplied files with the file index.
func checkContent(t proof.Tree, mode contenthash.Mode, files []File) []FileResult {
	supplied := make(map[string][]byte, len(files))
	for _, f := range files {
		supplied[f.Name] = f.Data
	}

	var results []FileResult
	indexed := make(map[string]struct{}, len(t.FileIndex))
	for _, h := range indexOrder(t) {
		name := t.FileIndex[h]
		indexed[name] = struct{}{}
		res := FileResult{Name: name, Revision: h}
		rev, ok := t.Revisions[h]
		if ok {
			res.ExpectedHash = rev.FileHash
		}
		data, given := supplied[name]
		if !given {
			res.Status = StatusMetadataOnly
		} else {
			res.ActualHash = contenthash.SumHex(mode, data)
			if ok && res.ActualHash == rev.FileHash {
				res.Status = StatusUnaltered
			} else {
				res.Status = StatusTampered
			}
		}
		results = append(results, res)
	}

	for _, f := range files {
		if _, ok := indexed[f.Name]; ok {
			continue
		}
		indexed[f.Name] = struct{}{}
		results = append(results, FileResult{
			Name:       f.Name,
			Status:     StatusUnindexed,
			ActualHash: contenthash.SumHex(mode, f.Data),
		})
	}
	return results
}

// indexOrder lists file index keys in chain order, then stray keys sorted.
func indexOrder(t proof.Tree) []string {
	var out []string
	seen := make(map[string]struct{}, len(t.FileIndex))
	for _, h := range t.Hashes() {
		if _, ok := t.FileIndex[h]; ok {
			out = append(out, h)
			seen[h] = struct{}{}
		}
	}
	var rest []string
	for h := range t.FileIndex {
		if _, ok := seen[h]; !ok {
			rest = append(rest, h)
		}
	}
	sort.Strings(rest)
	return append(out, rest...)
}

// extract fills the descriptive fields of r.
func extract(r *Report, b *proof.Bundle, order []string) {
	r.TotalRevisions = len(b.Tree.Revisions)
	r.Timestamps = []time.Time{}
	for _, h := range order {
		rev := b.Tree.Revisions[h]
		switch rev.Type {
		case chain.KindGenesis, chain.KindContent:
			r.ContentRevisions++
		case chain.KindSignature:
			r.SignatureRevisions++
			if r.Signer == "" {
				r.Signer = rev.SignerAddress
			}
		}
		if ts, err := rev.Time(); err == nil {
			r.Timestamps = append(r.Timestamps, ts)
		}
	}
	sort.Slice(r.Timestamps, func(i, j int) bool { return r.Timestamps[i].Before(r.Timestamps[j]) })

	if n := len(r.Timestamps); n > 0 {
		first, last := r.Timestamps[0], r.Timestamps[n-1]
		r.FirstSeen, r.LastSeen = &first, &last
		chunk := time.Duration(b.Metadata.ChunkDuration * float64(time.Second))
		if chunk <= 0 {
			chunk = DefaultChunkDuration
		}
		start := first.Add(-chunk)
		r.EstimatedStart = &start
	}

	r.TotalChunks = b.Metadata.TotalChunks
	r.Duration = b.Metadata.Duration
	r.Witnesses = make([]WitnessResult, 0, len(b.Metadata.Witnesses))
	for _, cp := range b.Metadata.Witnesses {
		_, in := b.Tree.Revisions[cp.VerificationHash]
		r.Witnesses = append(r.Witnesses, WitnessResult{Checkpoint: cp, InChain: in && cp.VerificationHash != ""})
	}
}
