package verifier

import (
	"time"

	"github.com/echoproof/echo/internal/contenthash"
	"github.com/echoproof/echo/internal/witness"
)

// Kind classifies a structural defect.
type Kind string

const (
	KindChainDiscontinuity      Kind = "ChainDiscontinuity"
	KindRevisionHashMismatch    Kind = "RevisionHashMismatch"
	KindContentHashMismatch     Kind = "ContentHashMismatch"
	KindInconsistentHashingMode Kind = "InconsistentHashingMode"
	KindInvalidSignature        Kind = "InvalidSignature"
	KindMalformedWire           Kind = "MalformedWire"
	KindMalformedBundle         Kind = "MalformedBundle"
	KindInternal                Kind = "InternalError"
)

// Issue is one structural finding. Revision is empty for chain-wide issues.
type Issue struct {
	Kind     Kind   `json:"kind"`
	Revision string `json:"revision,omitempty"`
	Message  string `json:"message"`
}

// Status is the outcome of checking one file against the chain.
type Status string

const (
	// StatusUnaltered: supplied bytes hash to the recorded file hash.
	StatusUnaltered Status = "Unaltered"
	// StatusTampered: supplied bytes differ from what was recorded.
	StatusTampered Status = "Tampered"
	// StatusMetadataOnly: the chain names the file but no bytes were supplied.
	StatusMetadataOnly Status = "MetadataOnly"
	// StatusUnindexed: bytes were supplied for a name the chain does not know.
	StatusUnindexed Status = "Unindexed"
)

// File is original media supplied for the content phase.
type File struct {
	Name string
	Data []byte
}

// FileResult reports the content check of one logical file.
type FileResult struct {
	Name         string `json:"name"`
	Revision     string `json:"revision,omitempty"`
	Status       Status `json:"status"`
	ExpectedHash string `json:"expectedHash,omitempty"`
	ActualHash   string `json:"actualHash,omitempty"`
}

// WitnessResult is a checkpoint from the bundle metadata, cross-referenced
// with the chain.
type WitnessResult struct {
	witness.Checkpoint
	// InChain reports whether the witnessed hash is a revision of this chain.
	// Checkpoints from early exports carry no hash and report false.
	InChain bool `json:"inChain"`
}

// Report is the full verification outcome. It is always returned, never an
// error.
type Report struct {
	Valid          bool `json:"valid"`
	StructureValid bool `json:"structureValid"`
	// ContentChecked is set when at least one file was supplied.
	ContentChecked bool         `json:"contentChecked"`
	ContentValid   bool         `json:"contentValid"`
	Issues         []Issue      `json:"issues"`
	Files          []FileResult `json:"files,omitempty"`

	HashingMode        contenthash.Mode `json:"hashingMode,omitempty"`
	Signer             string           `json:"signer,omitempty"`
	TotalRevisions     int              `json:"totalRevisions"`
	ContentRevisions   int              `json:"contentRevisions"`
	SignatureRevisions int              `json:"signatureRevisions"`

	Timestamps []time.Time `json:"timestamps"`
	FirstSeen  *time.Time  `json:"firstTimestamp,omitempty"`
	LastSeen   *time.Time  `json:"lastTimestamp,omitempty"`
	// EstimatedStart is FirstSeen minus one chunk duration. It is a
	// heuristic: the first revision is stamped when the first chunk ends.
	EstimatedStart *time.Time `json:"estimatedStart,omitempty"`

	TotalChunks int             `json:"totalChunks"`
	Duration    float64         `json:"duration"`
	Witnesses   []WitnessResult `json:"witnesses"`
}

// Interval returns the asserted recording interval, zero when fewer than two
// timestamps parsed.
func (r *Report) Interval() time.Duration {
	if r.FirstSeen == nil || r.LastSeen == nil {
		return 0
	}
	return r.LastSeen.Sub(*r.FirstSeen)
}

// Has reports whether the report contains an issue of kind k.
func (r *Report) Has(k Kind) bool {
	for _, is := range r.Issues {
		if is.Kind == k {
			return true
		}
	}
	return false
}

// File returns the content result for name.
func (r *Report) File(name string) (FileResult, bool) {
	for _, f := range r.Files {
		if f.Name == name {
			return f, true
		}
	}
	return FileResult{}, false
}
