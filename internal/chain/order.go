package chain

import (
	"fmt"
	"sort"
	"time"
)

// LinkError describes why a revision set does not form a single path from
// Genesis. It matches ErrChainDiscontinuity under errors.Is.
type LinkError struct {
	Hash   string
	Reason string
}

func (e *LinkError) Error() string {
	if e.Hash == "" {
		return "chain discontinuity: " + e.Reason
	}
	return fmt.Sprintf("chain discontinuity at %s: %s", e.Hash, e.Reason)
}

func (e *LinkError) Unwrap() error { return ErrChainDiscontinuity }

// Order reconstructs causal order for an unordered revision set by walking
// predecessor links from the single Genesis. It fails with a *LinkError when
// the set has no Genesis or several, a dangling predecessor, a branch, or
// revisions unreachable from Genesis.
func Order(revs map[string]Revision) ([]string, error) {
	if len(revs) == 0 {
		return nil, &LinkError{Reason: "no revisions"}
	}

	// Sorted iteration keeps the reported defect stable across runs.
	keys := make([]string, 0, len(revs))
	for h := range revs {
		keys = append(keys, h)
	}
	sort.Strings(keys)

	var genesis []string
	children := make(map[string][]string, len(revs))
	for _, h := range keys {
		prev := revs[h].PreviousHash
		if prev == "" {
			genesis = append(genesis, h)
			continue
		}
		if _, ok := revs[prev]; !ok {
			return nil, &LinkError{Hash: h, Reason: fmt.Sprintf("previous hash %s does not resolve", prev)}
		}
		children[prev] = append(children[prev], h)
	}

	switch len(genesis) {
	case 0:
		return nil, &LinkError{Reason: "no genesis revision"}
	case 1:
	default:
		return nil, &LinkError{Hash: genesis[1], Reason: fmt.Sprintf("%d revisions without predecessor", len(genesis))}
	}
	if revs[genesis[0]].Type != KindGenesis {
		return nil, &LinkError{Hash: genesis[0], Reason: fmt.Sprintf("root revision has type %q", revs[genesis[0]].Type)}
	}

	order := make([]string, 0, len(revs))
	for cur := genesis[0]; ; {
		order = append(order, cur)
		next := children[cur]
		if len(next) == 0 {
			break
		}
		if len(next) > 1 {
			return nil, &LinkError{Hash: cur, Reason: fmt.Sprintf("branches into %d revisions", len(next))}
		}
		cur = next[0]
	}

	if len(order) != len(revs) {
		seen := make(map[string]struct{}, len(order))
		for _, h := range order {
			seen[h] = struct{}{}
		}
		for _, h := range keys {
			if _, ok := seen[h]; !ok {
				return nil, &LinkError{Hash: h, Reason: "unreachable from genesis"}
			}
		}
	}
	return order, nil
}

// FromRevisions rebuilds a chain from an imported revision set. Revision
// hashes are taken as given; use the verifier to check them. The hashing mode
// is the Genesis mode. When the path contains Content revisions after Genesis,
// the last of them is treated as the finalize revision, so an imported chain
// cannot be extended with further chunks.
func FromRevisions(revs map[string]Revision, fileIndex map[string]string) (*Chain, error) {
	order, err := Order(revs)
	if err != nil {
		return nil, err
	}
	mode := revs[order[0]].HashingMode
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: genesis declares %q", ErrInconsistentHashingMode, string(mode))
	}

	c := &Chain{
		mode:      mode,
		order:     order,
		revisions: make(map[string]Revision, len(revs)),
		fileIndex: make(map[string]string, len(fileIndex)),
		now:       time.Now,
	}
	for h, r := range revs {
		c.revisions[h] = r
	}
	for h, name := range fileIndex {
		c.fileIndex[h] = name
	}
	for i := len(order) - 1; i > 0; i-- {
		if revs[order[i]].Type == KindContent {
			c.finalHash = order[i]
			break
		}
	}
	return c, nil
}
