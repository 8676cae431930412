package noteenc

import (
	"runtime"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"zsapool/internal/keys"
	"zsapool/internal/note"
	"zsapool/internal/primitives"
)

// BatchResult is a match found by batch trial decryption.
type BatchResult struct {
	Decrypted
	// KeyIndex is the position of the matching key in the key list.
	KeyIndex int
}

// CompactResult is a match found by batch compact trial decryption.
type CompactResult struct {
	Note      note.Note
	Recipient keys.Address
	KeyIndex  int
}

// BatchTryNoteDecryption tries every output against every key and returns one entry
// per output, nil when no key matched. When several keys match, the first in key
// order wins.
func BatchTryNoteDecryption(d Domain, ivks []keys.IncomingViewingKey, outputs []Output) []*BatchResult {
	results := make([]*BatchResult, len(outputs))
	forEachOutput(outputs, ivks, d.CiphertextSize(), func(i int, shared []primitives.Point) {
		for k, ivk := range ivks {
			if dec, ok := decryptWithShared(d, ivk, shared[k], outputs[i]); ok {
				results[i] = &BatchResult{Decrypted: dec, KeyIndex: k}
				return
			}
		}
	})
	logBatch("full", d, len(ivks), len(outputs), countFound(results))
	return results
}

// BatchTryCompactNoteDecryption is BatchTryNoteDecryption for compact outputs.
func BatchTryCompactNoteDecryption(d Domain, ivks []keys.IncomingViewingKey, outputs []Output) []*CompactResult {
	results := make([]*CompactResult, len(outputs))
	forEachOutput(outputs, ivks, -d.CompactSize(), func(i int, shared []primitives.Point) {
		for k, ivk := range ivks {
			if n, addr, ok := compactWithShared(d, ivk, shared[k], outputs[i]); ok {
				results[i] = &CompactResult{Note: n, Recipient: addr, KeyIndex: k}
				return
			}
		}
	})
	logBatch("compact", d, len(ivks), len(outputs), countFound(results))
	return results
}

// forEachOutput runs fn in parallel for every well-formed output with the shared
// secrets of all keys, computed with one batched inversion per output. A positive
// size requires an exact ciphertext length, a negative one a minimum length.
func forEachOutput(outputs []Output, ivks []keys.IncomingViewingKey, size int, fn func(int, []primitives.Point)) {
	scalars := make([]primitives.Scalar, len(ivks))
	for k, ivk := range ivks {
		scalars[k] = ivk.Scalar()
	}

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range outputs {
		g.Go(func() error {
			n := len(outputs[i].EncCiphertext)
			if (size > 0 && n != size) || (size < 0 && n < -size) {
				return nil
			}
			epk, err := primitives.PointFromBytes(outputs[i].EphemeralKey[:])
			if err != nil {
				return nil
			}
			fn(i, primitives.BatchMul(epk, scalars))
			return nil
		})
	}
	_ = g.Wait()
}

func countFound[T any](rs []*T) int {
	n := 0
	for _, r := range rs {
		if r != nil {
			n++
		}
	}
	return n
}

func logBatch(kind string, d Domain, keys, outputs, found int) {
	log.Debug().
		Str("kind", kind).
		Str("domain", d.Name()).
		Int("keys", keys).
		Int("outputs", outputs).
		Int("found", found).
		Msg("batch trial decryption")
}
