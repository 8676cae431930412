// wallet.go - Keys and received notes of one participant.
//
// A Wallet holds a spending key and the notes it recognized by trial-decrypting
// bundles or reading issue bundles. Notes are marked spent once their nullifier
// appears in the ledger. Each participant keeps its wallet in its own JSON file.

package wallet

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog/log"

	"zsapool/internal/asset"
	"zsapool/internal/bundle"
	"zsapool/internal/keys"
	"zsapool/internal/note"
	"zsapool/internal/noteenc"
	"zsapool/internal/value"
)

// ErrInsufficientFunds is returned when unspent notes cannot cover an amount.
var ErrInsufficientFunds = errors.New("wallet: insufficient funds")

// OutputDecrypter is a bundle in any authorization state.
type OutputDecrypter interface {
	DecryptOutputsWithKeys(ivks []keys.IncomingViewingKey) []bundle.DecryptedOutput
}

// Positioner resolves the tree position of a commitment.
type Positioner interface {
	Position(cmx note.ExtractedCommitment) (uint32, bool, error)
}

// NullifierSet reports revealed nullifiers.
type NullifierSet interface {
	HasNullifier(nf note.Nullifier) (bool, error)
}

// ReceivedNote is a note recognized as belonging to the wallet.
type ReceivedNote struct {
	Note     note.Note
	Position uint32
	Scope    keys.Scope
	Memo     noteenc.Memo
	Spent    bool
}

// Wallet stores a participant's keys and recognized notes.
type Wallet struct {
	Name string

	mu    sync.Mutex
	sk    keys.SpendingKey
	fvk   keys.FullViewingKey
	notes []ReceivedNote
}

// New creates a wallet with a fresh spending key.
func New(name string, rng io.Reader) (*Wallet, error) {
	sk, err := keys.NewSpendingKey(rng)
	if err != nil {
		return nil, err
	}
	return FromSpendingKey(name, sk), nil
}

// FromSpendingKey creates an empty wallet for sk.
func FromSpendingKey(name string, sk keys.SpendingKey) *Wallet {
	return &Wallet{Name: name, sk: sk, fvk: sk.FullViewingKey()}
}

func (w *Wallet) FullViewingKey() keys.FullViewingKey { return w.fvk }

func (w *Wallet) SpendAuthorizingKey() keys.SpendAuthorizingKey { return w.sk.SpendAuthorizingKey() }

// Address returns the j-th external address.
func (w *Wallet) Address(j uint32) keys.Address { return w.fvk.AddressAt(j, keys.External) }

// ChangeAddress returns the internal address used for change.
func (w *Wallet) ChangeAddress() keys.Address { return w.fvk.AddressAt(0, keys.Internal) }

// OVK returns the outgoing viewing key for outputs sent from scope.
func (w *Wallet) OVK(scope keys.Scope) keys.OutgoingViewingKey { return w.fvk.OVK(scope) }

func (w *Wallet) ivks() []keys.IncomingViewingKey {
	return []keys.IncomingViewingKey{w.fvk.IVK(keys.External), w.fvk.IVK(keys.Internal)}
}

// ScanBundle trial-decrypts every output of b and records the notes addressed to
// the wallet. It returns the number of new notes.
func (w *Wallet) ScanBundle(b OutputDecrypter, positions Positioner) (int, error) {
	found := b.DecryptOutputsWithKeys(w.ivks())
	added := 0
	for _, out := range found {
		ok, err := w.add(out.Note, keys.Scope(out.KeyIndex), out.Memo, positions)
		if err != nil {
			return added, err
		}
		if ok {
			added++
		}
	}
	log.Debug().Str("wallet", w.Name).Int("matched", len(found)).Int("added", added).Msg("bundle scanned")
	return added, nil
}

// ScanIssuedNotes records the issued notes addressed to the wallet. Issued notes
// are public, so no decryption is needed.
func (w *Wallet) ScanIssuedNotes(notes []note.Note, positions Positioner) (int, error) {
	added := 0
	for _, n := range notes {
		scope, ok := w.fvk.ScopeForAddress(n.Recipient())
		if !ok {
			continue
		}
		ok, err := w.add(n, scope, noteenc.EmptyMemo(), positions)
		if err != nil {
			return added, err
		}
		if ok {
			added++
		}
	}
	return added, nil
}

func (w *Wallet) add(n note.Note, scope keys.Scope, memo noteenc.Memo, positions Positioner) (bool, error) {
	cmx := n.Commitment().Extract()
	pos, found, err := positions.Position(cmx)
	if err != nil {
		return false, err
	}
	if !found {
		return false, fmt.Errorf("wallet: commitment %s not in tree", cmx)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	for _, r := range w.notes {
		if r.Position == pos {
			return false, nil
		}
	}
	w.notes = append(w.notes, ReceivedNote{Note: n, Position: pos, Scope: scope, Memo: memo})
	return true, nil
}

// SyncSpent marks every note whose nullifier was revealed as spent and returns how
// many changed.
func (w *Wallet) SyncSpent(nfs NullifierSet) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	marked := 0
	for i := range w.notes {
		if w.notes[i].Spent {
			continue
		}
		spent, err := nfs.HasNullifier(w.notes[i].Note.Nullifier(w.fvk))
		if err != nil {
			return marked, err
		}
		if spent {
			w.notes[i].Spent = true
			marked++
		}
	}
	return marked, nil
}

// Notes returns a copy of every recognized note.
func (w *Wallet) Notes() []ReceivedNote {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]ReceivedNote(nil), w.notes...)
}

// Unspent returns the unspent notes of asset a in the order they were received.
func (w *Wallet) Unspent(a asset.Base) []ReceivedNote {
	w.mu.Lock()
	defer w.mu.Unlock()
	var out []ReceivedNote
	for _, r := range w.notes {
		if !r.Spent && r.Note.Asset().Equal(a) {
			out = append(out, r)
		}
	}
	return out
}

// Balance sums the unspent notes of asset a.
func (w *Wallet) Balance(a asset.Base) (value.NoteValue, error) {
	var total value.NoteValue
	for _, r := range w.Unspent(a) {
		var ok bool
		if total, ok = total.Add(r.Note.Value()); !ok {
			return 0, value.ErrOverflow
		}
	}
	return total, nil
}

// SelectNotes picks unspent notes of asset a, oldest first, until they cover
// amount. It returns the notes and their total.
func (w *Wallet) SelectNotes(a asset.Base, amount value.NoteValue) ([]ReceivedNote, value.NoteValue, error) {
	var (
		picked []ReceivedNote
		total  value.NoteValue
	)
	for _, r := range w.Unspent(a) {
		if total >= amount && len(picked) > 0 {
			break
		}
		var ok bool
		if total, ok = total.Add(r.Note.Value()); !ok {
			return nil, 0, value.ErrOverflow
		}
		picked = append(picked, r)
	}
	if total < amount || len(picked) == 0 {
		return nil, 0, fmt.Errorf("%w: have %d of %s, need %d", ErrInsufficientFunds, total, a, amount)
	}
	return picked, total, nil
}

type receivedJSON struct {
	Note     []byte `json:"note"`
	Position uint32 `json:"position"`
	Scope    uint8  `json:"scope"`
	Memo     []byte `json:"memo"`
	Spent    bool   `json:"spent"`
}

type walletJSON struct {
	Name        string         `json:"name"`
	SpendingKey []byte         `json:"spending_key"`
	Notes       []receivedJSON `json:"notes"`
}

// Save saves the wallet to a JSON file. The file holds the spending key.
func (w *Wallet) Save(path string) error {
	w.mu.Lock()
	out := walletJSON{Name: w.Name, SpendingKey: w.sk[:], Notes: make([]receivedJSON, len(w.notes))}
	for i, r := range w.notes {
		raw, err := r.Note.MarshalBinary()
		if err != nil {
			w.mu.Unlock()
			return err
		}
		out.Notes[i] = receivedJSON{Note: raw, Position: r.Position, Scope: uint8(r.Scope), Memo: r.Memo[:], Spent: r.Spent}
	}
	w.mu.Unlock()

	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// Load loads a wallet from a JSON file.
func Load(path string) (*Wallet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var in walletJSON
	if err := json.NewDecoder(f).Decode(&in); err != nil {
		return nil, err
	}
	sk, err := keys.SpendingKeyFromBytes(in.SpendingKey)
	if err != nil {
		return nil, fmt.Errorf("wallet %s: %w", path, err)
	}
	w := FromSpendingKey(in.Name, sk)
	for i, r := range in.Notes {
		var n note.Note
		if err := n.UnmarshalBinary(r.Note); err != nil {
			return nil, fmt.Errorf("wallet %s: note %d: %w", path, i, err)
		}
		if len(r.Memo) != noteenc.MemoSize {
			return nil, fmt.Errorf("wallet %s: note %d: memo of %d bytes", path, i, len(r.Memo))
		}
		rn := ReceivedNote{Note: n, Position: r.Position, Scope: keys.Scope(r.Scope), Spent: r.Spent}
		copy(rn.Memo[:], r.Memo)
		w.notes = append(w.notes, rn)
	}
	return w, nil
}
