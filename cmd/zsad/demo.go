// demo.go - End-to-end scenario: shield, issue, transfer and burn.
//
// The demo runs two transactions against the ledger:
//
//  1. Native value is shielded to alice and, in the same transaction, the issuer
//     mints demo tokens to alice. The issue bundle takes its rho seed from the
//     first nullifier of the shielded bundle.
//  2. Alice pays bob in native value and in tokens, and burns part of her tokens.
//
// After each transaction every wallet scans the new outputs and syncs spent notes.
// Running the demo again keeps issuing to the same asset.

package main

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"zsapool/internal/asset"
	"zsapool/internal/builder"
	"zsapool/internal/bundle"
	"zsapool/internal/circuit"
	"zsapool/internal/issuance"
	"zsapool/internal/keys"
	"zsapool/internal/ledger"
	"zsapool/internal/noteenc"
	"zsapool/internal/primitives"
	"zsapool/internal/reddsa"
	"zsapool/internal/value"
	"zsapool/internal/wallet"
)

const (
	personalSighash = "ZSAPoolTxSigHash"
	demoAssetDesc   = "zsad demo token"

	shieldAmount  value.NoteValue = 5000
	issueAmount   value.NoteValue = 100
	paymentAmount value.NoteValue = 1200
	tokenPayment  value.NoteValue = 40
	tokenBurn     value.NoteValue = 10
)

type demo struct {
	a      *app
	rng    io.Reader
	pk     *circuit.ProvingKey
	vk     *circuit.VerifyingKey
	ledger *ledger.Ledger
	issuer keys.IssuanceAuthorizingKey
	alice  *wallet.Wallet
	bob    *wallet.Wallet
	btype  builder.BundleType
	token  asset.Base
}

func runDemo(ctx context.Context, a *app) error {
	d := &demo{a: a, rng: rand.Reader, btype: builder.DefaultVanilla}
	if a.cfg.ZSAEnabled {
		d.btype = builder.DefaultZSA
	}
	if !a.cfg.SkipProofs {
		var err error
		if d.pk, d.vk, err = a.loadKeys(); err != nil {
			return err
		}
	}

	l, err := ledger.Open(a.cfg.LedgerPath)
	if err != nil {
		return err
	}
	defer l.Close()
	d.ledger = l

	if d.issuer, err = d.loadIssuer(); err != nil {
		return err
	}
	if d.token, err = asset.Derive(d.issuer.ValidatingKey(), []byte(demoAssetDesc)); err != nil {
		return err
	}
	if d.alice, err = d.loadWallet("alice"); err != nil {
		return err
	}
	if d.bob, err = d.loadWallet("bob"); err != nil {
		return err
	}

	if err := d.shieldAndIssue(ctx); err != nil {
		return fmt.Errorf("shield and issue: %w", err)
	}
	if err := d.transfer(ctx); err != nil {
		return fmt.Errorf("transfer: %w", err)
	}

	for _, w := range []*wallet.Wallet{d.alice, d.bob} {
		if err := w.Save(a.cfg.WalletPath(w.Name)); err != nil {
			return err
		}
		native, err := w.Balance(asset.Native())
		if err != nil {
			return err
		}
		tokens, err := w.Balance(d.token)
		if err != nil {
			return err
		}
		log.Info().Str("wallet", w.Name).Uint64("native", uint64(native)).Uint64("tokens", uint64(tokens)).Msg("balance")
	}
	if rec, found, err := d.ledger.AssetRecord(d.token); err == nil && found {
		log.Info().Str("asset", d.token.String()).Uint64("supply", uint64(rec.Amount)).Bool("finalized", rec.IsFinalized).Msg("token supply")
	}
	return nil
}

func (d *demo) loadIssuer() (keys.IssuanceAuthorizingKey, error) {
	path := filepath.Join(d.a.cfg.KeyDir, "issuer.key")
	raw, err := os.ReadFile(path)
	if err == nil {
		return keys.IssuanceAuthorizingKeyFromBytes(raw)
	}
	if !errors.Is(err, os.ErrNotExist) {
		return keys.IssuanceAuthorizingKey{}, err
	}
	isk, err := keys.NewIssuanceAuthorizingKey(d.rng)
	if err != nil {
		return keys.IssuanceAuthorizingKey{}, err
	}
	b := isk.Bytes()
	if err := os.WriteFile(path, b[:], 0o600); err != nil {
		return keys.IssuanceAuthorizingKey{}, err
	}
	d.a.logger.Audit("issuer_key_created", map[string]any{"path": path})
	return isk, nil
}

func (d *demo) loadWallet(name string) (*wallet.Wallet, error) {
	path := d.a.cfg.WalletPath(name)
	w, err := wallet.Load(path)
	if err == nil {
		return w, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, err
	}
	return wallet.New(name, d.rng)
}

// txSighash binds the shielded bundle and the issue bundle of one transaction.
func txSighash(b *bundle.UnprovenBundle, ib *issuance.IssueBundle[issuance.AwaitingSighash]) [32]byte {
	bd := bundle.Commitment(b)
	id := issuance.EmptyCommitment()
	if ib != nil {
		id = issuance.Commitment(ib)
	}
	return primitives.Blake2b256(personalSighash, bd[:], id[:])
}

func (d *demo) shieldAndIssue(ctx context.Context) error {
	b := builder.New(d.btype, d.ledger.Anchor())
	if err := b.AddOutput(nil, d.alice.Address(0), shieldAmount, asset.Native(), nil); err != nil {
		return err
	}
	unproven, _, err := b.Build(d.rng)
	if err != nil {
		return err
	}
	d.a.metrics.RecordBundleBuilt("shield")

	var awaiting *issuance.IssueBundle[issuance.AwaitingSighash]
	if d.btype.Flags().ZSAEnabled() {
		rec, found, err := d.ledger.AssetRecord(d.token)
		if err != nil {
			return err
		}
		if found && rec.IsFinalized {
			log.Warn().Str("asset", d.token.String()).Msg("demo token is finalized, skipping issuance")
		} else {
			ib, _, err := issuance.New(d.issuer.ValidatingKey(), []byte(demoAssetDesc),
				&issuance.IssueInfo{Recipient: d.alice.Address(0), Value: issueAmount}, !found, d.rng)
			if err != nil {
				return err
			}
			awaiting = issuance.UpdateRho(ib, unproven.Nullifiers()[0])
			d.a.metrics.RecordBundleBuilt("issue")
		}
	}

	sighash := txSighash(unproven, awaiting)
	authorized, err := d.authorize(ctx, unproven, sighash)
	if err != nil {
		return err
	}
	var signed *issuance.IssueBundle[issuance.Signed]
	if awaiting != nil {
		if signed, err = issuance.Sign(issuance.Prepare(awaiting, sighash), d.issuer); err != nil {
			return err
		}
	}
	return d.submit(ctx, "shield", authorized, signed, sighash)
}

func (d *demo) transfer(ctx context.Context) error {
	b := builder.New(d.btype, d.ledger.Anchor())
	ovk := d.alice.OVK(keys.External)
	var memo noteenc.Memo
	copy(memo[:], "zsad demo payment")

	if err := d.pay(b, &ovk, asset.Native(), paymentAmount, 0, &memo); err != nil {
		return err
	}
	if d.btype.Flags().ZSAEnabled() {
		switch err := d.pay(b, &ovk, d.token, tokenPayment, tokenBurn, nil); {
		case errors.Is(err, wallet.ErrInsufficientFunds):
			log.Warn().Err(err).Msg("skipping token transfer")
		case err != nil:
			return err
		}
	}

	unproven, _, err := b.Build(d.rng)
	if err != nil {
		return err
	}
	d.a.metrics.RecordBundleBuilt("transfer")
	sighash := txSighash(unproven, nil)
	authorized, err := d.authorize(ctx, unproven, sighash, d.alice.SpendAuthorizingKey())
	if err != nil {
		return err
	}
	return d.submit(ctx, "transfer", authorized, nil, sighash)
}

// pay adds alice's notes of asset a covering amount plus burn, an output of amount
// to bob, the burn and the change back to alice.
func (d *demo) pay(b *builder.Builder, ovk *keys.OutgoingViewingKey, a asset.Base, amount, burn value.NoteValue, memo *noteenc.Memo) error {
	need, ok := amount.Add(burn)
	if !ok {
		return value.ErrOverflow
	}
	notes, total, err := d.alice.SelectNotes(a, need)
	if err != nil {
		return err
	}
	for _, r := range notes {
		path, err := d.ledger.Witness(r.Position)
		if err != nil {
			return err
		}
		if err := b.AddSpend(d.alice.FullViewingKey(), r.Note, path); err != nil {
			return err
		}
	}
	if err := b.AddOutput(ovk, d.bob.Address(0), amount, a, memo); err != nil {
		return err
	}
	if burn > 0 {
		if err := b.AddBurn(a, burn); err != nil {
			return err
		}
	}
	if change := total - need; change > 0 {
		return b.AddOutput(ovk, d.alice.ChangeAddress(), change, a, nil)
	}
	return nil
}

// authorize proves and signs the bundle. Without proving keys the bundle carries an
// empty proof and only its signatures can be checked.
func (d *demo) authorize(ctx context.Context, u *bundle.UnprovenBundle, sighash [32]byte, asks ...keys.SpendAuthorizingKey) (*bundle.AuthorizedBundle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if d.pk == nil {
		return signWithoutProof(d.rng, u, sighash, asks)
	}
	start := time.Now()
	proven, err := bundle.CreateProof(u, d.pk)
	if err != nil {
		return nil, err
	}
	d.a.metrics.RecordProofGeneration(time.Since(start))
	return bundle.ApplySignatures(proven, d.rng, sighash, asks)
}

func signWithoutProof(rng io.Reader, u *bundle.UnprovenBundle, sighash [32]byte, asks []keys.SpendAuthorizingKey) (*bundle.AuthorizedBundle, error) {
	partial, err := bundle.Prepare(u, rng, sighash)
	if err != nil {
		return nil, err
	}
	for _, ask := range asks {
		if partial, err = bundle.Sign(partial, rng, ask); err != nil {
			return nil, err
		}
	}
	actions := make([]bundle.Action[reddsa.Signature], len(partial.Actions()))
	for i, a := range partial.Actions() {
		sig, ok := a.Authorization().Signature()
		if !ok {
			return nil, fmt.Errorf("action %d: %w", i, bundle.ErrMissingSignatures)
		}
		actions[i] = bundle.NewAction(a.Nullifier(), a.Rk(), a.Cmx(), a.EncryptedNote(), a.CvNet(), sig)
	}
	auth := bundle.NewAuthorized(nil, partial.Authorization().Signatures().BindingSignature())
	return bundle.FromParts(actions, u.Flags(), u.ValueBalance(), u.Burn(), u.Anchor(), auth)
}

func (d *demo) lookupAsset(a asset.Base) (issuance.AssetRecord, bool) {
	rec, found, err := d.ledger.AssetRecord(a)
	if err != nil {
		log.Error().Err(err).Str("asset", a.String()).Msg("asset lookup failed")
		return issuance.AssetRecord{}, false
	}
	return rec, found
}

// submit validates the transaction, applies it to the ledger and lets every wallet
// scan it.
// batchError explains a failed batch validation.
func batchError(kind string, errs []error) error {
	if err := errors.Join(errs...); err != nil {
		return err
	}
	return fmt.Errorf("%s: batch validation failed", kind)
}

func (d *demo) submit(ctx context.Context, kind string, b *bundle.AuthorizedBundle, ib *issuance.IssueBundle[issuance.Signed], sighash [32]byte) error {
	bv := bundle.NewBatchValidator(d.vk)
	bv.Add(b, sighash)
	if !bv.Validate(ctx) {
		err := batchError(kind, bv.ValidateAll(ctx))
		d.a.metrics.RecordBundleApplied(kind, err)
		return err
	}
	if ib != nil {
		iv := issuance.NewBatchValidator(d.lookupAsset)
		iv.Add(ib, sighash)
		if !iv.Validate(ctx) {
			err := batchError("issue", iv.ValidateAll(ctx))
			d.a.metrics.RecordIssuanceVerification(err)
			return err
		}
	}

	err := d.ledger.ApplyBundle(b, sighash, d.vk)
	d.a.metrics.RecordBundleApplied(kind, err)
	if err != nil {
		return err
	}
	if ib != nil {
		records, err := d.ledger.ApplyIssueBundle(ib, sighash)
		d.a.metrics.RecordIssuanceVerification(err)
		if err != nil {
			return err
		}
		for a, rec := range records {
			d.a.logger.Audit("asset_issued", map[string]any{
				"asset": a.String(), "supply": uint64(rec.Amount), "finalized": rec.IsFinalized,
			})
		}
	}
	d.a.logger.Audit("bundle_applied", map[string]any{
		"kind": kind, "actions": len(b.Actions()), "value_balance": int64(b.ValueBalance()), "burns": len(b.Burn()),
	})

	for _, w := range []*wallet.Wallet{d.alice, d.bob} {
		added, err := w.ScanBundle(b, d.ledger)
		if err != nil {
			return err
		}
		if ib != nil {
			issued, err := w.ScanIssuedNotes(ib.Notes(), d.ledger)
			if err != nil {
				return err
			}
			added += issued
		}
		spent, err := w.SyncSpent(d.ledger)
		if err != nil {
			return err
		}
		d.a.metrics.RecordTrialDecryptions(len(b.Actions()))
		log.Info().Str("wallet", w.Name).Str("tx", kind).Int("received", added).Int("spent", spent).Msg("wallet synced")
	}
	if cmxs, err := d.ledger.Commitments(); err == nil {
		d.a.metrics.SetLedgerCommitments(len(cmxs))
	}
	return nil
}
