// proof.go - Groth16 setup, proving and verification of action circuits.

package circuit

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"os"
	"runtime"

	"github.com/consensys/gnark-crypto/ecc"
	"github.com/consensys/gnark/backend/groth16"
	"github.com/consensys/gnark/constraint"
	"github.com/consensys/gnark/frontend"
	"github.com/consensys/gnark/frontend/cs/r1cs"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// ErrInvalidProof is returned when a proof does not verify or cannot be decoded.
var ErrInvalidProof = errors.New("circuit: invalid proof")

// ProvingKey bundles the compiled constraint system with its Groth16 proving key.
type ProvingKey struct {
	ccs constraint.ConstraintSystem
	pk  groth16.ProvingKey
}

// VerifyingKey is the Groth16 verifying key of the action circuit.
type VerifyingKey struct {
	vk groth16.VerifyingKey
}

// Compile builds the action constraint system over the BLS12-377 scalar field.
func Compile() (constraint.ConstraintSystem, error) {
	var c ActionCircuit
	ccs, err := frontend.Compile(ecc.BLS12_377.ScalarField(), r1cs.NewBuilder, &c)
	if err != nil {
		return nil, fmt.Errorf("circuit compilation failed: %w", err)
	}
	log.Debug().Int("constraints", ccs.GetNbConstraints()).Msg("action circuit compiled")
	return ccs, nil
}

// Setup compiles the circuit and runs a fresh Groth16 setup.
func Setup() (*ProvingKey, *VerifyingKey, error) {
	ccs, err := Compile()
	if err != nil {
		return nil, nil, err
	}
	pk, vk, err := groth16.Setup(ccs)
	if err != nil {
		return nil, nil, fmt.Errorf("groth16 setup failed: %w", err)
	}
	return &ProvingKey{ccs: ccs, pk: pk}, &VerifyingKey{vk: vk}, nil
}

// SetupOrLoadKeys loads the key pair from disk when both files exist; otherwise it
// runs a fresh setup and saves the keys.
func SetupOrLoadKeys(pkPath, vkPath string) (*ProvingKey, *VerifyingKey, error) {
	vk, vkErr := LoadVerifyingKey(vkPath)
	pk, pkErr := LoadProvingKey(pkPath)
	if pkErr == nil && vkErr == nil {
		log.Debug().Str("pk", pkPath).Str("vk", vkPath).Msg("loaded proving keys")
		return pk, vk, nil
	}
	pk, vk, err := Setup()
	if err != nil {
		return nil, nil, err
	}
	if err := SaveProvingKey(pkPath, pk); err != nil {
		return nil, nil, err
	}
	if err := SaveVerifyingKey(vkPath, vk); err != nil {
		return nil, nil, err
	}
	log.Debug().Str("pk", pkPath).Str("vk", vkPath).Msg("generated proving keys")
	return pk, vk, nil
}

// SaveProvingKey saves a Groth16 proving key to disk.
func SaveProvingKey(path string, pk *ProvingKey) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = pk.pk.WriteTo(f)
	return err
}

// SaveVerifyingKey saves a Groth16 verifying key to disk.
func SaveVerifyingKey(path string, vk *VerifyingKey) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = vk.vk.WriteTo(f)
	return err
}

// LoadProvingKey loads a Groth16 proving key from disk. The constraint system is
// recompiled since it is deterministic.
func LoadProvingKey(path string) (*ProvingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	pk := groth16.NewProvingKey(ecc.BLS12_377)
	if _, err := pk.ReadFrom(f); err != nil {
		return nil, err
	}
	ccs, err := Compile()
	if err != nil {
		return nil, err
	}
	return &ProvingKey{ccs: ccs, pk: pk}, nil
}

// LoadVerifyingKey loads a Groth16 verifying key from disk.
func LoadVerifyingKey(path string) (*VerifyingKey, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	vk := groth16.NewVerifyingKey(ecc.BLS12_377)
	_, err = vk.ReadFrom(f)
	return &VerifyingKey{vk: vk}, err
}

// Proof is the aggregate proof of a bundle: one Groth16 proof per action, encoded as
// a big-endian uint32 count followed by length-prefixed proofs.
type Proof []byte

// CreateProof proves every action in parallel. circuits and instances are matched
// by index.
func CreateProof(pk *ProvingKey, circuits []Circuit, instances []Instance) (Proof, error) {
	if len(circuits) != len(instances) {
		return nil, fmt.Errorf("circuit: %d witnesses for %d instances", len(circuits), len(instances))
	}
	proofs := make([][]byte, len(circuits))

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range circuits {
		g.Go(func() error {
			w, err := frontend.NewWitness(circuits[i].assignment(instances[i]), ecc.BLS12_377.ScalarField())
			if err != nil {
				return fmt.Errorf("action %d: witness creation failed: %w", i, err)
			}
			proof, err := groth16.Prove(pk.ccs, pk.pk, w)
			if err != nil {
				return fmt.Errorf("action %d: proof generation failed: %w", i, err)
			}
			var buf bytes.Buffer
			if _, err := proof.WriteTo(&buf); err != nil {
				return fmt.Errorf("action %d: proof marshaling failed: %w", i, err)
			}
			proofs[i] = buf.Bytes()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var out bytes.Buffer
	_ = binary.Write(&out, binary.BigEndian, uint32(len(proofs)))
	for _, p := range proofs {
		_ = binary.Write(&out, binary.BigEndian, uint32(len(p)))
		out.Write(p)
	}
	log.Debug().Int("actions", len(proofs)).Int("bytes", out.Len()).Msg("created bundle proof")
	return out.Bytes(), nil
}

// split decodes the per-action proofs.
func (p Proof) split() ([][]byte, error) {
	r := bytes.NewReader(p)
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, ErrInvalidProof
	}
	if uint64(n) > uint64(r.Len()) {
		return nil, ErrInvalidProof
	}
	out := make([][]byte, n)
	for i := range out {
		var l uint32
		if err := binary.Read(r, binary.BigEndian, &l); err != nil || uint64(l) > uint64(r.Len()) {
			return nil, ErrInvalidProof
		}
		out[i] = make([]byte, l)
		_, _ = r.Read(out[i])
	}
	if r.Len() != 0 {
		return nil, ErrInvalidProof
	}
	return out, nil
}

// Verify checks the proof against the public inputs of every action.
func (p Proof) Verify(vk *VerifyingKey, instances []Instance) error {
	proofs, err := p.split()
	if err != nil {
		return err
	}
	if len(proofs) != len(instances) {
		return fmt.Errorf("%w: %d proofs for %d actions", ErrInvalidProof, len(proofs), len(instances))
	}

	var g errgroup.Group
	g.SetLimit(runtime.GOMAXPROCS(0))
	for i := range proofs {
		g.Go(func() error {
			w, err := frontend.NewWitness(instances[i].assignment(), ecc.BLS12_377.ScalarField(), frontend.PublicOnly())
			if err != nil {
				return fmt.Errorf("action %d: public witness creation failed: %w", i, err)
			}
			proof := groth16.NewProof(ecc.BLS12_377)
			if _, err := proof.ReadFrom(bytes.NewReader(proofs[i])); err != nil {
				return fmt.Errorf("%w: action %d: %v", ErrInvalidProof, i, err)
			}
			if err := groth16.Verify(proof, vk.vk, w); err != nil {
				return fmt.Errorf("%w: action %d: %v", ErrInvalidProof, i, err)
			}
			return nil
		})
	}
	return g.Wait()
}
