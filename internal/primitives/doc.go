// Package primitives implements the curve, field and hash building blocks of the
// shielded pool.
//
// Overview:
//   - Points live on the twisted Edwards curve defined over the BLS12-377 scalar field
//     (gnark-crypto ecc/bls12-377/twistededwards). Only prime-order points are accepted
//     on decode.
//   - Scalars are integers modulo the prime subgroup order, encoded as 32 bytes little-endian.
//   - Base field elements are fr.Element values of BLS12-377, the native field of the
//     action circuit, so every value hashed with MiMC here is hashed identically in-circuit.
//   - Domain-separated hashing uses personalized BLAKE2b (minio/blake2b-simd).
//
// Security Model:
//   - Fixed generators are derived with a try-and-increment hash to curve, so nobody knows
//     discrete logarithms between them.
//   - All randomness is read from a caller-supplied io.Reader; this package never reaches
//     for a global random source.
package primitives
