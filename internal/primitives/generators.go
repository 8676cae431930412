package primitives

// Fixed generators. Each is an independent hash-to-curve output.
var (
	// NullifierK is the base for the PRF output in nullifier derivation.
	NullifierK = GroupHash("zsapool:Nullifier", []byte("K"))
	// NullifierL is added to split-note nullifiers.
	NullifierL = GroupHash("zsapool:Nullifier", []byte("L"))
	// SpendAuthG is the spend authorization basepoint.
	SpendAuthG = GroupHash("zsapool:SpendAuth", []byte("G"))
	// ValueCommitR blinds value commitments and is the binding signature basepoint.
	ValueCommitR = GroupHash("zsapool:ValueCommit", []byte("r"))
	// ValueCommitV is the native asset base.
	ValueCommitV = GroupHash("zsapool:ValueCommit", []byte("v"))
	// NoteCommitQ and NoteCommitQZSA are the message bases of the two note commitment
	// variants; NoteCommitR blinds both.
	NoteCommitQ    = GroupHash("zsapool:NoteCommit", []byte("Q"))
	NoteCommitQZSA = GroupHash("zsapool:NoteCommit-ZSA", []byte("Q"))
	NoteCommitR    = GroupHash("zsapool:NoteCommit", []byte("r"))
)
