package domain

// TransactionRecord is the subset of a getTransaction result the pipeline reads.
// It is immutable once fetched.
type TransactionRecord struct {
	Signature         string
	Slot              int64
	BlockTime         int64         // Unix seconds, 0 if unknown
	AccountKeys       []string      // static message account keys, in order
	Instructions      []Instruction // top-level instructions
	PreBalances       []uint64      // lamports, indexed like AccountKeys
	PostBalances      []uint64      // lamports, indexed like AccountKeys
	PreTokenBalances  []TokenBalance
	PostTokenBalances []TokenBalance
	Err               interface{} // meta.err
	Size              int64       // serialized size in bytes, 0 if unknown
}

// Instruction is a compiled top-level instruction.
type Instruction struct {
	ProgramIndex int   // index into AccountKeys
	Accounts     []int // indexes into AccountKeys
}

// TokenBalance is one row of meta.preTokenBalances / meta.postTokenBalances.
type TokenBalance struct {
	AccountIndex int
	Mint         string
	Owner        string // empty when the RPC omitted it
	UIAmount     string // decimal string, e.g. "10.0"
}

// ProgramID resolves the program key of an instruction via the static account keys.
// Returns "" when the index is out of range.
func (r *TransactionRecord) ProgramID(ix Instruction) string {
	if ix.ProgramIndex < 0 || ix.ProgramIndex >= len(r.AccountKeys) {
		return ""
	}
	return r.AccountKeys[ix.ProgramIndex]
}

// InvokesProgram reports whether any top-level instruction targets programID.
func (r *TransactionRecord) InvokesProgram(programID string) bool {
	for _, ix := range r.Instructions {
		if r.ProgramID(ix) == programID {
			return true
		}
	}
	return false
}
