package decoder

import "fmt"

// UnknownName labels instructions no registered decoder recognised.
const UnknownName = "unknown"

// AccountRef is one account of an instruction with the role the program
// schema gives it.
type AccountRef struct {
	Name   string `json:"name"`
	Pubkey string `json:"pubkey"`
}

// Instruction is a decoded top-level instruction.
type Instruction struct {
	ProgramID string         `json:"programId"`
	Name      string         `json:"name"`
	Accounts  []AccountRef   `json:"accounts"`
	Args      map[string]any `json:"args,omitempty"`
	// Data holds the base58 payload when the instruction could not be
	// fully decoded.
	Data string `json:"data,omitempty"`
	// Error says why decoding stopped early; Args then holds the fields
	// read before it.
	Error string `json:"error,omitempty"`
}

// Account returns the address bound to a role name.
func (i Instruction) Account(name string) (string, bool) {
	for _, a := range i.Accounts {
		if a.Name == name {
			return a.Pubkey, true
		}
	}
	return "", false
}

// Arg returns an argument value by field name.
func (i Instruction) Arg(name string) (any, bool) {
	v, ok := i.Args[name]
	return v, ok
}

// Decoded is the decoder's view of one transaction.
type Decoded struct {
	Signature    string        `json:"signature"`
	Slot         uint64        `json:"slot"`
	BlockTime    *int64        `json:"blockTime,omitempty"`
	Failed       bool          `json:"failed,omitempty"`
	Instructions []Instruction `json:"instructions"`
}

// Names lists instruction names in order, mostly for logging.
func (d *Decoded) Names() []string {
	names := make([]string, len(d.Instructions))
	for i, ix := range d.Instructions {
		names[i] = ix.Name
	}
	return names
}

// DecodeFailure means a transaction could not be fetched or decoded. The
// pipeline skips it and moves on.
type DecodeFailure struct {
	Signature string
	Err       error
}

func (e *DecodeFailure) Error() string {
	return fmt.Sprintf("decode %s: %v", e.Signature, e.Err)
}

func (e *DecodeFailure) Unwrap() error {
	return e.Err
}

// positionalAccounts pairs keys with schema role names. Keys beyond the
// schema are remaining accounts; with no schema at all they are numbered.
func positionalAccounts(names []string, keys []string) []AccountRef {
	refs := make([]AccountRef, len(keys))
	for i, key := range keys {
		var name string
		switch {
		case i < len(names):
			name = names[i]
		case len(names) == 0:
			name = fmt.Sprintf("account%d", i)
		default:
			name = fmt.Sprintf("remaining%d", i-len(names))
		}
		refs[i] = AccountRef{Name: name, Pubkey: key}
	}
	return refs
}
