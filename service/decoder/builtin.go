package decoder

import (
	"fmt"
	"unicode"
	"unicode/utf8"

	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/programs/system"
)

// SystemDecoder names System program instructions. createAccount is the
// marker the classifier uses for new marketplace orders.
type SystemDecoder struct{}

func (SystemDecoder) ProgramID() solana.PublicKey {
	return solana.SystemProgramID
}

var systemAccountRoles = map[string][]string{
	"createAccount":         {"fundingAccount", "newAccount"},
	"createAccountWithSeed": {"fundingAccount", "createdAccount", "baseAccount"},
	"transfer":              {"from", "to"},
	"transferWithSeed":      {"from", "base", "to"},
	"assign":                {"assignedAccount"},
	"allocate":              {"newAccount"},
}

func (SystemDecoder) DecodeInstruction(accounts []solana.PublicKey, data []byte) (*Instruction, error) {
	metas := make([]*solana.AccountMeta, len(accounts))
	for i, k := range accounts {
		metas[i] = solana.Meta(k)
	}
	inst, err := system.DecodeInstruction(metas, data)
	if err != nil {
		return nil, fmt.Errorf("system instruction: %w", err)
	}

	name := lowerFirst(system.InstructionIDToName(inst.TypeID.Uint32()))
	args := map[string]any{}
	switch impl := inst.Impl.(type) {
	case *system.CreateAccount:
		setUint(args, "lamports", impl.Lamports)
		setUint(args, "space", impl.Space)
		if impl.Owner != nil {
			args["owner"] = impl.Owner.String()
		}
	case *system.Transfer:
		setUint(args, "lamports", impl.Lamports)
	case *system.Assign:
		if impl.Owner != nil {
			args["owner"] = impl.Owner.String()
		}
	}
	if len(args) == 0 {
		args = nil
	}

	return &Instruction{
		Name:     name,
		Accounts: positionalAccounts(systemAccountRoles[name], pubkeyStrings(accounts)),
		Args:     args,
	}, nil
}

// AssociatedTokenDecoder names Associated Token Account program
// instructions. The program has no args, only a one-byte selector that
// older clients omit entirely.
type AssociatedTokenDecoder struct{}

func (AssociatedTokenDecoder) ProgramID() solana.PublicKey {
	return solana.SPLAssociatedTokenAccountProgramID
}

const (
	CreateAssociatedTokenAccount           = "createAssociatedTokenAccount"
	CreateAssociatedTokenAccountIdempotent = "createAssociatedTokenAccountIdempotent"
	RecoverNested                          = "recoverNested"
)

var (
	ataCreateRoles  = []string{"fundingAddress", "associatedAccount", "walletAddress", "tokenMint", "systemProgram", "tokenProgram"}
	ataRecoverRoles = []string{"nestedAssociatedAccount", "nestedTokenMint", "destinationAssociatedAccount", "ownerAssociatedAccount", "ownerTokenMint", "walletAddress", "tokenProgram"}
)

func (AssociatedTokenDecoder) DecodeInstruction(accounts []solana.PublicKey, data []byte) (*Instruction, error) {
	keys := pubkeyStrings(accounts)
	selector := byte(0)
	if len(data) > 0 {
		selector = data[0]
	}
	switch selector {
	case 0:
		return &Instruction{Name: CreateAssociatedTokenAccount, Accounts: positionalAccounts(ataCreateRoles, keys)}, nil
	case 1:
		return &Instruction{Name: CreateAssociatedTokenAccountIdempotent, Accounts: positionalAccounts(ataCreateRoles, keys)}, nil
	case 2:
		return &Instruction{Name: RecoverNested, Accounts: positionalAccounts(ataRecoverRoles, keys)}, nil
	}
	return unknownInstruction(keys, data), nil
}

func setUint(args map[string]any, key string, v *uint64) {
	if v != nil {
		args[key] = *v
	}
}

func lowerFirst(s string) string {
	r, size := utf8.DecodeRuneInString(s)
	if r == utf8.RuneError {
		return s
	}
	return string(unicode.ToLower(r)) + s[size:]
}
