package decoder

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"math/big"
	"strings"
	"unicode"

	bin "github.com/gagliardetto/binary"
	"github.com/gagliardetto/solana-go"
)

const maxTypeDepth = 32

var errTruncated = errors.New("instruction data truncated")

// Discriminator is Anchor's instruction tag: the first eight bytes of
// sha256("global:" + snake_case(name)).
func Discriminator(name string) [8]byte {
	sum := sha256.Sum256([]byte("global:" + snakeCase(name)))
	var d [8]byte
	copy(d[:], sum[:8])
	return d
}

func snakeCase(s string) string {
	var b strings.Builder
	runes := []rune(s)
	for i, r := range runes {
		if unicode.IsUpper(r) {
			if i > 0 && (unicode.IsLower(runes[i-1]) || unicode.IsDigit(runes[i-1])) {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// AnchorDecoder decodes instructions of one Anchor program from its IDL.
type AnchorDecoder struct {
	programID solana.PublicKey
	byDisc    map[[8]byte]*IDLInstruction
	types     map[string]*IDLTypeDef
}

// NewAnchorDecoder binds an IDL to a program address.
func NewAnchorDecoder(programID solana.PublicKey, idl *IDL) (*AnchorDecoder, error) {
	d := &AnchorDecoder{
		programID: programID,
		byDisc:    make(map[[8]byte]*IDLInstruction, len(idl.Instructions)),
		types:     make(map[string]*IDLTypeDef, len(idl.Types)),
	}
	for i := range idl.Instructions {
		ix := &idl.Instructions[i]
		disc := Discriminator(ix.Name)
		if len(ix.Discriminator) > 0 {
			if len(ix.Discriminator) != 8 {
				return nil, fmt.Errorf("instruction %s: discriminator must be 8 bytes", ix.Name)
			}
			for j, v := range ix.Discriminator {
				disc[j] = byte(v)
			}
		}
		if prev, ok := d.byDisc[disc]; ok {
			return nil, fmt.Errorf("instructions %s and %s share a discriminator", prev.Name, ix.Name)
		}
		d.byDisc[disc] = ix
	}
	for i := range idl.Types {
		d.types[idl.Types[i].Name] = &idl.Types[i]
	}
	return d, nil
}

func (d *AnchorDecoder) ProgramID() solana.PublicKey {
	return d.programID
}

// DecodeInstruction maps the discriminator to an IDL instruction and
// Borsh-decodes its args. Unknown discriminators yield an "unknown"
// instruction. Args that do not match the schema stop decoding there: the
// instruction keeps its name, the args read so far and the raw payload.
func (d *AnchorDecoder) DecodeInstruction(accounts []solana.PublicKey, data []byte) (*Instruction, error) {
	keys := pubkeyStrings(accounts)
	if len(data) < 8 {
		return unknownInstruction(keys, data), nil
	}
	var disc [8]byte
	copy(disc[:], data[:8])
	ix, ok := d.byDisc[disc]
	if !ok {
		return unknownInstruction(keys, data), nil
	}

	dec := bin.NewBorshDecoder(data[8:])
	args := make(map[string]any, len(ix.Args))
	for _, field := range ix.Args {
		v, err := d.decodeValue(dec, &field.Type, 0)
		if err != nil {
			return &Instruction{
				Name:     ix.Name,
				Accounts: positionalAccounts(flattenAccounts(ix.Accounts), keys),
				Args:     args,
				Data:     solana.Base58(data).String(),
				Error:    fmt.Sprintf("%s.%s: %v", ix.Name, field.Name, err),
			}, nil
		}
		args[field.Name] = v
	}

	return &Instruction{
		Name:     ix.Name,
		Accounts: positionalAccounts(flattenAccounts(ix.Accounts), keys),
		Args:     args,
	}, nil
}

func (d *AnchorDecoder) decodeValue(dec *bin.Decoder, t *IDLType, depth int) (any, error) {
	if depth > maxTypeDepth {
		return nil, fmt.Errorf("type nesting exceeds %d", maxTypeDepth)
	}
	switch {
	case t.Option != nil:
		tag, err := dec.ReadUint8()
		if err != nil {
			return nil, errTruncated
		}
		if tag == 0 {
			return nil, nil
		}
		return d.decodeValue(dec, t.Option, depth+1)
	case t.Vec != nil:
		n, err := readLength(dec)
		if err != nil {
			return nil, err
		}
		return d.decodeSeq(dec, t.Vec, n, depth)
	case t.Array != nil:
		return d.decodeSeq(dec, t.Array, t.ArrayLen, depth)
	case t.Defined != "":
		return d.decodeDefined(dec, t.Defined, depth)
	}
	return decodePrimitive(dec, t.Primitive)
}

func (d *AnchorDecoder) decodeSeq(dec *bin.Decoder, elem *IDLType, n, depth int) (any, error) {
	if elem.Primitive == "u8" {
		return readN(dec, n)
	}
	out := make([]any, 0, n)
	for i := 0; i < n; i++ {
		v, err := d.decodeValue(dec, elem, depth+1)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func (d *AnchorDecoder) decodeDefined(dec *bin.Decoder, name string, depth int) (any, error) {
	def, ok := d.types[name]
	if !ok {
		return nil, fmt.Errorf("undefined type %q", name)
	}
	switch def.Type.Kind {
	case "struct":
		fields, err := parseFields(def.Type.Fields)
		if err != nil {
			return nil, err
		}
		return d.decodeFields(dec, fields, depth)
	case "enum":
		idx, err := dec.ReadUint8()
		if err != nil {
			return nil, errTruncated
		}
		if int(idx) >= len(def.Type.Variants) {
			return nil, fmt.Errorf("%s: variant %d out of range", name, idx)
		}
		variant := def.Type.Variants[idx]
		fields, err := parseFields(variant.Fields)
		if err != nil {
			return nil, err
		}
		if len(fields) == 0 {
			return variant.Name, nil
		}
		inner, err := d.decodeFields(dec, fields, depth)
		if err != nil {
			return nil, err
		}
		return map[string]any{variant.Name: inner}, nil
	}
	return nil, fmt.Errorf("%s: unsupported kind %q", name, def.Type.Kind)
}

func (d *AnchorDecoder) decodeFields(dec *bin.Decoder, fields []IDLField, depth int) (map[string]any, error) {
	out := make(map[string]any, len(fields))
	for _, f := range fields {
		v, err := d.decodeValue(dec, &f.Type, depth+1)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", f.Name, err)
		}
		out[f.Name] = v
	}
	return out, nil
}

func decodePrimitive(dec *bin.Decoder, name string) (any, error) {
	le := binary.LittleEndian
	var (
		v   any
		err error
	)
	switch name {
	case "bool":
		var b uint8
		b, err = dec.ReadUint8()
		v = b != 0
	case "u8":
		v, err = dec.ReadUint8()
	case "i8":
		var b uint8
		b, err = dec.ReadUint8()
		v = int8(b)
	case "u16":
		v, err = dec.ReadUint16(le)
	case "i16":
		var u uint16
		u, err = dec.ReadUint16(le)
		v = int16(u)
	case "u32":
		v, err = dec.ReadUint32(le)
	case "i32":
		var u uint32
		u, err = dec.ReadUint32(le)
		v = int32(u)
	case "u64":
		v, err = dec.ReadUint64(le)
	case "i64":
		var u uint64
		u, err = dec.ReadUint64(le)
		v = int64(u)
	case "f32":
		var u uint32
		u, err = dec.ReadUint32(le)
		v = math.Float32frombits(u)
	case "f64":
		var u uint64
		u, err = dec.ReadUint64(le)
		v = math.Float64frombits(u)
	case "u128", "i128":
		var raw []byte
		if raw, err = readN(dec, 16); err != nil {
			return nil, err
		}
		return int128String(raw, name == "i128"), nil
	case "publicKey", "pubkey":
		var raw []byte
		if raw, err = readN(dec, 32); err != nil {
			return nil, err
		}
		return solana.PublicKeyFromBytes(raw).String(), nil
	case "string":
		raw, err := readBytes(dec)
		if err != nil {
			return nil, err
		}
		return string(raw), nil
	case "bytes":
		return readBytes(dec)
	default:
		return nil, fmt.Errorf("unsupported primitive %q", name)
	}
	if err != nil {
		return nil, errTruncated
	}
	return v, nil
}

func readLength(dec *bin.Decoder) (int, error) {
	n, err := dec.ReadUint32(binary.LittleEndian)
	if err != nil {
		return 0, errTruncated
	}
	if int(n) > dec.Remaining() {
		return 0, fmt.Errorf("length %d exceeds remaining %d bytes", n, dec.Remaining())
	}
	return int(n), nil
}

func readBytes(dec *bin.Decoder) ([]byte, error) {
	n, err := readLength(dec)
	if err != nil {
		return nil, err
	}
	return readN(dec, n)
}

func readN(dec *bin.Decoder, n int) ([]byte, error) {
	if n > dec.Remaining() {
		return nil, errTruncated
	}
	if n == 0 {
		return []byte{}, nil
	}
	raw, err := dec.ReadNBytes(n)
	if err != nil {
		return nil, errTruncated
	}
	return raw, nil
}

// int128String renders a little-endian 128-bit integer in decimal.
func int128String(le []byte, signed bool) string {
	be := make([]byte, len(le))
	for i := range le {
		be[len(le)-1-i] = le[i]
	}
	n := new(big.Int).SetBytes(be)
	if signed && be[0]&0x80 != 0 {
		n.Sub(n, new(big.Int).Lsh(big.NewInt(1), 128))
	}
	return n.String()
}

func pubkeyStrings(keys []solana.PublicKey) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}

func unknownInstruction(keys []string, data []byte) *Instruction {
	return &Instruction{
		Name:     UnknownName,
		Accounts: positionalAccounts(nil, keys),
		Data:     solana.Base58(data).String(),
	}
}
