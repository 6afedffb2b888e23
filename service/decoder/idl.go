package decoder

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
)

//go:embed idl/marketplace.json
var marketplaceIDL []byte

// IDL is the subset of an Anchor interface definition the decoder needs.
// Both the legacy (isMut/isSigner, "publicKey") and the 0.30 layout
// (writable/signer, "pubkey", explicit discriminators) are accepted.
type IDL struct {
	Version      string           `json:"version"`
	Name         string           `json:"name"`
	Address      string           `json:"address"`
	Instructions []IDLInstruction `json:"instructions"`
	Types        []IDLTypeDef     `json:"types"`
	Metadata     struct {
		Name    string `json:"name"`
		Address string `json:"address"`
	} `json:"metadata"`
}

// ProgramAddress returns the address declared in the IDL, if any.
func (idl *IDL) ProgramAddress() string {
	if idl.Address != "" {
		return idl.Address
	}
	return idl.Metadata.Address
}

type IDLInstruction struct {
	Name          string           `json:"name"`
	Discriminator []int            `json:"discriminator"`
	Accounts      []IDLAccountItem `json:"accounts"`
	Args          []IDLField       `json:"args"`
}

// IDLAccountItem is an account or a nested group of accounts.
type IDLAccountItem struct {
	Name     string           `json:"name"`
	IsMut    bool             `json:"isMut"`
	IsSigner bool             `json:"isSigner"`
	Writable bool             `json:"writable"`
	Signer   bool             `json:"signer"`
	Accounts []IDLAccountItem `json:"accounts"`
}

type IDLField struct {
	Name string  `json:"name"`
	Type IDLType `json:"type"`
}

type IDLTypeDef struct {
	Name string `json:"name"`
	Type struct {
		Kind     string          `json:"kind"`
		Fields   json.RawMessage `json:"fields"`
		Variants []struct {
			Name   string          `json:"name"`
			Fields json.RawMessage `json:"fields"`
		} `json:"variants"`
	} `json:"type"`
}

// IDLType is a primitive name or one of the composite forms
// option, coption, vec, array and defined.
type IDLType struct {
	Primitive string
	Option    *IDLType
	Vec       *IDLType
	Array     *IDLType
	ArrayLen  int
	Defined   string
}

func (t *IDLType) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		return json.Unmarshal(b, &t.Primitive)
	}

	var obj map[string]json.RawMessage
	if err := json.Unmarshal(b, &obj); err != nil {
		return fmt.Errorf("idl type: %w", err)
	}
	switch {
	case obj["option"] != nil:
		t.Option = new(IDLType)
		return json.Unmarshal(obj["option"], t.Option)
	case obj["coption"] != nil:
		t.Option = new(IDLType)
		return json.Unmarshal(obj["coption"], t.Option)
	case obj["vec"] != nil:
		t.Vec = new(IDLType)
		return json.Unmarshal(obj["vec"], t.Vec)
	case obj["array"] != nil:
		var parts []json.RawMessage
		if err := json.Unmarshal(obj["array"], &parts); err != nil || len(parts) != 2 {
			return fmt.Errorf("idl type: malformed array %s", obj["array"])
		}
		t.Array = new(IDLType)
		if err := json.Unmarshal(parts[0], t.Array); err != nil {
			return err
		}
		return json.Unmarshal(parts[1], &t.ArrayLen)
	case obj["defined"] != nil:
		if err := json.Unmarshal(obj["defined"], &t.Defined); err == nil {
			return nil
		}
		var named struct {
			Name string `json:"name"`
		}
		if err := json.Unmarshal(obj["defined"], &named); err != nil {
			return fmt.Errorf("idl type: malformed defined %s", obj["defined"])
		}
		t.Defined = named.Name
		return nil
	}
	return fmt.Errorf("idl type: unsupported %s", b)
}

// ParseIDL decodes an IDL document.
func ParseIDL(data []byte) (*IDL, error) {
	var idl IDL
	if err := json.Unmarshal(data, &idl); err != nil {
		return nil, fmt.Errorf("failed to parse idl: %w", err)
	}
	if len(idl.Instructions) == 0 {
		return nil, fmt.Errorf("idl %q declares no instructions", idl.Name)
	}
	return &idl, nil
}

// LoadIDL reads an IDL from path, or returns the embedded marketplace IDL
// when path is empty.
func LoadIDL(path string) (*IDL, error) {
	if path == "" {
		return ParseIDL(marketplaceIDL)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read idl: %w", err)
	}
	return ParseIDL(data)
}

// flattenAccounts returns account role names in wire order.
func flattenAccounts(items []IDLAccountItem) []string {
	var names []string
	for _, item := range items {
		if len(item.Accounts) > 0 {
			names = append(names, flattenAccounts(item.Accounts)...)
			continue
		}
		names = append(names, item.Name)
	}
	return names
}

// parseFields reads a struct or variant field list. Named fields are
// {"name","type"} objects; tuple fields are bare types.
func parseFields(raw json.RawMessage) ([]IDLField, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}
	var items []json.RawMessage
	if err := json.Unmarshal(raw, &items); err != nil {
		return nil, fmt.Errorf("idl fields: %w", err)
	}
	fields := make([]IDLField, 0, len(items))
	for i, item := range items {
		var probe map[string]json.RawMessage
		if json.Unmarshal(item, &probe) == nil && probe["name"] != nil && probe["type"] != nil {
			var f IDLField
			if err := json.Unmarshal(item, &f); err != nil {
				return nil, err
			}
			fields = append(fields, f)
			continue
		}
		var t IDLType
		if err := json.Unmarshal(item, &t); err != nil {
			return nil, err
		}
		fields = append(fields, IDLField{Name: fmt.Sprintf("%d", i), Type: t})
	}
	return fields, nil
}
