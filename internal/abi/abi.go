package abi

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"golang.org/x/crypto/sha3"

	"github.com/roach88/vrelay/internal/ir"
)

// WordSize is the width of one encoded value.
const WordSize = 32

// SelectorSize is the width of the payload prefix.
const SelectorSize = 4

// returnSizes holds the encoded width of each supported return type.
var returnSizes = map[string]int{
	"uint256": WordSize,
	"bool":    WordSize,
	"bytes32": WordSize,
}

// ValidReturnTypes lists the supported return types in display order.
var ValidReturnTypes = []string{"uint256", "bool", "bytes32"}

// Signature is a parsed operation signature.
type Signature struct {
	Name string
	Args []string
}

// Canonical renders the signature in the form that is hashed into a selector.
func (s Signature) Canonical() string {
	return s.Name + "(" + strings.Join(s.Args, ",") + ")"
}

// ParseSignature validates "name(type,type)" and strips whitespace.
// Returns an INVALID_SIGNATURE RelayError on malformed input.
func ParseSignature(sig string) (Signature, error) {
	compact := strings.Join(strings.Fields(sig), "")
	open := strings.IndexByte(compact, '(')
	if open <= 0 || !strings.HasSuffix(compact, ")") {
		return Signature{}, ir.NewInvalidSignatureError(sig, "signature must look like name(type,...)")
	}

	name := compact[:open]
	if !isIdentifier(name) {
		return Signature{}, ir.NewInvalidSignatureError(sig, fmt.Sprintf("invalid operation name %q", name))
	}

	inner := compact[open+1 : len(compact)-1]
	if strings.ContainsAny(inner, "()") {
		return Signature{}, ir.NewInvalidSignatureError(sig, "tuple arguments are not supported")
	}

	var args []string
	if inner != "" {
		for _, arg := range strings.Split(inner, ",") {
			if !isIdentifier(strings.TrimRight(arg, "[]0123456789")) {
				return Signature{}, ir.NewInvalidSignatureError(sig, fmt.Sprintf("invalid argument type %q", arg))
			}
			args = append(args, arg)
		}
	}

	return Signature{Name: name, Args: args}, nil
}

func isIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '_' || r == '$':
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z':
		case r >= '0' && r <= '9' && i > 0:
		default:
			return false
		}
	}
	return true
}

// Selector returns the 4-byte selector of a signature.
// The signature is parsed first so "getUint( )" and "getUint()" agree.
func Selector(sig string) (ir.Selector, error) {
	parsed, err := ParseSignature(sig)
	if err != nil {
		return ir.Selector{}, err
	}
	return SelectorOf(parsed), nil
}

// SelectorOf hashes an already-parsed signature.
func SelectorOf(sig Signature) ir.Selector {
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(sig.Canonical()))
	var sel ir.Selector
	copy(sel[:], h.Sum(nil)[:SelectorSize])
	return sel
}

// EncodeCall builds the payload for an argument-less operation.
func EncodeCall(sig string) ([]byte, error) {
	parsed, err := ParseSignature(sig)
	if err != nil {
		return nil, err
	}
	if len(parsed.Args) > 0 {
		return nil, ir.NewInvalidSignatureError(sig, "operations with arguments cannot be encoded without values")
	}
	sel := SelectorOf(parsed)
	return sel[:], nil
}

// SplitPayload separates a payload into its selector and argument bytes.
func SplitPayload(payload []byte) (ir.Selector, []byte, bool) {
	var sel ir.Selector
	if len(payload) < SelectorSize {
		return sel, nil, false
	}
	copy(sel[:], payload[:SelectorSize])
	return sel, payload[SelectorSize:], true
}

// ReturnSize reports the encoded width of a return type.
func ReturnSize(typ string) (int, bool) {
	n, ok := returnSizes[typ]
	return n, ok
}

// EncodeValue encodes a manifest value as one word of the given type.
//
//   - uint256: non-negative IRInt, big-endian, left-padded
//   - bool:    IRBool, 0 or 1
//   - bytes32: IRString of 0x-prefixed hex, right-padded
func EncodeValue(typ string, v ir.IRValue) ([]byte, error) {
	word := make([]byte, WordSize)
	switch typ {
	case "uint256":
		n, ok := v.(ir.IRInt)
		if !ok {
			return nil, fmt.Errorf("uint256 value must be an integer, got %T", v)
		}
		if n < 0 {
			return nil, fmt.Errorf("uint256 value must be non-negative, got %d", n)
		}
		new(big.Int).SetInt64(int64(n)).FillBytes(word)
	case "bool":
		b, ok := v.(ir.IRBool)
		if !ok {
			return nil, fmt.Errorf("bool value must be a boolean, got %T", v)
		}
		if b {
			word[WordSize-1] = 1
		}
	case "bytes32":
		s, ok := v.(ir.IRString)
		if !ok {
			return nil, fmt.Errorf("bytes32 value must be a hex string, got %T", v)
		}
		raw, err := decodeHex(string(s))
		if err != nil {
			return nil, fmt.Errorf("bytes32 value: %w", err)
		}
		if len(raw) > WordSize {
			return nil, fmt.Errorf("bytes32 value has %d bytes", len(raw))
		}
		copy(word, raw)
	default:
		return nil, fmt.Errorf("unsupported return type %q, must be one of: %s", typ, strings.Join(ValidReturnTypes, ", "))
	}
	return word, nil
}

// DecodeUint interprets raw as a big-endian unsigned integer.
func DecodeUint(raw []byte) *big.Int {
	return new(big.Int).SetBytes(raw)
}

func decodeHex(s string) ([]byte, error) {
	if !strings.HasPrefix(s, "0x") {
		return nil, fmt.Errorf("%q is not 0x-prefixed", s)
	}
	return hex.DecodeString(s[2:])
}
