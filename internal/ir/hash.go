package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
const (
	DomainBackend          = "vrelay/backend/v" + RecordVersion
	DomainVersionChange    = "vrelay/version-change/v" + RecordVersion
	DomainSizeRegistration = "vrelay/size-registration/v" + RecordVersion
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) []byte {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return h.Sum(nil)
}

// BackendHandle derives a stable handle from a backend manifest.
// The same manifest always deploys at the same handle, so a CLI session can
// redeploy manifests and still match handles persisted by an earlier one.
// Format mirrors a 20-byte account address: "0x" + 40 hex digits.
func BackendHandle(spec BackendSpec) (Handle, error) {
	ops := make(IRArray, len(spec.Operations))
	for i, op := range spec.Operations {
		if op.Value == nil {
			return "", fmt.Errorf("BackendHandle: operation %q has no value", op.Signature)
		}
		ops[i] = IRObject{
			"signature": IRString(op.Signature),
			"returns":   IRString(op.Returns),
			"value":     op.Value,
		}
	}
	obj := IRObject{
		"name":       IRString(spec.Name),
		"version":    IRInt(spec.Version),
		"operations": ops,
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("BackendHandle: failed to marshal: %w", err)
	}

	sum := hashWithDomain(DomainBackend, canonical)
	return Handle("0x" + hex.EncodeToString(sum[:20])), nil
}

// VersionChangeID computes the content-addressed ID of a version change.
func VersionChangeID(c VersionChange) (string, error) {
	obj := IRObject{
		"relay":            IRString(c.Relay),
		"kind":             IRString(c.Kind),
		"version":          IRInt(c.Version),
		"backend":          IRString(c.Backend),
		"previous_version": IRInt(c.PreviousVersion),
		"previous_backend": IRString(c.PreviousBackend),
		"seq":              IRInt(c.Seq),
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("VersionChangeID: failed to marshal: %w", err)
	}

	return hex.EncodeToString(hashWithDomain(DomainVersionChange, canonical)), nil
}

// SizeRegistrationID computes the content-addressed ID of a size registration.
func SizeRegistrationID(r SizeRegistration) (string, error) {
	obj := IRObject{
		"relay":     IRString(r.Relay),
		"signature": IRString(r.Entry.Signature),
		"selector":  IRString(r.Entry.Selector.String()),
		"size":      IRInt(r.Entry.Size),
		"seq":       IRInt(r.Seq),
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("SizeRegistrationID: failed to marshal: %w", err)
	}

	return hex.EncodeToString(hashWithDomain(DomainSizeRegistration, canonical)), nil
}

// MustBackendHandle is like BackendHandle but panics on error.
// Use only in tests or when the manifest is known to be valid.
func MustBackendHandle(spec BackendSpec) Handle {
	h, err := BackendHandle(spec)
	if err != nil {
		panic(err)
	}
	return h
}
