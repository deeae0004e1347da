package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity.
// Version suffix enables future algorithm migration.
const (
	DomainModule = "stablecall/module/v1"
	DomainLayout = "stablecall/layout/v1"
)

// hashWithDomain computes SHA256(domain + 0x00 + data).
// The null byte separator prevents domain/data boundary ambiguity.
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// ModuleRefFor computes the content-addressed reference of a module spec.
// Deploying the same spec twice yields the same reference.
func ModuleRefFor(spec ModuleSpec) (ModuleRef, error) {
	canonical, err := MarshalCanonical(spec.Object())
	if err != nil {
		return "", fmt.Errorf("ModuleRefFor: failed to marshal: %w", err)
	}
	return ModuleRef(hashWithDomain(DomainModule, canonical)), nil
}

// LayoutFingerprint hashes a field layout. Two layouts with the same
// fingerprint place every field in the same slot with the same type.
func LayoutFingerprint(layout []Field) (string, error) {
	arr := make(Array, len(layout))
	for i, f := range layout {
		arr[i] = NewObject(O("name", String(f.Name)), O("type", String(f.Type)))
	}
	canonical, err := MarshalCanonical(arr)
	if err != nil {
		return "", fmt.Errorf("LayoutFingerprint: failed to marshal: %w", err)
	}
	return hashWithDomain(DomainLayout, canonical), nil
}

// MustModuleRef is like ModuleRefFor but panics on error.
// Use only in tests or when inputs are known to be valid.
func MustModuleRef(spec ModuleSpec) ModuleRef {
	ref, err := ModuleRefFor(spec)
	if err != nil {
		panic(err)
	}
	return ref
}
