// Package abi encodes call payloads and fixed-size results.
//
// A payload is a 4-byte selector followed by arguments; the selector is the
// first four bytes of the Keccak-256 hash of the canonical signature, e.g.
// "getUint()". Results are sequences of 32-byte big-endian words.
//
// This is the platform's invoke primitive. The relay never looks inside a
// payload; only backends and static callers use this package.
package abi
