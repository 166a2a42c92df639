// Package cryptoutils implements the client side of the registrar's commit-reveal
// scheme.
//
// A registration is front-running resistant because the name is first published
// only as a commitment:
//
//	commitment = blake2b-256(name || owner || secret || salt)
//
// The name is a variable-length UTF-8 label; owner, secret and salt are fixed
// 32-byte fields, so plain concatenation binds every field without separators.
// The same hash and field order are used by the on-chain registrar when it
// checks the reveal, so any change here breaks interoperability.
//
// # Key Functions
//
//   - BuildCommitment: pure, deterministic digest of the four inputs
//   - NewBlinding: fresh secret and salt from a CSPRNG
//   - Wipe: zeroes blinding material when an attempt ends
//
// # Security Considerations
//
// Secret and salt must be drawn fresh for every attempt and never reused. They
// live only in process memory between the commit and register transactions; the
// ledger never stores or returns them, so losing them means starting over.
package cryptoutils
