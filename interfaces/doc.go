// Package interfaces defines the core types and boundaries of the name
// registrar client, separating contracts from implementations.
//
// # Boundaries
//
// Ledger: the distributed ledger executing the registrar program. It runs
// read-only queries, completes and submits signed transactions, reports
// inclusion and streams logs. Implemented by ledger/ethledger and
// ledger/simledger.
//
// Signer: holds the key that authorizes transactions. Implemented by
// signer.KeyedSigner.
//
// Registrar: the client surface of the registrar program, split into
// RegistrarReader (views) and RegistrarWriter (state-changing operations).
// Implemented by registry.OnchainRegistrarClient.
//
// # Types
//
//   - Name: a UTF-8 label without dots, at most MaxNameLength bytes
//   - OwnerID: 32-byte account identity
//   - Secret, Salt: client-held blinding values
//   - Commitment: blake2b-256 digest published in the commit phase
//   - LedgerTime, LedgerSpan: ledger timestamps and durations in TimeUnit ticks
//   - NameStatus: resolved state of a name at one block
//
// # Events
//
// Every registrar event has a typed record implementing Event; AllEventKinds
// lists them in ABI order.
//
// # Error Types
//
//   - ValidationError: malformed input, caught before any ledger call
//   - QueryError: a view the ledger rejected, with the ledger's message
//   - TransactionRejected: a transaction that failed to sign, submit or execute
//   - TimingViolation: a reveal outside the commit-age window, detected locally
//   - ConcurrencyConflict: a second claim for a name already in flight (ErrBusy)
package interfaces
