// Package registry provides the client side of the on-chain name registrar.
//
// The package implements the interfaces.Registrar interface over any
// interfaces.Ledger, so the same client runs against an Ethereum-compatible
// node (ledger/ethledger) and against the in-process simulated ledger
// (ledger/simledger).
//
// # Read Operations
//
// Views run at a caller-chosen block, or the latest one when at is nil:
//
//	Available(ctx, name, at) (bool, error)
//	ExpiryOf(ctx, name, at) (*LedgerTime, error)
//	Price(ctx, name, duration, at) (*big.Int, error)
//	IsReserved(ctx, name, at) (bool, error)
//
// ExpiryOf returns nil both for never-registered and for reserved names. Use
// Status to obtain an unambiguous answer: it pins the latest block, runs the
// views concurrently and resolves them into one interfaces.NameStatus.
//
// Results are never cached. A ledger rejection is returned as an
// *interfaces.QueryError carrying the ledger's own message; nothing is retried.
//
// # Transaction Operations
//
// Every mutating operation has a Build method that validates arguments and
// returns an *interfaces.UnsignedTx without touching the ledger, and a
// convenience method that builds and sends it. Send prepares the transaction on
// the ledger, signs the ledger's signing payload and submits it. These steps are
// serialized per client so concurrent callers never race on the signer's nonce.
//
// Register and Renew re-query the price immediately before building the
// transaction and attach it as value.
//
// Send returns an interfaces.TxOutcome. Its Wait resolves to the decoded
// registrar event, or to an *interfaces.TransactionRejected holding the
// program's decoded error message.
//
// # Usage Example
//
//	client, err := registry.NewOnchainRegistrarClient(log, ledger, programAddress)
//	if err != nil {
//	    return err
//	}
//	client.SetSigner(keyedSigner)
//
//	price, err := client.Price(ctx, interfaces.Name("alice"), duration, nil)
//
//	outcome, err := client.Commit(ctx, commitment)
//	if err != nil {
//	    return err
//	}
//	finalized, err := outcome.Wait(ctx)
package registry
