// Package ledger is the boundary between the pipelines and the external
// chain. Pipelines depend on the Client interface only; the Aptos
// implementation and the simulated submission strategy live behind it.
package ledger

import (
	"context"
	"errors"
)

// ErrNotFound means the queried resource or transaction does not exist (yet).
// Callers treat it as "absent", not as a failure.
var ErrNotFound = errors.New("ledger: not found")

// AnchorMetadata mirrors the chain-side last-anchor resource for a trader.
type AnchorMetadata struct {
	Exists        bool
	LastSeq       uint64
	LastHash      string
	LastTimestamp uint64
}

// Event is one application event emitted by a committed transaction. Data
// carries the module-defined fields; use HashField to read hash-valued ones.
type Event struct {
	Type string
	Data map[string]any
}

// Transaction is a committed ledger transaction with its events.
type Transaction struct {
	Version uint64
	Hash    string
	Events  []Event
}

type Client interface {
	// NextSequence returns the trader resource's next anchor ordinal, 0 when
	// the resource does not exist yet.
	NextSequence(ctx context.Context, address string) (uint64, error)
	// LastAnchor returns the trader's last-anchor resource metadata.
	LastAnchor(ctx context.Context, address string) (AnchorMetadata, error)
	// TransactionByHash returns ErrNotFound for unknown or still-pending
	// transactions.
	TransactionByHash(ctx context.Context, txHash string) (*Transaction, error)
	// AccountTransactions lists the account's most recent committed
	// transactions, newest window the node serves, with events.
	AccountTransactions(ctx context.Context, address string, limit int) ([]Transaction, error)
	// SubmitAnchor commits a payload hash for a trader and blocks until
	// finality. Returns the transaction hash.
	SubmitAnchor(ctx context.Context, traderAddress string, payloadHash []byte) (string, error)
	// SubmitExecution records an execution attestation and blocks until
	// finality. Returns the transaction hash.
	SubmitExecution(ctx context.Context, intentHash, planHash []byte, followerCount, schemaVersion uint64) (string, error)
}
