package domain

import "math/big"

// TransactionRecord is one transfer row returned by the explorer, or a
// transaction resolved through the node joined with its receipt and block
// timestamp. Immutable once fetched.
type TransactionRecord struct {
	Hash        string
	BlockNumber uint64
	Timestamp   int64
	From        string
	To          string
	GasPrice    *big.Int
	GasUsed     *big.Int
}
