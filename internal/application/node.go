package application

import (
	"context"
	"errors"
	"strings"

	"feeindex/internal/domain"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// NodeClient looks transactions up through the RPC node and checks them
// against the tracked pool.
type NodeClient struct {
	node Node
	pool string
}

func NewNodeClient(node Node, pool string) (*NodeClient, error) {
	if node == nil {
		return nil, errors.New("node client requires an rpc node")
	}
	if !common.IsHexAddress(pool) {
		return nil, errors.New("tracked pool address is invalid")
	}
	return &NodeClient{node: node, pool: strings.ToLower(pool)}, nil
}

// Lookup returns the transaction joined with its receipt and block time.
func (n *NodeClient) Lookup(ctx context.Context, hash string) (domain.TransactionRecord, error) {
	return n.node.TransactionByHash(ctx, hash)
}

// TracksPool reports whether the pool is the sender or recipient.
func (n *NodeClient) TracksPool(record domain.TransactionRecord) bool {
	return strings.EqualFold(record.From, n.pool) || strings.EqualFold(record.To, n.pool)
}

// Pool returns the lower-cased tracked pool address.
func (n *NodeClient) Pool() string {
	return n.pool
}

func validTxHash(hash string) bool {
	raw, err := hexutil.Decode(hash)
	return err == nil && len(raw) == common.HashLength
}
