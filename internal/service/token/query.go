// Package token composes the chain and market clients into the workflow's lookups and operations.
package token

import (
	"context"
	"fmt"

	"github.com/zhouzirui/z-tavern/chatflow/internal/service/chain"
	"github.com/zhouzirui/z-tavern/chatflow/internal/workflow"
)

// AccountReader reads on-chain account state.
type AccountReader interface {
	AccountInfo(ctx context.Context, address string) (chain.Account, error)
	Balance(ctx context.Context, address string) (uint64, error)
}

// MetadataSource resolves market metadata for a token address.
type MetadataSource interface {
	FetchMetadata(ctx context.Context, address string) (workflow.Metadata, error)
}

// Query implements workflow.Query on top of a chain reader and a market source.
type Query struct {
	accounts AccountReader
	market   MetadataSource
}

// NewQuery wires the lookups.
func NewQuery(accounts AccountReader, market MetadataSource) *Query {
	return &Query{accounts: accounts, market: market}
}

// ValidateAddress confirms the address decodes and exists on chain.
func (q *Query) ValidateAddress(ctx context.Context, address string) (workflow.AddressInfo, error) {
	account, err := q.accounts.AccountInfo(ctx, address)
	if err != nil {
		return workflow.AddressInfo{}, fmt.Errorf("validate %s: %w", address, err)
	}
	return workflow.AddressInfo{
		Address:    address,
		Lamports:   account.Lamports,
		Owner:      account.Owner,
		Executable: account.Executable,
	}, nil
}

// FetchMetadata looks the token up on the market source.
func (q *Query) FetchMetadata(ctx context.Context, address string) (workflow.Metadata, error) {
	return q.market.FetchMetadata(ctx, address)
}

// GetBalance returns the lamports held at address.
func (q *Query) GetBalance(ctx context.Context, address string) (uint64, error) {
	return q.accounts.Balance(ctx, address)
}
