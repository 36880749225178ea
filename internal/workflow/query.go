package workflow

import (
	"context"
	"errors"
)

var (
	// ErrInvalidAddress marks input the chain rejects as an address.
	ErrInvalidAddress = errors.New("invalid address")
	// ErrNotFound marks an address with no known token metadata.
	ErrNotFound = errors.New("token not found")
	// ErrUnknownOperation is returned when a choice has no bound operation.
	ErrUnknownOperation = errors.New("unknown operation")
)

// AddressInfo describes an on-chain account that passed validation.
type AddressInfo struct {
	Address    string
	Lamports   uint64
	Owner      string
	Executable bool
}

// Metadata is the market view of a token.
type Metadata struct {
	Name   string
	Symbol string
	Price  float64
}

// Query bundles the read-only lookups a workflow step may perform.
// Implementations wrap ErrInvalidAddress and ErrNotFound so callers can classify failures.
type Query interface {
	ValidateAddress(ctx context.Context, address string) (AddressInfo, error)
	FetchMetadata(ctx context.Context, address string) (Metadata, error)
	GetBalance(ctx context.Context, address string) (uint64, error)
}
