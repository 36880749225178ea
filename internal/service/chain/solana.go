// Package chain reads Solana account state over JSON-RPC.
package chain

import (
	"context"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcutil/base58"
	"github.com/ethereum/go-ethereum/rpc"

	"github.com/zhouzirui/z-tavern/chatflow/internal/workflow"
)

const (
	publicKeyLength   = 32
	DefaultCommitment = "confirmed"

	// JSON-RPC code Solana nodes return for malformed params such as a bad pubkey.
	codeInvalidParams = -32602
)

// Account is the subset of getAccountInfo the workflow needs.
type Account struct {
	Lamports   uint64 `json:"lamports"`
	Owner      string `json:"owner"`
	Executable bool   `json:"executable"`
}

// Client wraps a JSON-RPC connection to a Solana node.
type Client struct {
	rpc        *rpc.Client
	commitment string
}

// Dial connects to the node at url.
func Dial(ctx context.Context, url, commitment string) (*Client, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial solana rpc: %w", err)
	}
	return NewClient(c, commitment), nil
}

// NewClient wraps an existing rpc client.
func NewClient(c *rpc.Client, commitment string) *Client {
	if commitment == "" {
		commitment = DefaultCommitment
	}
	return &Client{rpc: c, commitment: commitment}
}

// Close releases the underlying connection.
func (c *Client) Close() {
	c.rpc.Close()
}

// DecodeAddress checks that address is a base58 encoded 32-byte public key.
func DecodeAddress(address string) ([]byte, error) {
	raw := base58.Decode(address)
	if len(raw) != publicKeyLength {
		return nil, fmt.Errorf("%w: %q is not a base58 public key", workflow.ErrInvalidAddress, address)
	}
	return raw, nil
}

// AccountInfo fetches the account stored at address. A missing account is ErrInvalidAddress.
func (c *Client) AccountInfo(ctx context.Context, address string) (Account, error) {
	if _, err := DecodeAddress(address); err != nil {
		return Account{}, err
	}

	var resp struct {
		Value *Account `json:"value"`
	}
	opts := map[string]string{"encoding": "base64", "commitment": c.commitment}
	if err := c.rpc.CallContext(ctx, &resp, "getAccountInfo", address, opts); err != nil {
		return Account{}, classify("getAccountInfo", err)
	}
	if resp.Value == nil {
		return Account{}, fmt.Errorf("%w: account %s does not exist", workflow.ErrInvalidAddress, address)
	}
	return *resp.Value, nil
}

// Balance returns the lamport balance held at address.
func (c *Client) Balance(ctx context.Context, address string) (uint64, error) {
	if _, err := DecodeAddress(address); err != nil {
		return 0, err
	}

	var resp struct {
		Value uint64 `json:"value"`
	}
	opts := map[string]string{"commitment": c.commitment}
	if err := c.rpc.CallContext(ctx, &resp, "getBalance", address, opts); err != nil {
		return 0, classify("getBalance", err)
	}
	return resp.Value, nil
}

func classify(method string, err error) error {
	var rpcErr rpc.Error
	if errors.As(err, &rpcErr) && rpcErr.ErrorCode() == codeInvalidParams {
		return fmt.Errorf("%s: %w: %v", method, workflow.ErrInvalidAddress, err)
	}
	return fmt.Errorf("%s: %w", method, err)
}
