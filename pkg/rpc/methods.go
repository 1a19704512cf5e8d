package rpc

import (
	"context"
	"errors"
	"fmt"
)

// BlockchainInfo is the subset of getblockchaininfo the fixture reads.
type BlockchainInfo struct {
	Chain         string `json:"chain"`
	Blocks        int64  `json:"blocks"`
	Headers       int64  `json:"headers"`
	BestBlockHash string `json:"bestblockhash"`
	IBD           bool   `json:"initialblockdownload"`
}

// NetworkInfo is the subset of getnetworkinfo the fixture reads.
type NetworkInfo struct {
	Version     int    `json:"version"`
	Subversion  string `json:"subversion"`
	Connections int    `json:"connections"`
}

// PeerInfo is one entry of getpeerinfo.
type PeerInfo struct {
	ID      int    `json:"id"`
	Addr    string `json:"addr"`
	Inbound bool   `json:"inbound"`
}

// GetBlockchainInfo returns chain state. A reply without a chain name is
// treated as malformed, which the readiness probe relies on.
func (c *Client) GetBlockchainInfo(ctx context.Context) (*BlockchainInfo, error) {
	var info BlockchainInfo
	if err := c.Call(ctx, "getblockchaininfo", nil, &info); err != nil {
		return nil, err
	}
	if info.Chain == "" {
		return nil, fmt.Errorf("%w: getblockchaininfo: missing chain", ErrMalformedResponse)
	}
	return &info, nil
}

// GetNetworkInfo returns daemon version and connection counts.
func (c *Client) GetNetworkInfo(ctx context.Context) (*NetworkInfo, error) {
	var info NetworkInfo
	if err := c.Call(ctx, "getnetworkinfo", nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetPeerInfo lists connected peers.
func (c *Client) GetPeerInfo(ctx context.Context) ([]PeerInfo, error) {
	var peers []PeerInfo
	if err := c.Call(ctx, "getpeerinfo", nil, &peers); err != nil {
		return nil, err
	}
	return peers, nil
}

// GetBlockCount returns the height of the active chain.
func (c *Client) GetBlockCount(ctx context.Context) (int64, error) {
	var n int64
	if err := c.Call(ctx, "getblockcount", nil, &n); err != nil {
		return 0, err
	}
	return n, nil
}

// CreateWallet creates and loads a wallet named name.
func (c *Client) CreateWallet(ctx context.Context, name string) error {
	return c.Call(ctx, "createwallet", []any{name}, nil)
}

// LoadWallet loads an existing wallet.
func (c *Client) LoadWallet(ctx context.Context, name string) error {
	return c.Call(ctx, "loadwallet", []any{name}, nil)
}

// EnsureWallet creates the wallet, falling back to loading it when it already
// exists on disk (a persistent datadir reused across runs). A wallet that is
// already loaded counts as success.
func (c *Client) EnsureWallet(ctx context.Context, name string) error {
	createErr := c.CreateWallet(ctx, name)
	if createErr == nil {
		return nil
	}
	if errors.Is(createErr, ErrClientClosed) {
		return createErr
	}

	loadErr := c.LoadWallet(ctx, name)
	if loadErr == nil {
		return nil
	}
	var rpcErr *Error
	if errors.As(loadErr, &rpcErr) && rpcErr.Code == CodeWalletAlreadyLoaded {
		return nil
	}
	return fmt.Errorf("failed to create wallet %q (%v) or load it: %w", name, createErr, loadErr)
}

// Stop asks the daemon to shut down. The call returns before the process exits.
func (c *Client) Stop(ctx context.Context) error {
	return c.Call(ctx, "stop", nil, nil)
}
