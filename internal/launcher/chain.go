package launcher

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownNetwork is returned for a network name bitcoind does not know.
var ErrUnknownNetwork = errors.New("unknown network")

// Chain is a normalized network selection.
type Chain struct {
	// Name is the canonical name: main, test, testnet4, signet or regtest.
	Name string
	// Flag is the bitcoin.conf selector ("regtest" for regtest=1); empty for main.
	Flag string
	// Section is the config section header, e.g. "test" for [test].
	Section string
	// DataDir is the datadir subdirectory holding the cookie; empty for main.
	DataDir string
}

var chains = []Chain{
	{Name: "main", Flag: "", Section: "main", DataDir: ""},
	{Name: "test", Flag: "testnet", Section: "test", DataDir: "testnet3"},
	{Name: "testnet4", Flag: "testnet4", Section: "testnet4", DataDir: "testnet4"},
	{Name: "signet", Flag: "signet", Section: "signet", DataDir: "signet"},
	{Name: "regtest", Flag: "regtest", Section: "regtest", DataDir: "regtest"},
}

var chainAliases = map[string]string{
	"":         "regtest",
	"mainnet":  "main",
	"testnet":  "test",
	"testnet3": "test",
}

// ParseChain normalizes a network name. Empty means regtest; "mainnet",
// "testnet" and "testnet3" are accepted as aliases.
func ParseChain(name string) (Chain, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	if alias, ok := chainAliases[key]; ok {
		key = alias
	}
	for _, c := range chains {
		if c.Name == key {
			return c, nil
		}
	}
	return Chain{}, fmt.Errorf("%w: %q", ErrUnknownNetwork, name)
}
