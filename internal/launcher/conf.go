package launcher

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"maps"
	"os"
	"slices"
	"strings"
)

// ConfigFile describes the bitcoin.conf rendered for one fixture instance.
type ConfigFile struct {
	// Chain selects the network; the zero value means regtest.
	Chain Chain
	// Sections controls whether network-specific options go in a per-chain
	// section (0.17+) or at top level.
	Sections bool

	RPCPort int
	// P2PPort is 0 when the node does not listen for peers.
	P2PPort int
	// Connect is a peer address to connect to exclusively.
	Connect string

	// RPCAuth is a precomputed rpcauth value (user:salt$hash).
	RPCAuth string

	ZMQPubRawBlock int
	ZMQPubRawTx    int

	// Extra holds additional key=value options written into the network section.
	Extra map[string]string
}

// Render returns the configuration text.
func (c ConfigFile) Render() string {
	var top, net strings.Builder

	chain := c.Chain
	if chain.Name == "" {
		chain, _ = ParseChain("")
	}
	// main has no selector flag
	if chain.Flag != "" {
		fmt.Fprintf(&top, "%s=1\n", chain.Flag)
	}
	top.WriteString("server=1\n")
	top.WriteString("printtoconsole=1\n")

	fmt.Fprintf(&net, "rpcport=%d\n", c.RPCPort)
	net.WriteString("rpcbind=127.0.0.1\n")
	net.WriteString("rpcallowip=127.0.0.1\n")
	if c.Connect != "" {
		fmt.Fprintf(&net, "connect=%s\n", c.Connect)
	}
	if c.P2PPort == 0 {
		net.WriteString("listen=0\n")
	} else {
		fmt.Fprintf(&net, "port=%d\n", c.P2PPort)
		fmt.Fprintf(&net, "bind=127.0.0.1:%d\n", c.P2PPort)
		// connect= disables listening unless asked explicitly
		if c.Connect != "" {
			net.WriteString("listen=1\n")
		}
	}
	net.WriteString("fallbackfee=0.0001\n")
	if c.RPCAuth != "" {
		fmt.Fprintf(&net, "rpcauth=%s\n", c.RPCAuth)
	}
	if c.ZMQPubRawBlock != 0 {
		fmt.Fprintf(&net, "zmqpubrawblock=tcp://127.0.0.1:%d\n", c.ZMQPubRawBlock)
	}
	if c.ZMQPubRawTx != 0 {
		fmt.Fprintf(&net, "zmqpubrawtx=tcp://127.0.0.1:%d\n", c.ZMQPubRawTx)
	}
	for _, k := range slices.Sorted(maps.Keys(c.Extra)) {
		fmt.Fprintf(&net, "%s=%s\n", k, c.Extra[k])
	}

	if c.Sections {
		return top.String() + "\n[" + chain.Section + "]\n" + net.String()
	}
	return top.String() + net.String()
}

// Write renders the configuration to path.
func (c ConfigFile) Write(path string) error {
	if err := os.WriteFile(path, []byte(c.Render()), 0600); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}
	return nil
}

// RPCAuth computes an rpcauth value for user/password with a random salt,
// matching Bitcoin Core's share/rpcauth/rpcauth.py.
func RPCAuth(user, password string) (string, error) {
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", fmt.Errorf("failed to generate rpcauth salt: %w", err)
	}
	return rpcAuthWithSalt(user, password, hex.EncodeToString(salt)), nil
}

func rpcAuthWithSalt(user, password, salt string) string {
	mac := hmac.New(sha256.New, []byte(salt))
	mac.Write([]byte(password))
	return fmt.Sprintf("%s:%s$%s", user, salt, hex.EncodeToString(mac.Sum(nil)))
}
