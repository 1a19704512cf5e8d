package node

import (
	"fmt"
	"net/netip"
	"os"

	"github.com/mvp-joe/nodefixture/pkg/rpc"
)

// ConnectParams is everything another process needs to talk to the node.
type ConnectParams struct {
	WorkDir    string
	CookieFile string
	RPCSocket  netip.AddrPort
	// P2PSocket is valid only when the node listens for peers.
	P2PSocket netip.AddrPort
	// ZMQ sockets are valid only with Conf.EnableZMQ.
	ZMQPubRawBlockSocket netip.AddrPort
	ZMQPubRawTxSocket    netip.AddrPort
	Network              string
	Credentials          Credentials
}

// RPCURL returns the base JSON-RPC URL.
func (p ConnectParams) RPCURL() string {
	return "http://" + p.RPCSocket.String()
}

// CookieValues reads the user and password from the cookie file.
func (p ConnectParams) CookieValues() (user, password string, err error) {
	data, err := os.ReadFile(p.CookieFile)
	if err != nil {
		return "", "", fmt.Errorf("failed to read cookie file: %w", err)
	}
	user, password, ok := rpc.ParseCookie(string(data))
	if !ok {
		return "", "", fmt.Errorf("malformed cookie file %s", p.CookieFile)
	}
	return user, password, nil
}

// RPCCredentials returns the configured user/password, or the cookie values
// in cookie mode.
func (p ConnectParams) RPCCredentials() (user, password string, err error) {
	if p.Credentials.UserPass() {
		return p.Credentials.User, p.Credentials.Password, nil
	}
	return p.CookieValues()
}

// Auth returns the rpc authentication matching the credentials.
func (p ConnectParams) Auth() rpc.Auth {
	if p.Credentials.UserPass() {
		return rpc.UserPass{User: p.Credentials.User, Password: p.Credentials.Password}
	}
	return rpc.CookieFile(p.CookieFile)
}
