package launcher

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfigFile_RenderSections(t *testing.T) {
	t.Parallel()

	cf := ConfigFile{
		Sections: true,
		RPCPort:  18443,
		P2PPort:  18444,
	}
	out := cf.Render()

	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.GreaterOrEqual(t, len(lines), 4)
	assert.Equal(t, "regtest=1", lines[0])
	assert.Contains(t, out, "[regtest]\n")
	assert.Contains(t, out, "rpcport=18443\n")
	assert.Contains(t, out, "port=18444\n")
	assert.Contains(t, out, "rpcbind=127.0.0.1\n")
	assert.Contains(t, out, "fallbackfee=0.0001\n")
	assert.NotContains(t, out, "listen=0")

	// rpcport must live inside the network section.
	assert.Greater(t, strings.Index(out, "rpcport="), strings.Index(out, "[regtest]"))
}

func TestConfigFile_RenderWithoutSections(t *testing.T) {
	t.Parallel()

	cf := ConfigFile{RPCPort: 1234}
	out := cf.Render()

	assert.NotContains(t, out, "[regtest]")
	assert.Contains(t, out, "regtest=1\n")
	assert.Contains(t, out, "rpcport=1234\n")
	assert.Contains(t, out, "listen=0\n")
}

func TestConfigFile_RenderConnectAndZMQ(t *testing.T) {
	t.Parallel()

	cf := ConfigFile{
				Sections:       true,
		RPCPort:        1000,
		P2PPort:        1001,
		Connect:        "127.0.0.1:2000",
		RPCAuth:        "alice:abcd$ef01",
		ZMQPubRawBlock: 1002,
		ZMQPubRawTx:    1003,
		Extra:          map[string]string{"txindex": "1", "blockfilterindex": "1"},
	}
	out := cf.Render()

	assert.Contains(t, out, "connect=127.0.0.1:2000\n")
	assert.Contains(t, out, "listen=1\n")
	assert.Contains(t, out, "rpcauth=alice:abcd$ef01\n")
	assert.Contains(t, out, "zmqpubrawblock=tcp://127.0.0.1:1002\n")
	assert.Contains(t, out, "zmqpubrawtx=tcp://127.0.0.1:1003\n")
	assert.Less(t, strings.Index(out, "blockfilterindex=1"), strings.Index(out, "txindex=1"))
}

func TestConfigFile_ConnectWithoutListening(t *testing.T) {
	t.Parallel()

	out := ConfigFile{RPCPort: 1, Connect: "127.0.0.1:2"}.Render()
	assert.Contains(t, out, "connect=127.0.0.1:2\n")
	assert.Contains(t, out, "listen=0\n")
	assert.NotContains(t, out, "listen=1")
}

func TestConfigFile_MainnetHasNoNetworkFlag(t *testing.T) {
	t.Parallel()

	out := ConfigFile{Chain: mustChain(t, "mainnet"), Sections: true, RPCPort: 8332}.Render()
	assert.NotContains(t, out, "main=1")
	assert.NotContains(t, out, "mainnet=1")
	assert.Contains(t, out, "[main]\n")
}

func TestConfigFile_TestnetUsesCoreSelectors(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"test", "testnet", "testnet3"} {
		out := ConfigFile{Chain: mustChain(t, name), Sections: true, RPCPort: 18332}.Render()
		assert.Contains(t, out, "testnet=1\n", name)
		assert.Contains(t, out, "[test]\n", name)
		assert.NotContains(t, out, "test=1", name)
		assert.NotContains(t, out, "[testnet]", name)
	}

	out := ConfigFile{Chain: mustChain(t, "testnet4"), Sections: true, RPCPort: 48332}.Render()
	assert.Contains(t, out, "testnet4=1\n")
	assert.Contains(t, out, "[testnet4]\n")
}

func TestConfigFile_SignetSection(t *testing.T) {
	t.Parallel()

	out := ConfigFile{Chain: mustChain(t, "signet"), Sections: true, RPCPort: 38332}.Render()
	assert.Contains(t, out, "signet=1\n")
	assert.Contains(t, out, "[signet]\n")
}

func mustChain(t *testing.T, name string) Chain {
	t.Helper()
	c, err := ParseChain(name)
	require.NoError(t, err)
	return c
}

func TestConfigFile_Write(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bitcoin.conf")
	cf := ConfigFile{RPCPort: 1}
	require.NoError(t, cf.Write(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, cf.Render(), string(data))
}

func TestRPCAuth(t *testing.T) {
	t.Parallel()

	line, err := RPCAuth("alice", "secret")
	require.NoError(t, err)

	user, rest, ok := strings.Cut(line, ":")
	require.True(t, ok)
	assert.Equal(t, "alice", user)

	salt, hash, ok := strings.Cut(rest, "$")
	require.True(t, ok)
	assert.Len(t, salt, 32)
	assert.Len(t, hash, 64)

	// Same salt must reproduce the same line.
	assert.Equal(t, line, rpcAuthWithSalt("alice", "secret", salt))

	other, err := RPCAuth("alice", "secret")
	require.NoError(t, err)
	assert.NotEqual(t, line, other, "salt should be random")
}

func TestRPCAuthWithSalt_DifferentPasswords(t *testing.T) {
	t.Parallel()

	a := rpcAuthWithSalt("u", "one", "00")
	b := rpcAuthWithSalt("u", "two", "00")
	assert.NotEqual(t, a, b)
	assert.True(t, strings.HasPrefix(a, "u:00$"))
}
