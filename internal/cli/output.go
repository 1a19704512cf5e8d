package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/mvp-joe/nodefixture/pkg/node"
)

// paramsView is the printed form of node.ConnectParams.
type paramsView struct {
	Network     string `json:"network"`
	Pid         int    `json:"pid"`
	Version     string `json:"version,omitempty"`
	WorkDir     string `json:"workdir"`
	RPCURL      string `json:"rpc_url"`
	RPCAddr     string `json:"rpc_addr"`
	CookieFile  string `json:"cookie_file,omitempty"`
	RPCUser     string `json:"rpc_user,omitempty"`
	P2PAddr     string `json:"p2p_addr,omitempty"`
	ZMQRawBlock string `json:"zmq_rawblock,omitempty"`
	ZMQRawTx    string `json:"zmq_rawtx,omitempty"`
	StdoutLog   string `json:"stdout_log,omitempty"`
	StderrLog   string `json:"stderr_log,omitempty"`
}

func newParamsView(n *node.Node, p node.ConnectParams) paramsView {
	v := paramsView{
		Network: p.Network,
		Pid:     n.Pid(),
		WorkDir: p.WorkDir,
		RPCURL:  p.RPCURL(),
		RPCAddr: p.RPCSocket.String(),
	}
	v.StdoutLog, v.StderrLog = n.LogFiles()
	if ver := n.Version(); !ver.IsZero() {
		v.Version = ver.String()
	}
	if p.Credentials.UserPass() {
		v.RPCUser = p.Credentials.User
	} else {
		v.CookieFile = p.CookieFile
	}
	if p.P2PSocket.IsValid() {
		v.P2PAddr = p.P2PSocket.String()
	}
	if p.ZMQPubRawBlockSocket.IsValid() {
		v.ZMQRawBlock = "tcp://" + p.ZMQPubRawBlockSocket.String()
		v.ZMQRawTx = "tcp://" + p.ZMQPubRawTxSocket.String()
	}
	return v
}

func printParams(w io.Writer, v paramsView, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	row := func(k, val string) {
		if val != "" {
			fmt.Fprintf(tw, "%s\t%s\n", k, val)
		}
	}
	row("network", v.Network)
	row("pid", fmt.Sprint(v.Pid))
	row("version", v.Version)
	row("workdir", v.WorkDir)
	row("rpc url", v.RPCURL)
	row("cookie file", v.CookieFile)
	row("rpc user", v.RPCUser)
	row("p2p", v.P2PAddr)
	row("zmq rawblock", v.ZMQRawBlock)
	row("zmq rawtx", v.ZMQRawTx)
	row("stdout log", v.StdoutLog)
	row("stderr log", v.StderrLog)
	return tw.Flush()
}
