//go:build ignore

// fakenode imitates the parts of bitcoind exercised by the fixture: config
// parsing, cookie creation, RPC on the configured port, wallets on disk,
// p2p connections, and shutdown on "stop" or SIGTERM.
//
// Behaviour knobs (environment):
//
//	FAKENODE_VERSION         version printed by -version (default v22.0.0)
//	FAKENODE_BANNER          replaces the whole -version output
//	FAKENODE_CLIENT_VERSION  getnetworkinfo version number (default 220000)
//	FAKENODE_COOKIE_DELAY    milliseconds before the cookie is written (default 100)
//	FAKENODE_WARMUP          number of RPC calls answered with -28 first
//	FAKENODE_HANG            never open the RPC port
//	FAKENODE_IGNORE_SIGTERM  ignore SIGTERM
//	FAKENODE_EXIT            exit immediately with this code
package main

import (
	"bufio"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"
)

type config struct {
	values map[string][]string
}

func (c config) get(key string) string {
	if v := c.values[key]; len(v) > 0 {
		return v[len(v)-1]
	}
	return ""
}

func readConfig(path string) (config, error) {
	c := config{values: map[string][]string{}}
	f, err := os.Open(path)
	if err != nil {
		return c, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") || strings.HasPrefix(line, "[") {
			continue
		}
		k, v, _ := strings.Cut(line, "=")
		c.values[k] = append(c.values[k], v)
	}
	return c, scanner.Err()
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type peer struct {
	ID      int    `json:"id"`
	Addr    string `json:"addr"`
	Inbound bool   `json:"inbound"`
}

type node struct {
	datadir string
	netdir  string
	chain   string
	rpcauth []string
	version string

	cookiePass atomic.Value
	warmup     atomic.Int64

	mu     sync.Mutex
	loaded map[string]bool
	peers  []peer
	nextID int

	stopOnce sync.Once
	stopped  chan struct{}
}

func main() {
	var datadir, confPath string
	for _, arg := range os.Args[1:] {
		switch {
		case arg == "-version" || arg == "--version":
			if banner := os.Getenv("FAKENODE_BANNER"); banner != "" {
				fmt.Println(banner)
				return
			}
			v := envOr("FAKENODE_VERSION", "v22.0.0")
			fmt.Printf("Bitcoin Core version %s\nCopyright (C) 2009-2021 The Bitcoin Core developers\n", v)
			return
		case strings.HasPrefix(arg, "-datadir="):
			datadir = strings.TrimPrefix(arg, "-datadir=")
		case strings.HasPrefix(arg, "-conf="):
			confPath = strings.TrimPrefix(arg, "-conf=")
		}
	}

	if code := os.Getenv("FAKENODE_EXIT"); code != "" {
		n, _ := strconv.Atoi(code)
		fmt.Fprintln(os.Stderr, "Error: fakenode asked to exit")
		os.Exit(n)
	}

	if datadir == "" {
		fail("Error: -datadir is required")
	}
	if confPath == "" {
		confPath = filepath.Join(datadir, "bitcoin.conf")
	}
	cfg, err := readConfig(confPath)
	if err != nil {
		fail("Error: cannot read config: " + err.Error())
	}

	n := &node{
		datadir: datadir,
		rpcauth: cfg.values["rpcauth"],
		version: envOr("FAKENODE_VERSION", "v22.0.0"),
		loaded:  map[string]bool{},
		stopped: make(chan struct{}),
	}
	switch {
	case cfg.get("regtest") == "1":
		n.chain, n.netdir = "regtest", "regtest"
	case cfg.get("signet") == "1":
		n.chain, n.netdir = "signet", "signet"
	case cfg.get("testnet4") == "1":
		n.chain, n.netdir = "testnet4", "testnet4"
	case cfg.get("testnet") == "1":
		n.chain, n.netdir = "test", "testnet3"
	default:
		n.chain = "main"
	}
	n.cookiePass.Store("")
	warm, _ := strconv.Atoi(os.Getenv("FAKENODE_WARMUP"))
	n.warmup.Store(int64(warm))

	if os.Getenv("FAKENODE_IGNORE_SIGTERM") != "" {
		signal.Ignore(syscall.SIGTERM)
	} else {
		sigs := make(chan os.Signal, 1)
		signal.Notify(sigs, syscall.SIGTERM, os.Interrupt)
		go func() {
			<-sigs
			n.stop()
		}()
	}

	if err := os.MkdirAll(filepath.Join(datadir, n.netdir), 0700); err != nil {
		fail("Error: cannot create datadir: " + err.Error())
	}

	var listeners []net.Listener
	for _, key := range []string{"port", "zmqpubrawblock", "zmqpubrawtx"} {
		v := cfg.get(key)
		if v == "" || (key == "port" && cfg.get("listen") == "0") {
			continue
		}
		addr := strings.TrimPrefix(v, "tcp://")
		if !strings.Contains(addr, ":") {
			addr = "127.0.0.1:" + addr
		}
		ln := listen(addr)
		listeners = append(listeners, ln)
		if key == "port" {
			go n.acceptPeers(ln)
		}
	}
	if connect := cfg.get("connect"); connect != "" {
		go n.connectPeer(connect)
	}

	if os.Getenv("FAKENODE_HANG") == "" {
		ln := listen("127.0.0.1:" + cfg.get("rpcport"))
		listeners = append(listeners, ln)
		srv := &http.Server{Handler: http.HandlerFunc(n.serveRPC)}
		go srv.Serve(ln)
		go n.writeCookie()
	}

	fmt.Println("fakenode started")
	<-n.stopped

	for _, ln := range listeners {
		ln.Close()
	}
	os.Remove(n.cookiePath())
	fmt.Println("Shutdown: done")
}

func fail(msg string) {
	fmt.Fprintln(os.Stderr, msg)
	os.Exit(1)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func listen(addr string) net.Listener {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		fail(fmt.Sprintf("Error: Unable to bind to %s on this computer. Bitcoin Core is probably already running. (%v)", addr, err))
	}
	return ln
}

func (n *node) stop() {
	n.stopOnce.Do(func() { close(n.stopped) })
}

func (n *node) cookiePath() string {
	return filepath.Join(n.datadir, n.netdir, ".cookie")
}

func (n *node) writeCookie() {
	delay, err := strconv.Atoi(os.Getenv("FAKENODE_COOKIE_DELAY"))
	if err != nil {
		delay = 100
	}
	time.Sleep(time.Duration(delay) * time.Millisecond)

	buf := make([]byte, 32)
	rand.Read(buf)
	pass := hex.EncodeToString(buf)

	tmp := n.cookiePath() + ".tmp"
	if err := os.WriteFile(tmp, []byte("__cookie__:"+pass), 0600); err != nil {
		fail("Error: cannot write cookie: " + err.Error())
	}
	n.cookiePass.Store(pass)
	if err := os.Rename(tmp, n.cookiePath()); err != nil {
		fail("Error: cannot write cookie: " + err.Error())
	}
}

func (n *node) authorized(r *http.Request) bool {
	user, pass, ok := r.BasicAuth()
	if !ok {
		return false
	}
	if cookie := n.cookiePass.Load().(string); cookie != "" && user == "__cookie__" && pass == cookie {
		return true
	}
	for _, line := range n.rpcauth {
		u, rest, _ := strings.Cut(line, ":")
		salt, hash, _ := strings.Cut(rest, "$")
		if u != user {
			continue
		}
		mac := hmac.New(sha256.New, []byte(salt))
		mac.Write([]byte(pass))
		if hex.EncodeToString(mac.Sum(nil)) == hash {
			return true
		}
	}
	return false
}

func (n *node) serveRPC(w http.ResponseWriter, r *http.Request) {
	if !n.authorized(r) {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	var req struct {
		ID     any               `json:"id"`
		Method string            `json:"method"`
		Params []json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	var result any
	var rerr *rpcError
	if n.warmup.Add(-1) >= 0 {
		rerr = &rpcError{Code: -28, Message: "Loading block index..."}
	} else {
		result, rerr = n.dispatch(req.Method, req.Params)
	}

	w.Header().Set("Content-Type", "application/json")
	if rerr != nil {
		w.WriteHeader(http.StatusInternalServerError)
	}
	json.NewEncoder(w).Encode(map[string]any{"result": result, "error": rerr, "id": req.ID})

	if req.Method == "stop" && rerr == nil {
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		go func() {
			time.Sleep(50 * time.Millisecond)
			n.stop()
		}()
	}
}

func stringParam(params []json.RawMessage, i int) string {
	if i >= len(params) {
		return ""
	}
	var s string
	json.Unmarshal(params[i], &s)
	return s
}

func (n *node) dispatch(method string, params []json.RawMessage) (any, *rpcError) {
	switch method {
	case "getblockchaininfo":
		return map[string]any{
			"chain":                n.chain,
			"blocks":               0,
			"headers":              0,
			"bestblockhash":        "0f9188f13cb7b2c71f2a335e3a4fc328bf5beb436012afca590b1a11466e2206",
			"initialblockdownload": true,
		}, nil
	case "getblockcount":
		return 0, nil
	case "getnetworkinfo":
		n.mu.Lock()
		defer n.mu.Unlock()
		clientVersion, err := strconv.Atoi(os.Getenv("FAKENODE_CLIENT_VERSION"))
		if err != nil {
			clientVersion = 220000
		}
		return map[string]any{
			"version":     clientVersion,
			"subversion":  "/Satoshi:" + strings.TrimPrefix(n.version, "v") + "/",
			"connections": len(n.peers),
		}, nil
	case "getpeerinfo":
		n.mu.Lock()
		defer n.mu.Unlock()
		return append([]peer{}, n.peers...), nil
	case "createwallet":
		return n.createWallet(stringParam(params, 0))
	case "loadwallet":
		return n.loadWallet(stringParam(params, 0))
	case "stop":
		return "Bitcoin Core stopping", nil
	default:
		return nil, &rpcError{Code: -32601, Message: "Method not found"}
	}
}

func (n *node) walletDir(name string) string {
	return filepath.Join(n.datadir, n.netdir, "wallets", name)
}

func (n *node) createWallet(name string) (any, *rpcError) {
	n.mu.Lock()
	defer n.mu.Unlock()

	dir := n.walletDir(name)
	if _, err := os.Stat(dir); err == nil {
		return nil, &rpcError{Code: -4, Message: "Wallet file verification failed. Failed to create database path '" + dir + "'. Database already exists."}
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, &rpcError{Code: -4, Message: err.Error()}
	}
	n.loaded[name] = true
	return map[string]any{"name": name, "warning": ""}, nil
}

func (n *node) loadWallet(name string) (any, *rpcError) {
	n.mu.Lock()
	defer n.mu.Unlock()

	if _, err := os.Stat(n.walletDir(name)); err != nil {
		return nil, &rpcError{Code: -18, Message: "Wallet file verification failed. Failed to load database path. Path does not exist."}
	}
	if n.loaded[name] {
		return nil, &rpcError{Code: -35, Message: "Wallet \"" + name + "\" is already loaded."}
	}
	n.loaded[name] = true
	return map[string]any{"name": name, "warning": ""}, nil
}

func (n *node) addPeer(addr string, inbound bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.peers = append(n.peers, peer{ID: n.nextID, Addr: addr, Inbound: inbound})
	n.nextID++
}

func (n *node) acceptPeers(ln net.Listener) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			return
		}
		n.addPeer(conn.RemoteAddr().String(), true)
		go func() {
			<-n.stopped
			conn.Close()
		}()
	}
}

func (n *node) connectPeer(addr string) {
	for {
		conn, err := net.DialTimeout("tcp", addr, time.Second)
		if err == nil {
			n.addPeer(addr, false)
			<-n.stopped
			conn.Close()
			return
		}
		select {
		case <-n.stopped:
			return
		case <-time.After(100 * time.Millisecond):
		}
	}
}
