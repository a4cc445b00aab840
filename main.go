// coreagentd: the server-side core of a multi-session coding-agent
// runtime. It owns the Event Store, Worktree Coordinator, Hook Engine,
// Memory/Handoff/Ledger stores, and the RPC Dispatcher, and exposes them
// over HTTP for CLIs, editor extensions, or a TUI to drive.
package main

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/coreagent/runtime/internal/config"
	"github.com/coreagent/runtime/internal/daemon"
	"github.com/coreagent/runtime/internal/eventstore"
	"github.com/coreagent/runtime/internal/handoff"
	"github.com/coreagent/runtime/internal/hook"
	"github.com/coreagent/runtime/internal/ledger"
	"github.com/coreagent/runtime/internal/mcp"
	"github.com/coreagent/runtime/internal/memory"
	"github.com/coreagent/runtime/internal/planstate"
	"github.com/coreagent/runtime/internal/rpc"
	"github.com/coreagent/runtime/internal/rpc/httptransport"
	"github.com/coreagent/runtime/internal/rpc/methods"
	"github.com/coreagent/runtime/internal/session"
	"github.com/coreagent/runtime/internal/worktree"
)

var version = "dev"

func init() {
	if version != "dev" {
		return
	}
	if info, ok := debug.ReadBuildInfo(); ok && info.Main.Version != "" && info.Main.Version != "(devel)" {
		version = info.Main.Version
	}
}

func main() {
	versionFlag := flag.Bool("version", false, "Print version and exit")
	daemonFlag := flag.Bool("daemon", false, "Run as a background daemon (no foreground log echo)")
	bindFlag := flag.String("bind", "", "Network interface to bind (localhost, 0.0.0.0, or specific IP)")
	portFlag := flag.Int("port", 0, "Port to listen on (0 picks an ephemeral port)")
	flag.Parse()

	if *versionFlag {
		fmt.Printf("coreagentd %s\n", version)
		return
	}

	logger := config.NewLogger()
	defer logger.Close()

	prefs := config.LoadPreferences()

	bindAddr := *bindFlag
	if bindAddr == "" {
		bindAddr = prefs.DaemonBindAddress
	}
	if bindAddr == "" {
		bindAddr = "localhost"
	}

	store, err := eventstore.OpenDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening event store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	dataDir, err := config.DataDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error resolving data dir: %v\n", err)
		os.Exit(1)
	}

	hs, err := handoff.OpenDefault()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening handoff store: %v\n", err)
		os.Exit(1)
	}
	defer hs.Close()

	ls, err := ledger.Open()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error opening ledger store: %v\n", err)
		os.Exit(1)
	}

	sm := session.New(store)
	mm := memory.New(store, dataDir)
	pt := planstate.New()
	wc := worktree.New(prefs, logger, store)

	he := hook.New(logger)
	he.Register(hook.PlanModeGate(pt.IsActive))
	sm.SetHooks(he)

	tm := mcp.NewManager()
	cwd, _ := os.Getwd()
	if mcpCfg, err := mcp.LoadMCPConfig(cwd); err != nil {
		logger.Warnf("load mcp config: %v", err)
	} else if err := tm.StartAll(context.Background(), mcpCfg); err != nil {
		logger.Warnf("start mcp servers: %v", err)
	}
	defer tm.StopAll()

	mgrs := rpc.Managers{
		methods.ManagerSession:  sm,
		methods.ManagerMemory:   mm,
		methods.ManagerHandoff:  hs,
		methods.ManagerLedger:   ls,
		methods.ManagerPlan:     pt,
		methods.ManagerStore:    store,
		methods.ManagerTools:    tm,
		methods.ManagerHooks:    he,
		methods.ManagerWorktree: wc,
	}

	d := rpc.New(mgrs, logger)
	methods.Register(d, prefs.HandoffMinMessages)
	d.Use(rpc.ErrorBoundaryMiddleware(logger))
	d.Use(rpc.LoggingMiddleware(logger))
	d.Use(rpc.TimingMiddleware(logger))

	token := prefs.DaemonAuthToken
	if token == "" {
		token = mintToken()
		prefs.DaemonAuthToken = token
		if err := config.SavePreferences(prefs); err != nil {
			fmt.Fprintf(os.Stderr, "warning: failed to save auth token: %v\n", err)
		}
	}

	transport := httptransport.New(d, token)

	ln, err := net.Listen("tcp", fmt.Sprintf("%s:%d", bindAddr, *portFlag))
	if err != nil {
		fmt.Fprintf(os.Stderr, "error binding %s:%d: %v\n", bindAddr, *portFlag, err)
		os.Exit(1)
	}
	port := ln.Addr().(*net.TCPAddr).Port

	if err := daemon.WriteLockfile(port, token); err != nil {
		logger.Warnf("failed to write lockfile: %v", err)
	}
	defer daemon.RemoveLockfile()

	// Recovery scans the worktree base dir rooted at the daemon's own
	// working directory, the repo it was launched against. A daemon
	// serving sessions against other repos won't see their orphaned
	// checkouts cleaned up here, and no RPC method runs recovery.
	if _, err := wc.Recover(context.Background(), cwd); err != nil {
		logger.Warnf("worktree recovery scan: %v", err)
	}

	srv := &http.Server{Handler: transport.Mux()}

	if !*daemonFlag {
		fmt.Fprintf(os.Stderr, "coreagentd %s listening on %s:%d\n", version, bindAddr, port)
		httptransport.PrintPairingQR(bindAddr, port, token)
	}
	logger.Printf("listening on %s:%d", bindAddr, port)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()
	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Errorf("shutdown: %v", err)
		}
	}()

	if err := srv.Serve(ln); err != nil && err != http.ErrServerClosed {
		fmt.Fprintf(os.Stderr, "server error: %v\n", err)
		os.Exit(1)
	}
}

// mintToken generates a fresh bearer token the way config's first-run
// preference seeding does, for the daemon's HTTP auth.
func mintToken() string {
	b := make([]byte, 32)
	if _, err := rand.Read(b); err != nil {
		return ""
	}
	return hex.EncodeToString(b[:])
}
