package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/btcsuite/btclog"

	"rubin.dev/ctv/node"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	defaults := node.DefaultConfig()
	cfg := defaults

	fs := flag.NewFlagSet("ctv-node", flag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.String("config", "", "optional TOML config file; flags override its values")
	fs.StringVar(&cfg.Network, "network", defaults.Network, "network name (regtest/testnet3/simnet)")
	fs.StringVar(&cfg.DataDir, "datadir", defaults.DataDir, "node data directory")
	fs.StringVar(&cfg.LogLevel, "log-level", defaults.LogLevel, "log level: trace|debug|info|warn|error|critical")
	fs.IntVar(&cfg.ScriptThreads, "script-threads", defaults.ScriptThreads, "parallel script verification workers")
	fs.IntVar(&cfg.MaxMempoolTxs, "max-mempool-txs", defaults.MaxMempoolTxs, "relay pool capacity")
	fs.IntVar(&cfg.RecentRejects, "recent-rejects", defaults.RecentRejects, "recently rejected transactions to remember")
	activation := fs.Uint("ctv-activation-height", uint(defaults.CTVActivationHeight), "first height enforcing OP_CHECKTEMPLATEVERIFY")
	demoDepth := fs.Int("demo-tree-depth", -1, "fund and expand a congestion tree of this depth, then exit")
	demoFee := fs.Int64("demo-tree-fee", 1000, "fee reserved per interior tree node")
	dryRun := fs.Bool("dry-run", false, "print effective config and exit")
	if err := fs.Parse(args); err != nil {
		return 2
	}
	if *activation > uint(^uint32(0)) {
		_, _ = fmt.Fprintf(stderr, "invalid config: ctv-activation-height %d out of range\n", *activation)
		return 2
	}
	cfg.CTVActivationHeight = uint32(*activation) // #nosec G115 -- range checked above.

	if *configPath != "" {
		fileCfg, err := node.LoadConfigFile(*configPath, defaults)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "invalid config: %v\n", err)
			return 2
		}
		fs.Visit(func(f *flag.Flag) { overrideFromFlag(&fileCfg, cfg, f.Name) })
		cfg = fileCfg
	}

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if err := node.ValidateConfig(cfg); err != nil {
		_, _ = fmt.Fprintf(stderr, "invalid config: %v\n", err)
		return 2
	}
	if err := printConfig(stdout, cfg); err != nil {
		_, _ = fmt.Fprintf(stderr, "config encode failed: %v\n", err)
		return 1
	}
	if *dryRun {
		return 0
	}

	node.SetupLogging(btclog.NewBackend(stdout), cfg.LogLevel)

	n, err := node.Open(cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "node open failed: %v\n", err)
		return 2
	}
	defer func() { _ = n.Close() }()

	tip, height := n.Tip()
	_, _ = fmt.Fprintf(stdout, "chain: network=%s height=%d tip=%s\n", n.Params().Name, height, tip)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if *demoDepth >= 0 {
		report, err := n.ExpandCongestionTree(ctx, *demoDepth, nil, *demoFee)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "congestion tree demo failed: %v\n", err)
			return 1
		}
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			_, _ = fmt.Fprintf(stderr, "report encode failed: %v\n", err)
			return 1
		}
		return 0
	}

	_, _ = fmt.Fprintln(stdout, "ctv-node running")
	<-ctx.Done()
	_, _ = fmt.Fprintln(stdout, "ctv-node stopped")
	return 0
}

// overrideFromFlag copies the field behind an explicitly set flag from
// flagged into dst.
func overrideFromFlag(dst *node.Config, flagged node.Config, name string) {
	switch name {
	case "network":
		dst.Network = flagged.Network
	case "datadir":
		dst.DataDir = flagged.DataDir
	case "log-level":
		dst.LogLevel = flagged.LogLevel
	case "script-threads":
		dst.ScriptThreads = flagged.ScriptThreads
	case "max-mempool-txs":
		dst.MaxMempoolTxs = flagged.MaxMempoolTxs
	case "recent-rejects":
		dst.RecentRejects = flagged.RecentRejects
	case "ctv-activation-height":
		dst.CTVActivationHeight = flagged.CTVActivationHeight
	}
}

func printConfig(w io.Writer, cfg node.Config) error {
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(cfg)
}
