package node

import (
	"github.com/btcsuite/btclog"

	"rubin.dev/ctv/node/store"
)

var log = btclog.Disabled

// UseLogger sets the logger used by the node.
func UseLogger(logger btclog.Logger) {
	log = logger
}

// SetupLogging routes the node and chain database subsystems to backend at
// the named level.
func SetupLogging(backend *btclog.Backend, level string) btclog.Level {
	lvl, ok := btclog.LevelFromString(level)
	if !ok {
		lvl = btclog.LevelInfo
	}
	nodeLog := backend.Logger("NODE")
	nodeLog.SetLevel(lvl)
	UseLogger(nodeLog)

	storeLog := backend.Logger("STOR")
	storeLog.SetLevel(lvl)
	store.UseLogger(storeLog)
	return lvl
}
