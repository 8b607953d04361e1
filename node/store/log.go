package store

import "github.com/btcsuite/btclog"

var log = btclog.Disabled

// UseLogger sets the logger used by the chain database.
func UseLogger(logger btclog.Logger) {
	log = logger
}
