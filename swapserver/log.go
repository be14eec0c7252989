package swapserver

import "github.com/btcsuite/btclog"

// log is the package-level logger for swapserver, set via UseLogger by the
// application's logging setup (package swaplog), following the
// subsystem-logger convention every lnd package uses.
var log btclog.Logger = btclog.Disabled

// UseLogger sets the package-level logger used by swapserver.
func UseLogger(logger btclog.Logger) {
	log = logger
}
