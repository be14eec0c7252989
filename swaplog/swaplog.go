// Package swaplog wires up the per-package btclog.Logger subsystems used
// across this module, the same way lnd's top-level log.go does: a single
// rotating backend, one named logger per subsystem, fanned out via each
// package's UseLogger.
package swaplog

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/btcsuite/btclog"
	"github.com/jrick/logrotate/rotator"
	"github.com/lnswap/subswap/addrwatch"
	"github.com/lnswap/subswap/claimtx"
	"github.com/lnswap/subswap/swapengine"
	"github.com/lnswap/subswap/swapserver"
)

// subsystems lists every package that exposes a UseLogger hook, keyed by
// the short tag used as its log-line prefix.
var subsystems = map[string]func(btclog.Logger){
	"CLTX": claimtx.UseLogger,
	"ENGN": swapengine.UseLogger,
	"SRVR": swapserver.UseLogger,
	"WTCH": addrwatch.UseLogger,
}

// backendLog is the shared btclog.Backend every subsystem logger is
// derived from.
var backendLog = btclog.NewBackend(os.Stdout)

// InitLogRotator initializes a rotating log file at logFile (max size in
// MiB, keeping maxRolls old files) and directs all subsystem loggers to
// write to both stdout and the rotated file, mirroring lnd's own
// InitLogRotator.
func InitLogRotator(logFile string, maxSizeMiB, maxRolls int) error {
	logDir := filepath.Dir(logFile)
	if err := os.MkdirAll(logDir, 0o700); err != nil {
		return fmt.Errorf("swaplog: create log directory %s: %w", logDir, err)
	}

	r, err := rotator.New(logFile, int64(maxSizeMiB*1024), false, maxRolls)
	if err != nil {
		return fmt.Errorf("swaplog: create log rotator: %w", err)
	}

	backendLog = btclog.NewBackend(multiWriter{stdout: os.Stdout, rotator: r})
	registerAll()
	return nil
}

// multiWriter adapts (stdout, rotator) into a single io.Writer, writing
// every log line to both.
type multiWriter struct {
	stdout  *os.File
	rotator *rotator.Rotator
}

func (w multiWriter) Write(p []byte) (int, error) {
	w.stdout.Write(p) //nolint:errcheck // best-effort mirror to stdout
	return w.rotator.Write(p)
}

// SetLevel sets the log level for every registered subsystem.
func SetLevel(level btclog.Level) {
	for tag := range subsystems {
		backendLog.Logger(tag).SetLevel(level)
	}
}

func init() {
	registerAll()
}

func registerAll() {
	for tag, use := range subsystems {
		use(backendLog.Logger(tag))
	}
}
