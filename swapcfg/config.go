// Package swapcfg loads the ambient configuration for a subswap-backed
// daemon: fee budgets, amount limits, locktime deltas, and the
// swap-server/data-directory settings spec.md §6 names, parsed the way
// lnd's own top-level config.go parses its Config struct.
package swapcfg

import (
	"os"
	"path/filepath"

	flags "github.com/jessevdk/go-flags"

	"github.com/lnswap/subswap/feecalc"
)

const (
	// defaultClaimFeeSize is CLAIM_FEE_SIZE from spec.md §6: the
	// estimated vbyte size of a claim/refund transaction.
	defaultClaimFeeSize = 136

	// defaultLockupFeeSize is LOCKUP_FEE_SIZE from spec.md §6: the
	// estimated vbyte size of a reverse-swap lockup transaction.
	defaultLockupFeeSize = 153

	// defaultMinLocktimeDelta is MIN_LOCKTIME_DELTA from spec.md §6.
	defaultMinLocktimeDelta = 60

	// defaultMaxServerLocktimeWindow is the maximum number of blocks a
	// forward swap's server-quoted locktime may lie beyond the current
	// height, per spec.md §6.
	defaultMaxServerLocktimeWindow = 144

	// defaultReorgSafetyDelay is the number of confirmations a spend
	// must accumulate before is_redeemed is set (spec.md §3's
	// "reorg-safety delay").
	defaultReorgSafetyDelay = 3

	defaultSwapServerURL = "https://api.swapserver.example.com/v1"
	defaultDataDir       = "subswapd"
)

// Config holds every ambient knob a running swap engine needs beyond its
// collaborator interfaces, parsed with go-flags the way lnd's config.go
// parses its own top-level Config.
type Config struct {
	// PercentageFee is the swap server's percentage fee rate expressed
	// with up to two decimal digits, e.g. 50 means 0.50%, matching
	// feecalc.PercentageFromBasisPoints's input convention.
	PercentageFee int64 `long:"percentagefee" description:"swap server percentage fee, in basis points (50 = 0.50%)"`

	NormalFee int64 `long:"normalfee" description:"forward-swap miner-fee budget in satoshis"`
	LockupFee int64 `long:"lockupfee" description:"reverse-swap lockup miner-fee budget in satoshis"`
	ClaimFee  int64 `long:"claimfee" description:"reverse-swap claim miner-fee budget in satoshis"`

	MinAmount int64 `long:"minamount" description:"minimum swap amount in satoshis"`
	MaxAmount int64 `long:"maxamount" description:"maximum swap amount in satoshis"`

	DustThreshold int64 `long:"dustthreshold" description:"dust limit in satoshis for a P2WSH claim output"`

	ClaimFeeSize  int64 `long:"claimfeesize" description:"estimated vbyte size of a claim/refund transaction"`
	LockupFeeSize int64 `long:"lockupfeesize" description:"estimated vbyte size of a reverse-swap lockup transaction"`

	MinLocktimeDelta        int64 `long:"minlocktimedelta" description:"minimum acceptable blocks between current height and a swap's locktime"`
	MaxServerLocktimeWindow int64 `long:"maxserverlocktimewindow" description:"maximum blocks a server-quoted locktime may lie beyond current height"`
	ReorgSafetyDelay        int64 `long:"reorgsafetydelay" description:"confirmations a spend must accumulate before it is considered final"`

	AcceptZeroConf    bool  `long:"acceptzeroconf" description:"allow claiming a reverse swap before its funding transaction confirms"`
	MaxZeroConfAmount int64 `long:"maxzeroconfamount" description:"ceiling in satoshis for the zero-conf claim policy"`

	SwapServerURL string `long:"swapserverurl" description:"base URL of the remote swap server's REST API"`

	DataDir string `short:"d" long:"datadir" description:"directory to store swap_pairs and other persisted state"`

	Network string `long:"network" description:"bitcoin network to operate on: mainnet, testnet, regtest, or simnet"`
}

// DefaultConfig returns a Config populated with spec.md §6's constants
// and reasonable defaults for the fields it leaves to the operator.
func DefaultConfig() *Config {
	return &Config{
		PercentageFee:           50,
		NormalFee:               0,
		LockupFee:               0,
		ClaimFee:                0,
		MinAmount:               10_000,
		MaxAmount:               4_000_000,
		DustThreshold:           feecalc.DefaultDustThreshold,
		ClaimFeeSize:            defaultClaimFeeSize,
		LockupFeeSize:           defaultLockupFeeSize,
		MinLocktimeDelta:        defaultMinLocktimeDelta,
		MaxServerLocktimeWindow: defaultMaxServerLocktimeWindow,
		ReorgSafetyDelay:        defaultReorgSafetyDelay,
		AcceptZeroConf:          false,
		MaxZeroConfAmount:       0,
		SwapServerURL:           defaultSwapServerURL,
		DataDir:                 cleanAndExpandPath(filepath.Join("~", ".subswapd", defaultDataDir)),
		Network:                 "mainnet",
	}
}

// LoadConfig parses args (typically os.Args[1:]) over DefaultConfig's
// values, the same "defaults, then flags.Parse" shape lnd's loadConfig
// uses.
func LoadConfig(args []string) (*Config, error) {
	cfg := DefaultConfig()
	parser := flags.NewParser(cfg, flags.Default)
	if _, err := parser.ParseArgs(args); err != nil {
		return nil, err
	}
	cfg.DataDir = cleanAndExpandPath(cfg.DataDir)
	return cfg, nil
}

// FeeCalculator builds a feecalc.Calculator from the parsed config,
// converting PercentageFee's basis-points convention into feecalc's
// internal ppm scale.
func (c *Config) FeeCalculator() *feecalc.Calculator {
	return &feecalc.Calculator{
		PercentagePPM: feecalc.PercentageFromBasisPoints(c.PercentageFee),
		NormalFee:     c.NormalFee,
		LockupFee:     c.LockupFee,
		ClaimFee:      c.ClaimFee,
		MinAmount:     c.MinAmount,
		MaxAmount:     c.MaxAmount,
		DustThreshold: c.DustThreshold,
	}
}

// cleanAndExpandPath expands a leading ~ to the user's home directory
// and cleans the result, matching lnd's config.go helper of the same
// name.
func cleanAndExpandPath(path string) string {
	if len(path) == 0 {
		return path
	}

	if path[0] == '~' {
		homeDir, err := os.UserHomeDir()
		if err == nil {
			path = filepath.Join(homeDir, path[1:])
		}
	}

	return filepath.Clean(os.ExpandEnv(path))
}
