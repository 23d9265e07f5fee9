package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Keeper struct {
	// PriceCheckInterval is how often the price loop samples the external
	// market price and considers an on-chain push.
	PriceCheckInterval time.Duration
	// OrderCheckInterval is how often the order loop re-reads pending
	// limit orders from the ledger.
	OrderCheckInterval time.Duration
	// MinPriceChangePercent gates on-chain price pushes: a new observation
	// must move at least this percentage from the last pushed price.
	// 0.5 means 0.5%.
	MinPriceChangePercent float64
	// ConfirmTimeout bounds the wait for a transaction receipt. On timeout
	// the outcome is unknown and deferred to the next tick.
	ConfirmTimeout time.Duration
}

type Chain struct {
	RPCURL         string
	PrivateKey     string // keeper signing identity, hex encoded
	ShadowPoolAddr string
	PriceFeedAddr  string
	// TrackedTokens are the assets whose prices the keeper pushes.
	// Volatile tokens follow the ETH quote, stables are pinned at 1.0.
	TrackedTokens []string
	StableTokens  []string
}

type Oracle struct {
	PriceAPIURL string
	HTTPTimeout time.Duration
}

type Matcher struct {
	// iExec-compatible TEE directories. The decrypted dataset appears at
	// InputDir/DatasetFilename; results are written under OutputDir.
	InputDir        string
	OutputDir       string
	DatasetFilename string
}

type Config struct {
	Keeper  Keeper
	Chain   Chain
	Oracle  Oracle
	Matcher Matcher
	APIAddr string
	LogFile string
}

func Default() Config {
	return Config{
		Keeper: Keeper{
			PriceCheckInterval:    10 * time.Second,
			OrderCheckInterval:    15 * time.Second,
			MinPriceChangePercent: 0.5,
			ConfirmTimeout:        90 * time.Second,
		},
		Chain: Chain{
			RPCURL: "https://sepolia-rollup.arbitrum.io/rpc",
		},
		Oracle: Oracle{
			PriceAPIURL: "https://api.coingecko.com/api/v3/simple/price",
			HTTPTimeout: 10 * time.Second,
		},
		Matcher: Matcher{
			InputDir:  "/iexec_in",
			OutputDir: "/iexec_out",
		},
		APIAddr: ":8080",
		LogFile: "data/keeper.log",
	}
}

// LoadFromEnv loads configuration from a .env file (if present) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if ms := os.Getenv("PRICE_CHECK_INTERVAL_MS"); ms != "" {
		if v, err := strconv.Atoi(ms); err == nil {
			cfg.Keeper.PriceCheckInterval = time.Duration(v) * time.Millisecond
		}
	}
	if ms := os.Getenv("ORDER_CHECK_INTERVAL_MS"); ms != "" {
		if v, err := strconv.Atoi(ms); err == nil {
			cfg.Keeper.OrderCheckInterval = time.Duration(v) * time.Millisecond
		}
	}
	if pct := os.Getenv("MIN_PRICE_CHANGE_PERCENT"); pct != "" {
		if v, err := strconv.ParseFloat(pct, 64); err == nil {
			cfg.Keeper.MinPriceChangePercent = v
		}
	}
	if ms := os.Getenv("CONFIRM_TIMEOUT_MS"); ms != "" {
		if v, err := strconv.Atoi(ms); err == nil {
			cfg.Keeper.ConfirmTimeout = time.Duration(v) * time.Millisecond
		}
	}

	cfg.Chain.RPCURL = getEnv("RPC_URL", cfg.Chain.RPCURL)
	cfg.Chain.PrivateKey = getEnv("PRIVATE_KEY", cfg.Chain.PrivateKey)
	cfg.Chain.ShadowPoolAddr = getEnv("SHADOW_POOL_ADDR", cfg.Chain.ShadowPoolAddr)
	cfg.Chain.PriceFeedAddr = getEnv("PRICE_FEED_ADDR", cfg.Chain.PriceFeedAddr)
	if toks := os.Getenv("TRACKED_TOKENS"); toks != "" {
		cfg.Chain.TrackedTokens = splitList(toks)
	}
	if toks := os.Getenv("STABLE_TOKENS"); toks != "" {
		cfg.Chain.StableTokens = splitList(toks)
	}

	cfg.Oracle.PriceAPIURL = getEnv("PRICE_API_URL", cfg.Oracle.PriceAPIURL)
	if ms := os.Getenv("PRICE_HTTP_TIMEOUT_MS"); ms != "" {
		if v, err := strconv.Atoi(ms); err == nil {
			cfg.Oracle.HTTPTimeout = time.Duration(v) * time.Millisecond
		}
	}

	cfg.Matcher.InputDir = getEnv("IEXEC_IN", cfg.Matcher.InputDir)
	cfg.Matcher.OutputDir = getEnv("IEXEC_OUT", cfg.Matcher.OutputDir)
	cfg.Matcher.DatasetFilename = getEnv("IEXEC_DATASET_FILENAME", cfg.Matcher.DatasetFilename)

	cfg.APIAddr = getEnv("API_ADDR", cfg.APIAddr)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func splitList(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
