package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Consensus struct {
	Delta        time.Duration // network delay bound; one slot is 4*Delta
	EpochLength  uint64        // slots per stake epoch
	ConfirmDepth uint64        // k for k-deep confirmation
	// Genesis validator balances, "0xaddr:stake" entries.
	Validators []string
}

type Node struct {
	ListenAddr string   // libp2p listen multiaddr
	Bootstrap  []string // peer multiaddrs to dial at startup
	APIAddr    string
	DataDir    string // empty means in-memory only
	LogFile    string
	PrivateKey string // hex secp256k1 key; generated if empty
}

type Config struct {
	Consensus Consensus
	Node      Node
}

func Default() Config {
	return Config{
		Consensus: Consensus{
			Delta:        500 * time.Millisecond,
			EpochLength:  1,
			ConfirmDepth: 2,
		},
		Node: Node{
			ListenAddr: "/ip4/0.0.0.0/tcp/9000",
			APIAddr:    ":8080",
		},
	}
}

// LoadFromEnv loads configuration from a .env file (if it exists) and
// environment variables. Priority: ENV > .env file > defaults.
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if delta := os.Getenv("CONSENSUS_DELTA_MS"); delta != "" {
		if ms, err := strconv.Atoi(delta); err == nil {
			cfg.Consensus.Delta = time.Duration(ms) * time.Millisecond
		}
	}
	if el := os.Getenv("EPOCH_LENGTH"); el != "" {
		if n, err := strconv.ParseUint(el, 10, 64); err == nil && n > 0 {
			cfg.Consensus.EpochLength = n
		}
	}
	if cd := os.Getenv("CONFIRM_DEPTH"); cd != "" {
		if n, err := strconv.ParseUint(cd, 10, 64); err == nil {
			cfg.Consensus.ConfirmDepth = n
		}
	}
	if vals := os.Getenv("GENESIS_VALIDATORS"); vals != "" {
		cfg.Consensus.Validators = strings.Split(vals, ",")
	}

	cfg.Node.ListenAddr = getEnv("P2P_LISTEN", cfg.Node.ListenAddr)
	if bs := os.Getenv("P2P_BOOTSTRAP"); bs != "" {
		cfg.Node.Bootstrap = strings.Split(bs, ",")
	}
	cfg.Node.APIAddr = getEnv("API_ADDR", cfg.Node.APIAddr)
	cfg.Node.DataDir = getEnv("DATA_DIR", cfg.Node.DataDir)
	cfg.Node.LogFile = getEnv("LOG_FILE", cfg.Node.LogFile)
	cfg.Node.PrivateKey = getEnv("PRIVATE_KEY", cfg.Node.PrivateKey)

	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
