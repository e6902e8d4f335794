package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/slatechain/slate/params"
	"github.com/slatechain/slate/pkg/api"
	"github.com/slatechain/slate/pkg/consensus"
	"github.com/slatechain/slate/pkg/crypto"
	"github.com/slatechain/slate/pkg/p2p"
	"github.com/slatechain/slate/pkg/storage"
	"github.com/slatechain/slate/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("")

	logFile := cfg.Node.LogFile
	if logFile == "" {
		logFile = "data/node.log"
	}
	logger, err := util.NewLoggerWithFile(logFile)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", logFile)

	// ---- Identity ----
	var signer *crypto.Signer
	if cfg.Node.PrivateKey != "" {
		signer, err = crypto.FromPrivateKeyHex(cfg.Node.PrivateKey)
		if err != nil {
			sugar.Fatalw("private_key_invalid", "err", err)
		}
	} else {
		signer, err = crypto.GenerateKey()
		if err != nil {
			sugar.Fatalw("key_generation_failed", "err", err)
		}
		sugar.Infow("ephemeral_key_generated", "address", signer.Address().Hex())
	}

	// ---- Genesis ----
	balances, err := parseGenesisValidators(cfg.Consensus.Validators)
	if err != nil {
		sugar.Fatalw("genesis_validators_invalid", "err", err)
	}
	if len(balances) == 0 {
		// Single-node devnet: the local key is the only validator.
		balances = consensus.ValidatorBalances{signer.Address(): 1}
		sugar.Infow("devnet_genesis", "validator", signer.Address().Hex())
	}

	state := consensus.NewNodeState(consensus.Config{
		Genesis:         consensus.Block{Slot: 0},
		GenesisBalances: balances,
		EpochLength:     consensus.Slot(cfg.Consensus.EpochLength),
		ConfirmDepth:    int(cfg.Consensus.ConfirmDepth),
	}, signer)
	blsSeed := crypto.DigestWithDomain(crypto.DomainSeed, []byte(signer.PrivateKeyHex()))
	state.SetBLSSigner(crypto.NewBLSSignerFromSeed(blsSeed[:]))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---- Storage ----
	var store consensus.BlockStore
	var wal consensus.WAL = storage.NewNopWAL()
	if cfg.Node.DataDir != "" {
		ps, err := storage.NewPebbleStore(filepath.Join(cfg.Node.DataDir, "chain"))
		if err != nil {
			sugar.Fatalw("pebble_open_failed", "err", err)
		}
		defer ps.Close()
		if err := ps.Replay(state); err != nil {
			sugar.Fatalw("replay_failed", "err", err)
		}
		store = ps

		fw, err := storage.NewFileWAL(filepath.Join(cfg.Node.DataDir, "decisions.wal"))
		if err != nil {
			sugar.Fatalw("wal_open_failed", "err", err)
		}
		wal = fw
	} else {
		store = storage.NewInMemoryBlockStore()
	}

	// ---- Network ----
	net, err := p2p.NewLibp2pNet(ctx, p2p.Libp2pConfig{
		ListenAddr: cfg.Node.ListenAddr,
		Bootstrap:  cfg.Node.Bootstrap,
		Logger:     sugar,
	})
	if err != nil {
		sugar.Fatalw("libp2p_init_failed", "err", err)
	}

	// ---- Engine ----
	engine := consensus.NewEngine(state, net, consensus.EmptyMempool{}, consensus.HighestCompleteTip{})
	engine.Logger = sugar
	engine.Store = store
	engine.WAL = wal

	sugar.Infow("node_starting",
		"identity", state.Identity().Hex(),
		"validators", len(balances),
		"delta_ms", cfg.Consensus.Delta.Milliseconds(),
		"epoch_length", cfg.Consensus.EpochLength,
		"confirm_depth", cfg.Consensus.ConfirmDepth)

	// ---- API Server ----
	apiServer := api.NewServer(engine)
	go func() {
		sugar.Infow("api_server_starting", "addr", cfg.Node.APIAddr)
		if err := apiServer.Start(cfg.Node.APIAddr); err != nil {
			sugar.Fatalw("api_server_failed", "err", err)
		}
	}()

	// ---- Slot ticker ----
	ticker := consensus.NewSlotTicker(cfg.Consensus.Delta, util.RealClock{})
	go func() {
		if err := ticker.Run(ctx, engine); err != nil && ctx.Err() == nil {
			sugar.Fatalw("ticker_failed", "err", err)
		}
	}()

	// Progress loop: log consensus progress and push updates to WebSocket
	// subscribers as the view grows.
	progress := time.NewTicker(1 * time.Second)
	defer progress.Stop()

	announced := map[consensus.Hash]struct{}{state.GenesisHash(): {}}
	lastFinalized := state.GenesisCheckpoint()

	for {
		select {
		case <-ctx.Done():
			return
		case <-progress.C:
			for _, b := range state.AllBlocks() {
				h := consensus.HashOfBlock(b)
				if _, seen := announced[h]; seen {
					continue
				}
				announced[h] = struct{}{}
				apiServer.AnnounceBlock(b)
			}

			fin := state.GreatestFinalizedCheckpoint()
			if fin != lastFinalized {
				lastFinalized = fin
				apiServer.AnnounceFinalized(fin)
			}

			sugar.Infow("consensus_progress",
				"slot", state.CurrentSlot(),
				"blocks", len(state.AllBlocks()),
				"votes", len(state.Votes()),
				"finalized_slot", fin.CheckpointSlot)
		}
	}
}

// parseGenesisValidators decodes "0xaddr:stake" entries.
func parseGenesisValidators(entries []string) (consensus.ValidatorBalances, error) {
	out := make(consensus.ValidatorBalances)
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		addr, stakeStr, ok := strings.Cut(entry, ":")
		if !ok {
			return nil, errMalformedValidator(entry)
		}
		if !common.IsHexAddress(addr) {
			return nil, errMalformedValidator(entry)
		}
		stake, err := strconv.ParseUint(stakeStr, 10, 64)
		if err != nil {
			return nil, errMalformedValidator(entry)
		}
		out[common.HexToAddress(addr)] = stake
	}
	return out, nil
}

type errMalformedValidator string

func (e errMalformedValidator) Error() string {
	return "malformed validator entry, want 0xaddr:stake: " + string(e)
}
