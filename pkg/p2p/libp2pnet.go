package p2p

import (
	"context"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"
	"go.uber.org/zap"

	"github.com/slatechain/slate/pkg/consensus"
)

const (
	topicPropose = "slate-propose"
	topicVote    = "slate-vote"
	topicBlock   = "slate-block"
)

// Libp2pNet gossips proposals, votes and blocks over gossipsub topics and
// dispatches inbound messages into the engine's handlers. The engine never
// blocks on delivery: publishing hands off to the pubsub router.
type Libp2pNet struct {
	h   host.Host
	ps  *pubsub.PubSub
	log *zap.SugaredLogger

	tPropose, tVote, tBlock       *pubsub.Topic
	subPropose, subVote, subBlock *pubsub.Subscription

	muH      sync.RWMutex
	handlers consensus.Handlers
}

type Libp2pConfig struct {
	ListenAddr string
	Bootstrap  []string
	Logger     *zap.SugaredLogger
}

func NewLibp2pNet(ctx context.Context, cfg Libp2pConfig) (*Libp2pNet, error) {
	var opts []libp2p.Option
	if cfg.ListenAddr != "" {
		maddr, err := ma.NewMultiaddr(cfg.ListenAddr)
		if err != nil {
			return nil, err
		}
		opts = append(opts, libp2p.ListenAddrs(maddr))
	}
	h, err := libp2p.New(opts...)
	if err != nil {
		return nil, err
	}
	ps, err := pubsub.NewGossipSub(ctx, h)
	if err != nil {
		return nil, err
	}

	net := &Libp2pNet{h: h, ps: ps, log: cfg.Logger}

	for _, bs := range cfg.Bootstrap {
		if err := connectMultiaddr(ctx, h, bs); err != nil && cfg.Logger != nil {
			cfg.Logger.Warnw("bootstrap_connect_failed", "addr", bs, "err", err)
		}
	}

	if err := net.joinTopics(); err != nil {
		return nil, err
	}

	go net.handleProposeLoop(ctx)
	go net.handleVoteLoop(ctx)
	go net.handleBlockLoop(ctx)

	if cfg.Logger != nil {
		cfg.Logger.Infow("libp2p_ready", "peer", h.ID().String(), "listen", cfg.ListenAddr)
	}
	return net, nil
}

func connectMultiaddr(ctx context.Context, h host.Host, addr string) error {
	m, err := ma.NewMultiaddr(addr)
	if err != nil {
		return err
	}
	info, err := peer.AddrInfoFromP2pAddr(m)
	if err != nil {
		return err
	}
	return h.Connect(ctx, *info)
}

func (n *Libp2pNet) joinTopics() error {
	var err error
	if n.tPropose, err = n.ps.Join(topicPropose); err != nil {
		return err
	}
	if n.tVote, err = n.ps.Join(topicVote); err != nil {
		return err
	}
	if n.tBlock, err = n.ps.Join(topicBlock); err != nil {
		return err
	}

	if n.subPropose, err = n.tPropose.Subscribe(); err != nil {
		return err
	}
	if n.subVote, err = n.tVote.Subscribe(); err != nil {
		return err
	}
	if n.subBlock, err = n.tBlock.Subscribe(); err != nil {
		return err
	}
	return nil
}

// implement consensus.Network

func (n *Libp2pNet) SetHandlers(h consensus.Handlers) {
	n.muH.Lock()
	n.handlers = h
	n.muH.Unlock()
}

func (n *Libp2pNet) Host() host.Host { return n.h }

func (n *Libp2pNet) BroadcastPropose(ctx context.Context, sp consensus.SignedProposeMessage) error {
	inner, err := gobEncode(sp)
	if err != nil {
		return err
	}
	data, err := gobEncode(ProposeWire{Propose: inner})
	if err != nil {
		return err
	}
	return n.tPropose.Publish(ctx, data)
}

func (n *Libp2pNet) BroadcastVote(ctx context.Context, sv consensus.SignedVoteMessage) error {
	inner, err := gobEncode(sv)
	if err != nil {
		return err
	}
	data, err := gobEncode(VoteWire{Vote: inner})
	if err != nil {
		return err
	}
	return n.tVote.Publish(ctx, data)
}

func (n *Libp2pNet) BroadcastBlock(ctx context.Context, b consensus.Block) error {
	inner, err := gobEncode(b)
	if err != nil {
		return err
	}
	data, err := gobEncode(BlockWire{Block: inner})
	if err != nil {
		return err
	}
	return n.tBlock.Publish(ctx, data)
}

// inbound

func (n *Libp2pNet) handleProposeLoop(ctx context.Context) {
	for {
		msg, err := n.subPropose.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == n.h.ID() {
			continue
		}
		var w ProposeWire
		if err := gobDecode(msg.Data, &w); err != nil {
			continue
		}
		var sp consensus.SignedProposeMessage
		if err := gobDecode(w.Propose, &sp); err != nil {
			continue
		}

		n.muH.RLock()
		h := n.handlers
		n.muH.RUnlock()
		if h.OnPropose != nil {
			h.OnPropose(ctx, sp)
		}
	}
}

func (n *Libp2pNet) handleVoteLoop(ctx context.Context) {
	for {
		msg, err := n.subVote.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == n.h.ID() {
			continue
		}
		var w VoteWire
		if err := gobDecode(msg.Data, &w); err != nil {
			continue
		}
		var sv consensus.SignedVoteMessage
		if err := gobDecode(w.Vote, &sv); err != nil {
			continue
		}

		n.muH.RLock()
		h := n.handlers
		n.muH.RUnlock()
		if h.OnVote != nil {
			h.OnVote(ctx, sv)
		}
	}
}

func (n *Libp2pNet) handleBlockLoop(ctx context.Context) {
	for {
		msg, err := n.subBlock.Next(ctx)
		if err != nil {
			return
		}
		if msg.ReceivedFrom == n.h.ID() {
			continue
		}
		var w BlockWire
		if err := gobDecode(msg.Data, &w); err != nil {
			continue
		}
		var b consensus.Block
		if err := gobDecode(w.Block, &b); err != nil {
			continue
		}

		n.muH.RLock()
		h := n.handlers
		n.muH.RUnlock()
		if h.OnBlock != nil {
			h.OnBlock(ctx, b)
		}
	}
}

var _ consensus.Network = (*Libp2pNet)(nil)
