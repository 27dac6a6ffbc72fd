// Package libp2p is a non-local channel backend: it ships envelopes to
// peer processes over libp2p streams instead of delivering in-process.
// The host persists its Ed25519 identity to disk and exchanges framed
// payloads over a single named stream protocol, keyed by topic on the
// receiving side.
package libp2p

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	libp2p "github.com/libp2p/go-libp2p"
	"github.com/libp2p/go-libp2p/core/crypto"
	libp2phost "github.com/libp2p/go-libp2p/core/host"
	"github.com/libp2p/go-libp2p/core/network"
	"github.com/libp2p/go-libp2p/core/peer"
	ma "github.com/multiformats/go-multiaddr"

	"github.com/coremesh/coremesh/internal/channel"
	"github.com/coremesh/coremesh/internal/logger"
)

const streamProtocol = "/coremesh/channel/1.0.0"

// persistentIdentity is the on-disk Ed25519 keypair this backend's libp2p
// host uses, so a node keeps its peer ID across restarts.
type persistentIdentity struct {
	PrivKey []byte `json:"priv_key"`
	PeerID  string `json:"peer_id"`
}

func loadOrCreateIdentity(path string) (crypto.PrivKey, error) {
	if path == "" {
		path = "coremesh_node_identity.json"
	}
	if data, err := os.ReadFile(path); err == nil {
		var id persistentIdentity
		if err := json.Unmarshal(data, &id); err != nil {
			return nil, fmt.Errorf("libp2p: decode identity file: %w", err)
		}
		return crypto.UnmarshalPrivateKey(id.PrivKey)
	}

	priv, _, err := crypto.GenerateEd25519Key(nil)
	if err != nil {
		return nil, fmt.Errorf("libp2p: generate identity: %w", err)
	}
	pid, err := peer.IDFromPrivateKey(priv)
	if err != nil {
		return nil, err
	}
	privBytes, err := crypto.MarshalPrivateKey(priv)
	if err != nil {
		return nil, err
	}
	data, err := json.Marshal(persistentIdentity{PrivKey: privBytes, PeerID: pid.String()})
	if err == nil {
		_ = os.WriteFile(path, data, 0o600)
	}
	return priv, nil
}

// Options configures the Backend.
type Options struct {
	IdentityFilePath string
	Peers            []string // multiaddrs this backend dials on Publish
}

// Backend ships channel.Envelope values to every configured peer over a
// dedicated libp2p stream protocol, and decodes inbound streams back into
// registry deliveries. It satisfies channel.Backend.
type Backend struct {
	log  *logger.Logger
	reg  *channel.Registry
	opts Options
	host libp2phost.Host

	mu    sync.Mutex
	peers []ma.Multiaddr
}

func New(log *logger.Logger, opts Options) *Backend {
	return &Backend{log: log, opts: opts}
}

func (b *Backend) Name() string { return "libp2p" }

func (b *Backend) Initialize(reg *channel.Registry) error {
	b.reg = reg

	priv, err := loadOrCreateIdentity(b.opts.IdentityFilePath)
	if err != nil {
		return fmt.Errorf("libp2p: %w", err)
	}
	host, err := libp2p.New(libp2p.Identity(priv))
	if err != nil {
		return fmt.Errorf("libp2p: new host: %w", err)
	}
	b.host = host

	for _, addr := range b.opts.Peers {
		maddr, err := ma.NewMultiaddr(addr)
		if err != nil {
			return fmt.Errorf("libp2p: bad peer multiaddr %q: %w", addr, err)
		}
		b.peers = append(b.peers, maddr)
	}

	host.SetStreamHandler(streamProtocol, b.handleStream)
	if b.log != nil {
		b.log.Info("libp2p backend listening", logger.String("peer_id", host.ID().String()))
	}
	return nil
}

func (b *Backend) Start() error { return nil }
func (b *Backend) Shutdown() error {
	if b.host == nil {
		return nil
	}
	return b.host.Close()
}

// RegisterPublishType and Subscribe need no per-entry bookkeeping: every
// delivery is decoded from the wire envelope, so there is nothing format
// specific to pre-register, unlike a backend that caches serializers per
// msg_type.
func (b *Backend) RegisterPublishType(w *channel.PublishTypeWrapper) bool { return true }
func (b *Backend) Subscribe(w *channel.SubscribeWrapper) bool { return true }

// Publish ships env to every configured peer, one stream per peer. A
// failed connect/write is logged and the remaining peers are still tried;
// the first such error is returned.
func (b *Backend) Publish(env channel.Envelope, srcModule, srcPkg string) error {
	b.mu.Lock()
	peers := append([]ma.Multiaddr(nil), b.peers...)
	b.mu.Unlock()

	payload := env.Marshal()
	ctx := context.Background()
	var firstErr error
	for _, addr := range peers {
		if err := b.sendTo(ctx, addr, payload); err != nil {
			if b.log != nil {
				b.log.Warn("libp2p: publish to peer failed", logger.String("peer", addr.String()), logger.Err(err))
			}
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

func (b *Backend) sendTo(ctx context.Context, addr ma.Multiaddr, payload []byte) error {
	info, err := peer.AddrInfoFromP2pAddr(addr)
	if err != nil {
		return err
	}
	if err := b.host.Connect(ctx, *info); err != nil {
		return err
	}
	stream, err := b.host.NewStream(ctx, info.ID, streamProtocol)
	if err != nil {
		return err
	}
	defer stream.Close()
	_, err = stream.Write(payload)
	return err
}

func (b *Backend) handleStream(s network.Stream) {
	defer s.Close()
	data, err := io.ReadAll(s)
	if err != nil {
		if b.log != nil {
			b.log.Warn("libp2p: read stream failed", logger.Err(err))
		}
		return
	}
	env, err := channel.Unmarshal(data)
	if err != nil {
		if b.log != nil {
			b.log.Warn("libp2p: decode envelope failed", logger.Err(err))
		}
		return
	}

	subs := b.reg.SubscribersForTopic(env.Topic)
	for _, sub := range subs {
		if sub.MsgType != "" && sub.MsgType != env.MsgType {
			continue
		}
		func(sub *channel.SubscribeWrapper) {
			defer func() {
				if r := recover(); r != nil && b.log != nil {
					b.log.Error("libp2p: subscriber callback panicked", logger.Any("recovered", r))
				}
			}()
			sub.Callback(env.Payload, func(err error) {
				if err != nil && b.log != nil {
					b.log.Warn("libp2p: subscriber callback failed", logger.String("module", sub.ModuleName), logger.Err(err))
				}
			})
		}(sub)
	}
}

var _ channel.Backend = (*Backend)(nil)
