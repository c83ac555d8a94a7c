// Command node starts a ledgerd validator.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/tolelom/ledgerd/block"
	"github.com/tolelom/ledgerd/config"
	"github.com/tolelom/ledgerd/crypto"
	"github.com/tolelom/ledgerd/crypto/certgen"
	"github.com/tolelom/ledgerd/domain"
	"github.com/tolelom/ledgerd/events"
	"github.com/tolelom/ledgerd/keystore"
	"github.com/tolelom/ledgerd/kura"
	"github.com/tolelom/ledgerd/node"
	"github.com/tolelom/ledgerd/queue"
	"github.com/tolelom/ledgerd/sumeragi"
	"github.com/tolelom/ledgerd/torii"
	"github.com/tolelom/ledgerd/transport"
	"github.com/tolelom/ledgerd/tx"
	"github.com/tolelom/ledgerd/wsv"
)

func main() {
	cfgPath := flag.String("config", "config.json", "path to config file")
	keyPath := flag.String("key", "validator.key", "path to keystore file")
	genKey := flag.Bool("genkey", false, "generate a new validator key and exit")
	genCerts := flag.String("gencerts", "", "generate CA + node TLS certs into the given directory and exit")
	flag.Parse()

	// Read keystore password from environment (not CLI flags — they leak via ps).
	password := os.Getenv("LEDGERD_PASSWORD")
	if password == "" {
		log.Println("WARNING: LEDGERD_PASSWORD not set — keystore will use an empty password")
	}

	// ---- generate key mode ----
	if *genKey {
		priv, pub, err := crypto.GenerateKeyPair()
		if err != nil {
			log.Fatal(err)
		}
		if err := keystore.Save(*keyPath, password, priv); err != nil {
			log.Fatal(err)
		}
		fmt.Printf("Generated key. Public key: %s\n", pub.Hex())
		fmt.Printf("Saved to: %s\n", *keyPath)
		return
	}

	// ---- generate certs mode ----
	if *genCerts != "" {
		priv, err := keystore.Load(*keyPath, password)
		if err != nil {
			log.Fatalf("load key for cert naming: %v", err)
		}
		nodeID := priv.Public().Address()
		if err := certgen.GenerateAll(*genCerts, nodeID, nil); err != nil {
			log.Fatalf("gencerts: %v", err)
		}
		fmt.Printf("Certificates generated in %s for node %q\n", *genCerts, nodeID)
		return
	}

	// ---- load config ----
	cfg, err := loadConfig(*cfgPath)
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	// ---- load validator key ----
	priv, err := keystore.Load(*keyPath, password)
	if err != nil {
		log.Fatalf("load key: %v", err)
	}
	pub := priv.Public()
	selfId := domain.PeerId{Address: cfg.ToriiURL, PublicKey: pub}

	// ---- trusted peer set ----
	peers, err := trustedPeers(cfg, selfId)
	if err != nil {
		log.Fatalf("trusted peers: %v", err)
	}

	// ---- TLS ----
	tlsCfg, err := config.LoadTLSConfig(cfg.TLS)
	if err != nil {
		log.Fatalf("tls: %v", err)
	}
	if tlsCfg != nil {
		log.Println("mTLS enabled for Torii")
	}

	// ---- events ----
	emitter := events.NewEmitter()

	// ---- WorldStateView + secondary index ----
	w := wsv.New(domain.NewPeer(selfId.Address, selfId.PublicKey))
	idxPath := filepath.Join(cfg.KuraBlockStorePath, "index")
	idx, err := wsv.OpenIndex(idxPath)
	if err != nil {
		log.Fatalf("open index: %v", err)
	}
	w.SetIndex(idx)

	// ---- Kura (block store) ----
	blockCh := make(chan *block.Block, 16384)
	mode := kura.Strict
	if cfg.Mode == config.ModeFast {
		mode = kura.Fast
	}
	k, err := kura.New(cfg.KuraBlockStorePath, mode, blockCh)
	if err != nil {
		log.Fatalf("kura: %v", err)
	}

	// ---- replay existing chain into WSV before anything else can mutate it ----
	// Init sends every replayed block onto blockCh before returning; since
	// the channel's buffer comfortably holds any chain history this exercise
	// produces, nothing needs to be draining it concurrently. Once Init
	// returns we drain what's buffered synchronously — single-threaded, no
	// consumer race — and only then hand the (now-empty) channel to the
	// node's long-running block-applier task for live operation.
	if err := k.Init(); err != nil {
		log.Fatalf("kura init: %v", err)
	}
	for len(blockCh) > 0 {
		if err := w.Put(<-blockCh); err != nil {
			log.Fatalf("replay: apply block: %v", err)
		}
	}

	// ---- genesis block, if the chain is empty ----
	if k.Height() == 0 {
		genesis, err := config.BuildGenesisBlock(selfId, peers, priv)
		if err != nil {
			log.Fatalf("build genesis: %v", err)
		}
		if _, err := k.Store(genesis); err != nil {
			log.Fatalf("store genesis: %v", err)
		}
		if err := w.Put(genesis); err != nil {
			log.Fatalf("apply genesis: %v", err)
		}
		log.Printf("Genesis block committed at height 0")
	}

	// ---- queue ----
	q := queue.New(cfg.QueueMaxLen)

	// ---- transport ----
	peerTransport := transport.New(peers, tlsCfg)

	// ---- sumeragi ----
	sCfg := sumeragi.Config{
		MaxFaultyPeers: int(cfg.MaxFaultyPeers),
		RoundTimeout:   cfg.RoundTimeout(),
		CommitTime:     cfg.CommitTime(),
		MaxTxPerBlock:  cfg.MaxTxPerBlock,
	}
	s := sumeragi.New(sCfg, w, k, peerTransport, emitter, peers, selfId, priv)

	// ---- torii (ingress) ----
	txCh := make(chan *tx.Transaction, 4096)
	msgCh := make(chan sumeragi.Message, 4096)
	tr := torii.New(cfg.ToriiURL, tlsCfg, txCh, msgCh, w, 5*time.Minute) // ±5 min acceptance window

	// ---- node orchestrator ----
	n := node.New(node.Deps{
		Cfg:       cfg,
		SelfId:    selfId,
		Priv:      priv,
		Kura:      k,
		WSV:       w,
		Queue:     q,
		Sumeragi:  s,
		Torii:     tr,
		Transport: peerTransport,
		Emitter:   emitter,
		TxCh:      txCh,
		MsgCh:     msgCh,
		BlockCh:   blockCh,
	})
	if err := n.Start(); err != nil {
		log.Fatalf("node start: %v", err)
	}
	log.Printf("Torii listening on %s (validator %s)", cfg.ToriiURL, pub.Hex())

	// ---- graceful shutdown ----
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	log.Println("Shutting down...")
	n.Stop()
	log.Println("Shutdown complete.")
}

func loadConfig(path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		if os.IsNotExist(err) {
			log.Printf("Config file not found at %s, using defaults.", path)
			return config.DefaultConfig(), nil
		}
		return nil, err
	}
	return cfg, nil
}

// trustedPeers resolves cfg's static peer set into domain.PeerIds,
// guaranteeing selfId is present (a single-node deployment with no
// trusted_peers entries is its own whole peer set).
func trustedPeers(cfg *config.Config, selfId domain.PeerId) ([]domain.PeerId, error) {
	if len(cfg.TrustedPeers) == 0 {
		return []domain.PeerId{selfId}, nil
	}
	peers := make([]domain.PeerId, 0, len(cfg.TrustedPeers))
	seenSelf := false
	for _, p := range cfg.TrustedPeers {
		pub, err := crypto.PubKeyFromHex(p.PublicKey)
		if err != nil {
			return nil, fmt.Errorf("peer %s: %w", p.Address, err)
		}
		id := domain.PeerId{Address: p.Address, PublicKey: pub}
		if id.Equal(selfId) {
			seenSelf = true
		}
		peers = append(peers, id)
	}
	if !seenSelf {
		peers = append(peers, selfId)
	}
	return peers, nil
}

