package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/multiformats/go-multiaddr"

	"github.com/felixniemeyer/repeerv3-sub001/internal/p2p"
	"github.com/felixniemeyer/repeerv3-sub001/internal/runtime"
)

func main() {
	os.Exit(run())
}

func run() int {
	user := flag.String("user", "", "identity namespace for this node's keys and database (required)")
	apiPort := flag.Int("api-port", 8080, "port the HTTP API listens on")
	p2pPort := flag.Int("p2p-port", 9015, "port the libp2p host listens on")
	dataDir := flag.String("data-dir", "./data", "directory holding identity keys and the sqlite database")
	bootstrapPeers := flag.String("bootstrap-peers", "", "comma-separated bootstrap peer multiaddrs")
	flag.Parse()

	if v := os.Getenv("TRUSTNODE_USER"); v != "" {
		*user = v
	}
	if v := os.Getenv("TRUSTNODE_API_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			*apiPort = port
		}
	}
	if v := os.Getenv("TRUSTNODE_P2P_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			*p2pPort = port
		}
	}
	if v := os.Getenv("TRUSTNODE_DATA_DIR"); v != "" {
		*dataDir = v
	}
	if v := os.Getenv("TRUSTNODE_BOOTSTRAP_PEERS"); v != "" {
		*bootstrapPeers = v
	}

	if *user == "" {
		log.Println("error: --user is required")
		return 2
	}

	p2pConfig := p2p.DefaultConfig()
	listenAddr, err := multiaddr.NewMultiaddr(fmt.Sprintf("/ip4/0.0.0.0/tcp/%d", *p2pPort))
	if err != nil {
		log.Printf("invalid p2p port: %v", err)
		return 2
	}
	p2pConfig.ListenAddrs = []multiaddr.Multiaddr{listenAddr}

	for _, raw := range strings.Split(*bootstrapPeers, ",") {
		raw = strings.TrimSpace(raw)
		if raw == "" {
			continue
		}
		addr, err := multiaddr.NewMultiaddr(raw)
		if err != nil {
			log.Printf("invalid bootstrap peer %q: %v", raw, err)
			return 2
		}
		p2pConfig.BootstrapPeers = append(p2pConfig.BootstrapPeers, addr)
	}

	node, err := runtime.New(runtime.Config{
		User:      *user,
		DataDir:   *dataDir,
		APIAddr:   fmt.Sprintf(":%d", *apiPort),
		P2PConfig: p2pConfig,
	})
	if err != nil {
		log.Printf("failed to initialize node: %v", err)
		return 1
	}

	startCtx, startCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer startCancel()
	if err := node.Start(startCtx); err != nil {
		log.Printf("failed to start node: %v", err)
		return 1
	}

	log.Printf("trustnode started: user=%s api=:%d p2p=:%d", *user, *apiPort, *p2pPort)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigChan:
		log.Println("shutting down...")
	case err := <-node.Wait():
		log.Printf("api server exited unexpectedly: %v", err)
		return 1
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := node.Stop(stopCtx); err != nil {
		log.Printf("shutdown error: %v", err)
		return 1
	}

	log.Println("stopped")
	return 0
}
