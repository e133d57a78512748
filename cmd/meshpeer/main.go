// Command meshpeer runs a single mesh node, or a rendezvous relay, from the
// command line. Grounded on the teacher's main.go subcommand dispatch
// (peer/rendezvous over flag.Args(), no framework), minus the desktop UI
// branch this mesh has no use for.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/google/uuid"
	logging "github.com/ipfs/go-log/v2"

	"github.com/swarmcast/meshcore/internal/config"
	"github.com/swarmcast/meshcore/internal/node"
	"github.com/swarmcast/meshcore/internal/transport/httporigin"
	"github.com/swarmcast/meshcore/internal/transport/webrtctransport"
	"github.com/swarmcast/meshcore/internal/transport/wssignal"
)

var log = logging.Logger("meshpeer")

var (
	showHelp = flag.Bool("h", false, "Show help")
	version  = flag.Bool("version", false, "Show version")
)

var appVersion = "dev"

func main() {
	flag.Parse()

	if *version {
		fmt.Printf("meshpeer v%s\n", appVersion)
		return
	}
	if *showHelp {
		showUsage()
		return
	}

	args := flag.Args()
	if len(args) == 0 {
		showUsage()
		os.Exit(1)
	}

	switch args[0] {
	case "peer":
		if len(args) < 2 {
			fmt.Fprintln(os.Stderr, "Error: peer command requires a directory path")
			fmt.Fprintln(os.Stderr, "Usage: meshpeer peer <peer-directory>")
			os.Exit(1)
		}
		runPeer(args[1])

	case "rendezvous":
		addr := ":8787"
		if len(args) >= 2 {
			addr = args[1]
		}
		if err := runRendezvous(addr); err != nil {
			log.Fatalf("rendezvous failed: %v", err)
		}

	default:
		fmt.Fprintf(os.Stderr, "Error: unknown command %q\n\n", args[0])
		showUsage()
		os.Exit(1)
	}
}

func runPeer(peerDirArg string) {
	absDir, err := filepath.Abs(peerDirArg)
	if err != nil {
		log.Fatalf("invalid peer directory: %v", err)
	}
	if stat, err := os.Stat(absDir); err != nil || !stat.IsDir() {
		log.Fatalf("peer directory does not exist: %s", absDir)
	}

	cfgPath := filepath.Join(absDir, "meshpeer.json")
	cfg, created, err := config.Ensure(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	if created {
		log.Infof("wrote default config to %s", cfgPath)
	}

	if cfg.Peer.ID == "" {
		cfg.Peer.ID = uuid.NewString()
		if err := config.Save(cfgPath, cfg); err != nil {
			log.Fatalf("failed to persist generated peer id: %v", err)
		}
	}

	printPeerBanner(absDir, cfgPath, cfg)

	factory := webrtctransport.NewFactory()
	origin := httporigin.New()

	p := node.New(cfg.Peer.ID, cfg, factory, origin, nil)

	if cfg.Signal.URL != "" {
		link, err := wssignal.Dial(cfg.Signal.URL)
		if err != nil {
			log.Warnf("rendezvous unreachable at %s, running mesh-only: %v", cfg.Signal.URL, err)
		} else {
			p.AttachSignal(link)
			defer link.Close()
		}
	}

	p.Start()
	defer p.Close()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	go readBootstrapCommands(p)

	fmt.Println("Peer running. Press Ctrl+C to stop.")
	<-sigCh
	fmt.Println("\nShutting down gracefully...")
}

// readBootstrapCommands lets an operator type a remote peer id at stdin to
// kick off a connection, since this CLI has no rendezvous-driven peer
// discovery of its own yet.
func readBootstrapCommands(p *node.Peer) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		remoteID := scanner.Text()
		if remoteID == "" {
			continue
		}
		if err := p.Connect(remoteID); err != nil {
			log.Warnf("connect to %s: %v", remoteID, err)
		}
	}
}

func showUsage() {
	fmt.Println("meshpeer - gossip-mesh content relay")
	fmt.Println()
	fmt.Println("Usage:")
	fmt.Println("  meshpeer peer <directory>          Run a mesh peer")
	fmt.Println("  meshpeer rendezvous [addr]          Run a bootstrap relay (default :8787)")
	fmt.Println()
	fmt.Println("Options:")
	fmt.Println("  -h        Show this help message")
	fmt.Println("  -version  Show version information")
}

func printPeerBanner(peerDir, cfgPath string, cfg config.Config) {
	fmt.Println("meshpeer")
	fmt.Printf("  peer dir:   %s\n", peerDir)
	fmt.Printf("  config:     %s\n", cfgPath)
	fmt.Printf("  peer id:    %s\n", cfg.Peer.ID)
	fmt.Printf("  signal url: %s\n", cfg.Signal.URL)
	fmt.Println()
}
