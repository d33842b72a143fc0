// Command client is a demo/ops CLI driving one Client Session against a
// relay: it loads or creates a local identity, connects, and relays lines
// typed on stdin as encrypted messages to the peer named "server",
// printing whatever comes back.
package main

import (
	"bufio"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/jaydenbeard/secure-relay/internal/identity"
	"github.com/jaydenbeard/secure-relay/internal/session"
)

func main() {
	url := flag.String("url", "ws://localhost:8080/ws", "relay WebSocket URL")
	keyPath := flag.String("identity", "./data/client-identity.key", "path to this client's persisted identity key")
	flag.Parse()

	clientIdentity, err := identity.LoadOrCreate(identity.NewFileStore(*keyPath))
	if err != nil {
		log.Fatalf("client: identity: %v", err)
	}
	fmt.Fprintf(os.Stderr, "client: identity %s\n", identity.PartyID(clientIdentity))

	sess := session.New(*url, clientIdentity, func(peerID string, plaintext []byte) {
		fmt.Printf("%s: %s\n", peerID, plaintext)
	})

	if err := sess.Connect(); err != nil {
		log.Fatalf("client: connect: %v", err)
	}
	defer sess.Close()
	fmt.Fprintln(os.Stderr, "client: connected, type a message and press enter")

	go readStdin(sess)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
}

func readStdin(sess *session.ClientSession) {
	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == "" {
			continue
		}
		if _, err := sess.Send("server", []byte(line)); err != nil {
			fmt.Fprintf(os.Stderr, "client: send failed: %v\n", err)
		}
	}
}
