// Command roughtime-client sends a single Roughtime request to a
// server, verifies the signed response against the server's long-term
// public key, and prints the asserted time interval.
package main

import (
	cryptorand "crypto/rand"
	"encoding/hex"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/crypto/ed25519"

	"github.com/kyhwana/roughenough/roughtime"
)

func main() {
	var pubkeyHex string
	var timeout time.Duration

	root := &cobra.Command{
		Use:           "roughtime-client <addr:port>",
		Short:         "Query a Roughtime server and verify its signed response",
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args[0], pubkeyHex, timeout)
		},
	}
	root.Flags().StringVar(&pubkeyHex, "pubkey", "", "hex-encoded long-term Ed25519 public key to verify against (required)")
	root.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "how long to wait for a response")
	_ = root.MarkFlagRequired("pubkey")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "roughtime-client:", err)
		os.Exit(1)
	}
}

func run(addr, pubkeyHex string, timeout time.Duration) error {
	longTermKey, err := hex.DecodeString(pubkeyHex)
	if err != nil || len(longTermKey) != ed25519.PublicKeySize {
		return fmt.Errorf("--pubkey must be a hex-encoded %d-byte Ed25519 key", ed25519.PublicKeySize)
	}

	raddr, err := net.ResolveUDPAddr("udp", addr)
	if err != nil {
		return fmt.Errorf("resolve %s: %w", addr, err)
	}
	conn, err := net.DialUDP("udp", nil, raddr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", addr, err)
	}
	defer conn.Close()
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return err
	}

	var nonce [64]byte
	if _, err := cryptorand.Read(nonce[:]); err != nil {
		return fmt.Errorf("generate nonce: %w", err)
	}
	req := &roughtime.Request{Nonce: nonce}
	if _, err := conn.Write(req.Encode()); err != nil {
		return fmt.Errorf("send request: %w", err)
	}

	buf := make([]byte, 4096)
	n, err := conn.Read(buf)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	resp, err := roughtime.DecodeResponse(buf[:n], ed25519.PublicKey(longTermKey))
	if err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	if err := roughtime.Verify(resp, nonce); err != nil {
		return fmt.Errorf("verify response: %w", err)
	}

	lo := resp.Midpoint.Add(-resp.Radius)
	hi := resp.Midpoint.Add(resp.Radius)
	fmt.Printf("midpoint: %s\nradius:   %s\ninterval: [%s, %s]\nindex:    %d / path length %d\n",
		resp.Midpoint.UTC().Format(time.RFC3339Nano), resp.Radius,
		lo.UTC().Format(time.RFC3339Nano), hi.UTC().Format(time.RFC3339Nano),
		resp.Index, len(resp.Path))
	return nil
}
