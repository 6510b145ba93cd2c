// Package keys implements the Roughtime server's key hierarchy: a
// long-term identity key (derived from a configured seed, stable
// across restarts) delegating signing authority to a freshly
// generated online key via a signed certificate.
package keys

import (
	cryptorand "crypto/rand"
	"fmt"
	"io"
	"time"

	"golang.org/x/crypto/ed25519"

	"github.com/kyhwana/roughenough/roughtime"
)

// Options configures the delegation's validity window. MINT=0 and
// MAXT=2^63-1 (disabling the window in practice) is the zero-value
// default; a deployment can narrow it.
type Options struct {
	MinValidity time.Time
	MaxValidity time.Time
}

// maxMicros is 2^63-1 microseconds since the epoch, the documented
// default for an unbounded validity window.
var maxMicros = int64(1<<63 - 1)

func (o Options) withDefaults() Options {
	if o.MinValidity.IsZero() {
		o.MinValidity = time.Unix(0, 0).UTC()
	}
	if o.MaxValidity.IsZero() {
		o.MaxValidity = time.Unix(maxMicros/1e6, (maxMicros%1e6)*1e3).UTC()
	}
	return o
}

// Hierarchy holds everything the batch responder needs to sign
// responses for the server's lifetime: the online private key and the
// pre-encoded CERT bytes. The long-term private key is not retained.
type Hierarchy struct {
	LongTermPublic ed25519.PublicKey
	OnlinePublic   ed25519.PublicKey
	onlinePrivate  ed25519.PrivateKey
	cert           roughtime.Certificate
	certBytes      []byte
}

// New derives the long-term key pair from seed, generates a fresh
// online key pair from crypto/rand.Reader,
// signs a DELE binding the online key under opts' validity window, and
// returns the resulting Hierarchy. The long-term private key exists
// only on the local stack of this call and is zeroed before return.
func New(seed [32]byte, opts Options) (*Hierarchy, error) {
	return new2(seed, opts, cryptorand.Reader)
}

func new2(seed [32]byte, opts Options, rnd io.Reader) (*Hierarchy, error) {
	opts = opts.withDefaults()

	ltPriv := ed25519.NewKeyFromSeed(seed[:])
	defer wipe(ltPriv)
	ltPub := append(ed25519.PublicKey(nil), ltPriv.Public().(ed25519.PublicKey)...)

	onPub, onPriv, err := ed25519.GenerateKey(rnd)
	if err != nil {
		return nil, fmt.Errorf("keys: generate online key: %w", err)
	}

	dele := roughtime.Delegation{
		Min: opts.MinValidity,
		Max: opts.MaxValidity,
	}
	copy(dele.PublicKey[:], onPub)
	deleBytes := dele.Encode()

	sig := ed25519.Sign(ltPriv, append(append([]byte(nil), roughtime.ContextCertificate...), deleBytes...))

	cert := roughtime.Certificate{Delegation: dele}
	copy(cert.Signature[:], sig)
	certBytes := cert.Encode()

	return &Hierarchy{
		LongTermPublic: ltPub,
		OnlinePublic:   onPub,
		onlinePrivate:  onPriv,
		cert:           cert,
		certBytes:      certBytes,
	}, nil
}

// CertBytes returns the encoded CERT message, ready to be copied into
// every response of the server's lifetime.
func (h *Hierarchy) CertBytes() []byte {
	return h.certBytes
}

// Certificate returns the decoded CERT this Hierarchy signs responses
// under, so a caller building a Response doesn't need to re-decode
// CertBytes() to get it.
func (h *Hierarchy) Certificate() roughtime.Certificate {
	return h.cert
}

// Sign signs msg (already prefixed with the response signing context
// by the caller) with the online private key.
func (h *Hierarchy) Sign(msg []byte) [64]byte {
	var sig [64]byte
	copy(sig[:], ed25519.Sign(h.onlinePrivate, msg))
	return sig
}

func wipe(k ed25519.PrivateKey) {
	for i := range k {
		k[i] = 0
	}
}
