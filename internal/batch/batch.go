// Package batch implements the batch responder: the five-step
// algorithm that turns a collected set of client nonces into one
// signed response per client, amortizing a single Ed25519 signature
// over the whole batch via a Merkle tree.
package batch

import (
	"net"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/kyhwana/roughenough/internal/clocksource"
	"github.com/kyhwana/roughenough/internal/keys"
	"github.com/kyhwana/roughenough/internal/merkle"
	"github.com/kyhwana/roughenough/internal/metrics"
	"github.com/kyhwana/roughenough/roughtime"
)

// Pending is one admitted request waiting for its batch to flush.
type Pending struct {
	Nonce [64]byte
	Addr  *net.UDPAddr
}

// Batch accumulates Pending requests between flushes. The zero value
// is ready to use.
type Batch struct {
	items []Pending
}

// Add admits req into the batch.
func (b *Batch) Add(req Pending) {
	b.items = append(b.items, req)
}

// Len reports how many requests are currently admitted.
func (b *Batch) Len() int {
	return len(b.items)
}

// Reset empties the batch for reuse after a flush.
func (b *Batch) Reset() {
	b.items = b.items[:0]
}

// nonces returns the batch's nonces in admission order, the order the
// Merkle tree is built over.
func (b *Batch) nonces() [][64]byte {
	ns := make([][64]byte, len(b.items))
	for i, p := range b.items {
		ns[i] = p.Nonce
	}
	return ns
}

// Reply pairs an encoded response message with the address it must be
// sent to.
type Reply struct {
	Addr  *net.UDPAddr
	Bytes []byte
}

// Responder holds the long-lived collaborators a flush needs: the key
// hierarchy to sign with, the clock to read MIDP from, and the
// configured radius/batch size. One Responder is built per server and
// reused for every flush.
type Responder struct {
	Hierarchy *keys.Hierarchy
	Clock     *clocksource.Source
	Radius    time.Duration
	BatchSize int
	Metrics   *metrics.Metrics
	Logger    zerolog.Logger
}

// DefaultRadius is RADI's value absent configuration: one second.
const DefaultRadius = time.Second

// Flush runs the five-step batch algorithm over b: build the Merkle
// tree over every admitted nonce, sign SREP once, and return one Reply
// per admitted request carrying that request's inclusion path and
// index. b is reset before returning. An empty batch yields no
// replies and is not an error.
func (r *Responder) Flush(b *Batch) ([]Reply, error) {
	n := b.Len()
	if n == 0 {
		return nil, nil
	}
	batchID := uuid.New()
	signStart := time.Now()

	nonces := b.nonces()
	root := merkle.Root(nonces)
	paths := merkle.Paths(nonces)

	midpoint, clamped := r.Clock.Midpoint()
	if clamped && r.Metrics != nil {
		r.Metrics.MidpointClamped.Inc()
	}

	radius := r.Radius
	if radius == 0 {
		radius = DefaultRadius
	}

	srep := roughtime.SignedResponse{
		Root:     root,
		Midpoint: midpoint,
		Radius:   radius,
	}
	srepBytes := srep.Encode()

	signed := append(append([]byte(nil), roughtime.ContextSignedResponse...), srepBytes...)
	sig := r.Hierarchy.Sign(signed)

	if r.Metrics != nil {
		r.Metrics.SignLatency.Observe(time.Since(signStart).Seconds())
		if r.BatchSize > 0 {
			r.Metrics.BatchFillRatio.Observe(float64(n) / float64(r.BatchSize))
		}
	}

	cert := r.Hierarchy.Certificate()
	replies := make([]Reply, n)
	for i, p := range b.items {
		resp := roughtime.Response{
			Signature:      sig,
			Path:           paths[i],
			SignedResponse: srep,
			Certificate:    cert,
			Index:          uint32(i),
		}
		replies[i] = Reply{Addr: p.Addr, Bytes: resp.Encode()}
	}

	if r.Metrics != nil {
		r.Metrics.BatchesFlushed.Inc()
	}
	r.Logger.Debug().
		Str("batch_id", batchID.String()).
		Int("size", n).
		Time("midpoint", midpoint).
		Msg("batch flushed")
	b.Reset()
	return replies, nil
}
