package batch

import (
	"bytes"
	"net"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/kyhwana/roughenough/internal/clocksource"
	"github.com/kyhwana/roughenough/internal/keys"
	"github.com/kyhwana/roughenough/internal/merkle"
	"github.com/kyhwana/roughenough/internal/metrics"
	"github.com/kyhwana/roughenough/roughtime"
)

func testHierarchy(t *testing.T) *keys.Hierarchy {
	t.Helper()
	var seed [32]byte
	copy(seed[:], bytes.Repeat([]byte{0x55}, 32))
	h, err := keys.New(seed, keys.Options{})
	require.NoError(t, err)
	return h
}

func testResponder(t *testing.T, midpoint time.Time) *Responder {
	t.Helper()
	return &Responder{
		Hierarchy: testHierarchy(t),
		Clock:     &clocksource.Source{Now: func() time.Time { return midpoint }},
		Radius:    time.Second,
		Logger:    zerolog.Nop(),
	}
}

func addr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

func nonceOf(b byte) (n [64]byte) {
	for i := range n {
		n[i] = b
	}
	return n
}

func TestFlushEmptyBatchIsNoop(t *testing.T) {
	r := testResponder(t, time.Now())
	var b Batch
	replies, err := r.Flush(&b)
	require.NoError(t, err)
	require.Nil(t, replies)
}

func TestFlushOneSignaturePerBatch(t *testing.T) {
	r := testResponder(t, time.Unix(1_700_000_000, 0).UTC())
	var b Batch
	for i := 0; i < 5; i++ {
		b.Add(Pending{Nonce: nonceOf(byte(i + 1)), Addr: addr(9000 + i)})
	}
	replies, err := r.Flush(&b)
	require.NoError(t, err)
	require.Len(t, replies, 5)
	require.Equal(t, 0, b.Len(), "batch must be reset after flush")

	var sig [64]byte
	for i, rep := range replies {
		resp, err := roughtime.DecodeResponse(rep.Bytes, r.Hierarchy.LongTermPublic)
		require.NoError(t, err)
		if i == 0 {
			sig = resp.Signature
		} else {
			require.Equal(t, sig, resp.Signature, "every reply in a batch must share one signature")
		}
		require.Equal(t, uint32(i), resp.Index)
	}
}

func TestFlushRepliesVerifyAgainstOwnNonce(t *testing.T) {
	r := testResponder(t, time.Unix(1_700_000_100, 0).UTC())
	var b Batch
	nonces := make([][64]byte, 6)
	for i := range nonces {
		nonces[i] = nonceOf(byte(10 + i))
		b.Add(Pending{Nonce: nonces[i], Addr: addr(9100 + i)})
	}
	replies, err := r.Flush(&b)
	require.NoError(t, err)

	for i, rep := range replies {
		resp, err := roughtime.DecodeResponse(rep.Bytes, r.Hierarchy.LongTermPublic)
		require.NoError(t, err)
		require.NoError(t, roughtime.Verify(resp, nonces[i]))
		require.True(t, merkle.Verify(nonces[i], resp.Index, resp.Path, resp.Root))
	}
}

func TestFlushMidpointMatchesClock(t *testing.T) {
	mid := time.Unix(1_700_001_000, 0).UTC()
	r := testResponder(t, mid)
	var b Batch
	b.Add(Pending{Nonce: nonceOf(1), Addr: addr(9200)})
	replies, err := r.Flush(&b)
	require.NoError(t, err)
	resp, err := roughtime.DecodeResponse(replies[0].Bytes, r.Hierarchy.LongTermPublic)
	require.NoError(t, err)
	require.True(t, resp.Midpoint.Equal(mid))
	require.Equal(t, time.Second, resp.Radius)
}

func TestFlushUsesConfiguredRadius(t *testing.T) {
	r := testResponder(t, time.Now())
	r.Radius = 5 * time.Second
	var b Batch
	b.Add(Pending{Nonce: nonceOf(2), Addr: addr(9300)})
	replies, err := r.Flush(&b)
	require.NoError(t, err)
	resp, err := roughtime.DecodeResponse(replies[0].Bytes, r.Hierarchy.LongTermPublic)
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, resp.Radius)
}

func TestFlushObservesFillRatioAndSignLatency(t *testing.T) {
	reg := prometheus.NewRegistry()
	r := testResponder(t, time.Now())
	r.BatchSize = 4
	r.Metrics = metrics.New(reg)

	var b Batch
	b.Add(Pending{Nonce: nonceOf(3), Addr: addr(9400)})
	b.Add(Pending{Nonce: nonceOf(4), Addr: addr(9401)})
	_, err := r.Flush(&b)
	require.NoError(t, err)

	var fillRatio, signLatency dto.Metric
	require.NoError(t, r.Metrics.BatchFillRatio.Write(&fillRatio))
	require.Equal(t, uint64(1), fillRatio.GetHistogram().GetSampleCount())
	require.Equal(t, 0.5, fillRatio.GetHistogram().GetSampleSum())

	require.NoError(t, r.Metrics.SignLatency.Write(&signLatency))
	require.Equal(t, uint64(1), signLatency.GetHistogram().GetSampleCount())
}
