// Copyright 2018 Axel Wagner
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package roughtime implements the wire messages of the Roughtime
// time-synchronization protocol: requests, responses, the signed
// response payload (SREP) and the delegation certificate (CERT).
//
// Encoding and decoding of the tagged-message wire format itself lives
// in internal/wire; this package only knows how the Roughtime messages
// map onto that format.
package roughtime

import (
	"errors"
	"time"

	"golang.org/x/crypto/ed25519"

	"github.com/kyhwana/roughenough/internal/merkle"
	"github.com/kyhwana/roughenough/internal/wire"
)

// Signing-context strings, prefixed to every signed message. These are
// exact bytes, including the trailing NUL, and must match byte-for-
// byte between signer and verifier.
var (
	ContextCertificate    = []byte("RoughTime v1 delegation signature--\x00")
	ContextSignedResponse = []byte("RoughTime v1 response signature\x00")
)

// ErrVerification is returned when a response fails any step of the
// Merkle, SREP or CERT verification chain.
var ErrVerification = errors.New("roughtime: verification failed")

// Request is a Roughtime client request. Nonce must be filled by the
// caller (usually with 64 bytes of CSPRNG output); Pad is optional
// anti-amplification padding and is ignored by the server beyond its
// presence on the wire.
type Request struct {
	Nonce [64]byte
	Pad   []byte
}

// Encode serializes r as a Roughtime request message.
func (r *Request) Encode() []byte {
	n := uint32(1)
	if len(r.Pad) > 0 {
		n = 2
	}
	return wire.EncodeSize(len(r.Pad)+128, func(st *wire.EncodeState) {
		st.NTags(n)
		st.Bytes64(wire.NONC, r.Nonce)
		if len(r.Pad) > 0 {
			copy(st.Bytes(wire.PAD, len(r.Pad)), r.Pad)
		}
	})
}

// DecodeRequest parses a Roughtime request message, requiring a
// well-formed 64-byte NONC and ignoring all other fields (e.g. PAD).
func DecodeRequest(msg []byte) (*Request, error) {
	var r Request
	err := wire.Decode(msg, func(st *wire.DecodeState) {
		st.Bytes64(wire.NONC, &r.Nonce)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Delegation is the DELE structure: it binds an online public key to a
// validity window in a certificate signed by the long-term key.
type Delegation struct {
	Min       time.Time
	Max       time.Time
	PublicKey [32]byte
}

// Delegation's fields are written in ascending tag order (PUBK < MINT
// < MAXT numerically), which does not match the order they're listed
// in the tag table — the wire format requires tag order, not table
// order.
func (d *Delegation) encode(st *wire.EncodeState) {
	st.NTags(3)
	st.Bytes32(wire.PUBK, d.PublicKey)
	st.Time(wire.MINT, d.Min)
	st.Time(wire.MAXT, d.Max)
}

func (d *Delegation) decode(st *wire.DecodeState) {
	st.Bytes32(wire.PUBK, &d.PublicKey)
	st.Time(wire.MINT, &d.Min)
	st.Time(wire.MAXT, &d.Max)
}

// Encode serializes d as a standalone DELE message.
func (d *Delegation) Encode() []byte {
	return wire.Encode(d.encode)
}

// Certificate is the CERT structure: a Delegation together with the
// long-term signature over it.
type Certificate struct {
	Signature [64]byte
	Delegation
}

// Encode serializes c as a standalone CERT message.
func (c *Certificate) Encode() []byte {
	return wire.Encode(func(st *wire.EncodeState) {
		st.NTags(2)
		st.Bytes64(wire.SIG, c.Signature)
		st.Message(wire.DELE, c.Delegation.encode)
	})
}

// decode decodes c from an already-opened CERT submessage and verifies
// the delegation signature against longTermKey. It does not reject an
// expired validity window; callers that care must check Min/Max
// against the response's Midpoint themselves (see Verify).
func (c *Certificate) decode(st *wire.DecodeState, longTermKey ed25519.PublicKey) {
	st.Bytes64(wire.SIG, &c.Signature)
	var raw []byte
	st.Message(wire.DELE, &raw, c.Delegation.decode)
	msg := append(append([]byte(nil), ContextCertificate...), raw...)
	if !ed25519.Verify(longTermKey, msg, c.Signature[:]) {
		st.Abort(ErrVerification)
	}
}

// SignedResponse is the SREP structure: the signed payload of a batch
// response, committing to a Merkle root over a batch of nonces.
type SignedResponse struct {
	Root     [32]byte
	Midpoint time.Time
	Radius   time.Duration
}

func (s *SignedResponse) encode(st *wire.EncodeState) {
	st.NTags(3)
	st.Duration(wire.RADI, s.Radius)
	st.Time(wire.MIDP, s.Midpoint)
	st.Bytes32(wire.ROOT, s.Root)
}

func (s *SignedResponse) decode(st *wire.DecodeState) {
	st.Duration(wire.RADI, &s.Radius)
	st.Time(wire.MIDP, &s.Midpoint)
	st.Bytes32(wire.ROOT, &s.Root)
}

// Encode serializes s as a standalone SREP message.
func (s *SignedResponse) Encode() []byte {
	return wire.Encode(s.encode)
}

// Response is a single client's share of a flushed batch: the one
// signature and SREP shared by the whole batch, plus this client's
// Merkle inclusion path and leaf index.
type Response struct {
	Signature [64]byte
	Path      [][32]byte
	SignedResponse
	Certificate
	Index uint32
}

// Encode serializes r as a Roughtime response message, in tag order
// SIG, PATH, SREP, CERT, INDX.
func (r *Response) Encode() []byte {
	srep := r.SignedResponse.Encode()
	cert := r.Certificate.Encode()
	size := 256 + len(r.Path)*32 + len(srep) + len(cert)
	return wire.EncodeSize(size, func(st *wire.EncodeState) {
		st.NTags(5)
		st.Bytes64(wire.SIG, r.Signature)
		buf := st.Bytes(wire.PATH, len(r.Path)*32)
		for i, s := range r.Path {
			copy(buf[i*32:], s[:])
		}
		copy(st.Bytes(wire.SREP, len(srep)), srep)
		copy(st.Bytes(wire.CERT, len(cert)), cert)
		st.Uint32(wire.INDX, r.Index)
	})
}

// DecodeResponse parses a Roughtime response message, verifying the
// SIG-over-SREP and CERT-over-DELE signatures against longTermKey. It
// does not check the Merkle inclusion proof or the delegation validity
// window against a particular request; call Verify for that.
func DecodeResponse(msg []byte, longTermKey ed25519.PublicKey) (*Response, error) {
	var r Response
	err := wire.Decode(msg, func(st *wire.DecodeState) {
		st.Bytes64(wire.SIG, &r.Signature)

		var path []byte
		st.Bytes(wire.PATH, &path)
		if len(path)%32 != 0 {
			st.Abort(ErrVerification)
		}
		r.Path = make([][32]byte, len(path)/32)
		for i := range r.Path {
			copy(r.Path[i][:], path[i*32:])
		}

		var srep []byte
		st.Message(wire.SREP, &srep, r.SignedResponse.decode)

		var cert []byte
		st.Message(wire.CERT, &cert, func(st *wire.DecodeState) {
			r.Certificate.decode(st, longTermKey)
		})

		msg := append(append([]byte(nil), ContextSignedResponse...), srep...)
		if !ed25519.Verify(r.Certificate.Delegation.PublicKey[:], msg, r.Signature[:]) {
			st.Abort(ErrVerification)
		}

		st.Uint32(wire.INDX, &r.Index)
	})
	if err != nil {
		return nil, err
	}
	return &r, nil
}

// Verify checks a decoded Response's Merkle inclusion proof and
// delegation validity window against the nonce that was originally
// sent. DecodeResponse must already have succeeded (which implies the
// SIG/CERT chain verified); Verify only adds the checks that depend on
// the original nonce.
func Verify(r *Response, nonce [64]byte) error {
	if !merkle.Verify(nonce, r.Index, r.Path, r.Root) {
		return ErrVerification
	}
	if r.Midpoint.Before(r.Delegation.Min) || r.Midpoint.After(r.Delegation.Max) {
		return ErrVerification
	}
	return nil
}
