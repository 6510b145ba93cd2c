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

package wire

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"
)

// decodeAll walks every field of msg generically, the way the fuzz
// harness's generic path does, without assuming a Roughtime-level
// shape. Used to check the decoder's field bookkeeping in isolation
// from any particular message layout.
func decodeAll(msg []byte) (map[Tag][]byte, error) {
	out := map[Tag][]byte{}
	err := Decode(msg, func(st *DecodeState) {
		for ; st.i < st.n; st.i++ {
			tag, val := st.field(st.i)
			out[tag] = append([]byte(nil), val...)
		}
	})
	return out, err
}

func TestDecodeEmptyInput(t *testing.T) {
	_, err := decodeAll(nil)
	require.Error(t, err)
}

func TestDecodeTruncatedHeader(t *testing.T) {
	_, err := decodeAll([]byte{1, 2, 3})
	require.Error(t, err)
}

func TestDecodeNoFields(t *testing.T) {
	msg := Encode(func(st *EncodeState) { st.NTags(0) })
	got, err := decodeAll(msg)
	require.NoError(t, err)
	require.Empty(t, got)
}

func TestDecodeDeclaredFieldCountExceedsMessage(t *testing.T) {
	// NTags(1) but nothing else written: the header claims a field
	// whose offset/tag entry was never appended to the buffer.
	_, err := decodeAll([]byte{1, 0, 0, 0})
	require.Error(t, err)
}

func TestDecodeEmptyFieldValueIsLegal(t *testing.T) {
	msg := Encode(func(st *EncodeState) {
		st.NTags(1)
		st.Bytes(SIG, 0)
	})
	got, err := decodeAll(msg)
	require.NoError(t, err)
	require.Contains(t, got, SIG)
	require.Empty(t, got[SIG])
}

func TestDecodeSingleFieldWithContent(t *testing.T) {
	var nonce [64]byte
	for i := range nonce {
		nonce[i] = 0xAB
	}
	msg := Encode(func(st *EncodeState) {
		st.NTags(1)
		st.Bytes64(NONC, nonce)
	})
	got, err := decodeAll(msg)
	require.NoError(t, err)
	require.Equal(t, nonce[:], got[NONC])
}

func TestDecodeMultipleFieldsInAscendingOrder(t *testing.T) {
	// SIG < NONC < DELE numerically, so this is a valid message.
	msg := Encode(func(st *EncodeState) {
		st.NTags(3)
		st.Bytes64(SIG, [64]byte{1})
		st.Bytes(NONC, 0)
		st.Message(DELE, func(st *EncodeState) {
			st.NTags(1)
			st.Uint32(RADI, 1_000_000)
		})
	})
	got, err := decodeAll(msg)
	require.NoError(t, err)
	require.Len(t, got, 3)
	require.Empty(t, got[NONC])
}

// swapTagOrder corrupts a validly-encoded two-field message by
// swapping its two tag entries in the header, producing descending
// tag order without touching field content.
func swapTagOrder(msg []byte) []byte {
	out := append([]byte(nil), msg...)
	copy(out[8:12], msg[12:16])
	copy(out[12:16], msg[8:12])
	return out
}

func TestDecodeRejectsDescendingTagOrder(t *testing.T) {
	msg := Encode(func(st *EncodeState) {
		st.NTags(2)
		st.Bytes64(SIG, [64]byte{1})
		st.Bytes64(NONC, [64]byte{2})
	})
	_, err := decodeAll(swapTagOrder(msg))
	require.Error(t, err)
}

func TestDecodeRejectsDescendingOffsetOrder(t *testing.T) {
	// SIG and NONC are both fixed 64-byte fields, so the header's two
	// offset entries (boundaries at 64 and 128) are easy to swap
	// without disturbing the tag entries that follow them.
	msg := Encode(func(st *EncodeState) {
		st.NTags(3)
		st.Bytes64(SIG, [64]byte{1})
		st.Bytes64(NONC, [64]byte{2})
		st.Message(DELE, func(st *EncodeState) {
			st.NTags(1)
			st.Uint32(RADI, 1_000_000)
		})
	})
	corrupted := append([]byte(nil), msg...)
	copy(corrupted[4:8], msg[8:12])
	copy(corrupted[8:12], msg[4:8])
	_, err := decodeAll(corrupted)
	require.Error(t, err)
}

func TestDecodeFieldLengthMustBeMultipleOf4(t *testing.T) {
	msg := Encode(func(st *EncodeState) {
		st.NTags(1)
		copy(st.Bytes(SIG, 4), []byte{1, 2, 3, 4})
	})
	_, err := decodeAll(append(msg, 0)) // one stray trailing byte
	require.Error(t, err)
}

func TestDecodeTooManyFields(t *testing.T) {
	msg := make([]byte, 8*(maxFields+1))
	binary.LittleEndian.PutUint32(msg, maxFields+1)
	err := Decode(msg, func(*DecodeState) {})
	require.ErrorIs(t, err, errTooManyFields)
}

func TestDecodeNested(t *testing.T) {
	inner := Encode(func(st *EncodeState) {
		st.NTags(1)
		st.Uint32(RADI, 1_000_000)
	})
	outer := Encode(func(st *EncodeState) {
		st.NTags(2)
		st.Bytes64(NONC, [64]byte{1, 2, 3})
		st.Message(SREP, func(st *EncodeState) {
			st.NTags(1)
			st.Uint32(RADI, 1_000_000)
		})
	})

	var nonce [64]byte
	var radius uint32
	err := Decode(outer, func(st *DecodeState) {
		st.Bytes64(NONC, &nonce)
		var raw []byte
		st.Message(SREP, &raw, func(st *DecodeState) {
			st.Uint32(RADI, &radius)
		})
		require.Equal(t, inner, raw)
	})
	require.NoError(t, err)
	require.Equal(t, uint32(1_000_000), radius)
	require.Equal(t, [64]byte{1, 2, 3}, nonce)
}

func TestEncodeEmptyMessage(t *testing.T) {
	msg := Encode(func(st *EncodeState) { st.NTags(0) })
	require.Equal(t, []byte{0, 0, 0, 0}, msg)
}

func TestEncodePanicsOnFieldLengthNotMultipleOf4(t *testing.T) {
	require.Panics(t, func() {
		Encode(func(st *EncodeState) {
			st.NTags(1)
			st.Bytes(SIG, 3)
		})
	})
}

func TestEncodePanicsOnDescendingTagOrder(t *testing.T) {
	require.Panics(t, func() {
		Encode(func(st *EncodeState) {
			st.NTags(2)
			st.Bytes64(NONC, [64]byte{}) // NONC
			st.Bytes64(SIG, [64]byte{})  // SIG < NONC: out of order
		})
	})
}
