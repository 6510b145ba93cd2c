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

// Package wire implements Roughtime's tagged-message wire format: an
// ordered map from 4-byte tags to byte-string values, serialized as a
// count, an offset table, a tag table and a value region.
package wire

import (
	"encoding/binary"
	"strconv"
)

// Tag represents a wire-format tag. Tags compare, for ordering
// purposes, as little-endian uint32s.
type Tag uint32

// The known Roughtime tags and their payload semantics.
const (
	SIG  Tag = 0x00474953 // 64-byte Ed25519 signature
	NONC Tag = 0x434e4f4e // 64-byte client nonce
	DELE Tag = 0x454c4544 // nested message (delegation)
	PATH Tag = 0x48544150 // concatenation of 32-byte Merkle siblings
	RADI Tag = 0x49444152 // uint32 LE, microseconds
	PUBK Tag = 0x4b425550 // 32-byte Ed25519 public key
	MIDP Tag = 0x5044494d // uint64 LE, microseconds since epoch
	SREP Tag = 0x50455253 // nested message (signed response)
	MAXT Tag = 0x5458414d // uint64 LE, microseconds (delegation validity end)
	ROOT Tag = 0x544f4f52 // 32-byte Merkle root
	CERT Tag = 0x54524543 // nested message (certificate)
	MINT Tag = 0x544e494d // uint64 LE, microseconds (delegation validity start)
	INDX Tag = 0x58444e49 // uint32 LE, leaf index
	PAD  Tag = 0xff444150 // arbitrary padding bytes
)

var names = map[Tag]string{
	SIG:  "SIG\x00",
	NONC: "NONC",
	DELE: "DELE",
	PATH: "PATH",
	RADI: "RADI",
	PUBK: "PUBK",
	MIDP: "MIDP",
	SREP: "SREP",
	MAXT: "MAXT",
	ROOT: "ROOT",
	CERT: "CERT",
	MINT: "MINT",
	INDX: "INDX",
	PAD:  "PAD\xff",
}

func init() {
	for t, s := range names {
		if t.String() != s {
			panic("wire: Tag(" + t.String() + ").String() does not round-trip")
		}
	}
}

// String implements fmt.Stringer, rendering a tag as its 4 raw bytes.
func (t Tag) String() string {
	if s, ok := names[t]; ok {
		return s
	}
	var b [4]byte
	binary.LittleEndian.PutUint32(b[:], uint32(t))
	s := strconv.Quote(string(b[:]))
	return s[1 : len(s)-1]
}
