// +build gofuzz

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
	"errors"
	"sort"
	"time"
	"unsafe"
)

// Fuzz feeds data through two decode paths: the generic opaque-field
// walk (exercising the tag-order invariant for any tag set) and a
// Response-shaped walk through the full expanded tag table (SIG, PATH,
// nested SREP/CERT/DELE, INDX), the way roughtime.DecodeResponse does
// it but without the Ed25519 verification step. Either path panicking
// on well-formed-looking input, or succeeding on a message whose
// fields alias overlapping bytes, is a bug.
func Fuzz(data []byte) int {
	generic := fuzzGeneric(data)
	responseShaped := fuzzResponseShaped(data)
	if generic == 1 || responseShaped == 1 {
		return 1
	}
	return 0
}

func fuzzGeneric(data []byte) int {
	var vals [][]byte
	dec := func(st *DecodeState) {
		var t Tag
		first := true
		for ; st.i < st.n; st.i++ {
			tag, val := st.field(st.i)
			if !first && tag <= t {
				st.Abort(errors.New("unordered tags"))
			}
			vals = append(vals, val)
		}
	}
	if err := Decode(data, dec); err != nil {
		return 0
	}
	checkOverlap(vals)
	return 1
}

// fuzzResponseShaped decodes data as if it were a Roughtime response
// message: SIG, PATH (a flat run of 32-byte siblings), a nested SREP
// (RADI, MIDP, ROOT), a nested CERT (SIG, a nested DELE of PUBK, MINT,
// MAXT) and INDX. It never checks a signature — only that the typed
// accessors used for the expanded tag table don't panic or accept
// overlapping field slices on adversarial input.
func fuzzResponseShaped(data []byte) int {
	var (
		sig, certSig     [64]byte
		path             []byte
		root, pubKey     [32]byte
		radi             time.Duration
		midp, mint, maxt time.Time
		index            uint32
	)
	var vals [][]byte
	err := Decode(data, func(st *DecodeState) {
		st.Bytes64(SIG, &sig)
		st.Bytes(PATH, &path)
		if len(path)%32 != 0 {
			st.Abort(errInvalidField)
		}
		vals = append(vals, path)

		var srep []byte
		st.Message(SREP, &srep, func(st *DecodeState) {
			st.Duration(RADI, &radi)
			st.Time(MIDP, &midp)
			st.Bytes32(ROOT, &root)
		})
		vals = append(vals, srep)

		var cert []byte
		st.Message(CERT, &cert, func(st *DecodeState) {
			st.Bytes64(SIG, &certSig)
			var dele []byte
			st.Message(DELE, &dele, func(st *DecodeState) {
				st.Bytes32(PUBK, &pubKey)
				st.Time(MINT, &mint)
				st.Time(MAXT, &maxt)
			})
		})
		vals = append(vals, cert)

		st.Uint32(INDX, &index)
	})
	if err != nil {
		return 0
	}
	checkOverlap(vals)
	return 1
}

func checkOverlap(vals [][]byte) {
	sort.Slice(vals, func(i, j int) bool {
		a, b := vals[i], vals[j]
		if len(a) == 0 || len(b) == 0 {
			return len(a) < len(b)
		}
		return uintptr(unsafe.Pointer(&a[0])) < uintptr(unsafe.Pointer(&b[0]))
	})
	var found bool
	for i := 0; i < len(vals); i++ {
		if len(vals[i]) > 0 {
			found = true
			vals = vals[i:]
			break
		}
	}
	if !found {
		return
	}
	for i := 1; i < len(vals); i++ {
		a := vals[i-1]
		b := vals[i]
		if uintptr(unsafe.Pointer(&a[0]))+uintptr(len(a)) > uintptr(unsafe.Pointer(&b[0])) {
			panic("overlapping values")
		}
	}
}
