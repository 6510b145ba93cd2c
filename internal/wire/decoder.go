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
	"errors"
	"time"
)

var (
	errMsgTooShort      = errors.New("roughtime wire: message shorter than its declared tag table")
	errTooManyFields    = errors.New("roughtime wire: tag count exceeds maxFields")
	errFieldMissing     = errors.New("roughtime wire: required tag absent from message")
	errInvalidOffset    = errors.New("roughtime wire: offset table is decreasing or points past the value region")
	errUnsortedTags     = errors.New("roughtime wire: tags are not in strictly increasing order")
	errInvalidMessage   = errors.New("roughtime wire: nested message too short to hold its own header")
	errInvalidField     = errors.New("roughtime wire: field length is not a multiple of 4 bytes or not the size its tag requires")
	errInvalidTimestamp = errors.New("roughtime wire: MIDP/MINT/MAXT timestamp has the sign bit set")
	errInvalidDuration  = errors.New("roughtime wire: RADI duration does not fit in a time.Duration")
)

// Exported aliases let callers outside this package (internal/server's
// drop-reason metric labels) distinguish why a Decode failed with
// errors.Is, without exposing DecodeState's internals.
var (
	ErrMsgTooShort  = errMsgTooShort
	ErrFieldMissing = errFieldMissing
	ErrInvalidField = errInvalidField
)

// DecodeState walks one tagged Roughtime message (a request, a
// response, or a nested SREP/CERT/DELE) tag by tag in wire order. Not
// for direct use outside this package — call Decode.
type DecodeState struct {
	hdr  []byte
	body []byte
	err  *error
	i    uint32
	n    uint32
}

var sentinel = new(int8)

// Decode validates msg's header and runs f over it, f pulling out
// whichever tags (NONC, SIG, SREP, ...) its caller expects in order.
func Decode(msg []byte, f func(st *DecodeState)) (err error) {
	defer func() {
		if v := recover(); v != nil && v != sentinel {
			panic(v)
		}
	}()
	st := &DecodeState{err: &err}
	st.SetMessage(msg)
	f(st)
	return nil
}

// Abort aborts the coding process with the given error.
func (d *DecodeState) Abort(e error) {
	if e != nil {
		*d.err = e
		panic(sentinel)
	}
}

// maxFields bounds the number of tags a single message may declare,
// so a forged count field can't make SetMessage allocate or scan an
// unreasonable header before the length check below even applies.
const maxFields = 128

// SetMessage validates the message header of msg and starts decoding.
func (d *DecodeState) SetMessage(msg []byte) {
	if len(msg) < 4 {
		d.Abort(errMsgTooShort)
	}
	d.n = binary.LittleEndian.Uint32(msg)
	if d.n > maxFields {
		d.Abort(errTooManyFields)
	}
	if uint32(len(msg))/8 < d.n {
		d.Abort(errMsgTooShort)
	}
	if d.n == 0 && len(msg) != 4 {
		d.Abort(errors.New("roughtime wire: trailing bytes after a message with no tags"))
	}
	bodyLen := uint32(len(msg)) - 8*d.n
	var (
		t = binary.LittleEndian.Uint32(msg[4*d.n:])
		o uint32
	)
	for i := uint32(1); i < d.n; i++ {
		o2, t2 := binary.LittleEndian.Uint32(msg[i*4:]), binary.LittleEndian.Uint32(msg[d.n*4+i*4:])
		if t2 <= t {
			d.Abort(errUnsortedTags)
		}
		if o2 < o || o2 > bodyLen {
			d.Abort(errInvalidOffset)
		}
		t, o = t2, o2
	}
	d.hdr = msg[0 : 8*d.n : 8*d.n]
	d.body = msg[8*d.n:]
}

func (d *DecodeState) field(i uint32) (Tag, []byte) {
	tag := Tag(binary.LittleEndian.Uint32(d.hdr[d.n*4+i*4:]))
	start, end := uint32(0), uint32(len(d.body))
	if i > 0 {
		start = binary.LittleEndian.Uint32(d.hdr[i*4:])
	}
	if i+1 < d.n {
		end = binary.LittleEndian.Uint32(d.hdr[(i+1)*4:])
	}
	if end < start || ((end-start)%4 != 0) {
		d.Abort(errInvalidField)
	}
	return tag, d.body[start:end]
}

// Bytes advances through the fields of the message until it finds t and stores
// a slice to the corresponding data in p. The stored slice aliases the message
// buffer.
func (d *DecodeState) Bytes(t Tag, p *[]byte) {
	for ; d.i < d.n; d.i++ {
		tag, value := d.field(d.i)
		if tag < t {
			continue
		}
		if tag > t {
			break
		}
		*p = value
		d.i++
		return
	}
	d.Abort(errFieldMissing)
}

// Uint32 advances through the fields of the message until it finds t and stores
// the corresponding value as an uint32 in p.
func (d *DecodeState) Uint32(t Tag, p *uint32) {
	var buf []byte
	d.Bytes(t, &buf)
	if len(buf) != 4 {
		d.Abort(errInvalidField)
	}
	*p = binary.LittleEndian.Uint32(buf)
}

// Uint64 advances through the fields of the message until it finds t and stores
// the corresponding value as an uint64 in p.
func (d *DecodeState) Uint64(t Tag, p *uint64) {
	var buf []byte
	d.Bytes(t, &buf)
	if len(buf) != 8 {
		d.Abort(errInvalidField)
	}
	*p = binary.LittleEndian.Uint64(buf)
}

// Bytes32 advances through the fields of the message until it finds t and stores
// the corresponding value (which must be 32 bytes long) into p.
func (d *DecodeState) Bytes32(t Tag, p *[32]byte) {
	var buf []byte
	d.Bytes(t, &buf)
	if len(buf) != 32 {
		d.Abort(errInvalidField)
	}
	copy((*p)[:], buf)
}

// Bytes64 advances through the fields of the message until it finds t and stores
// the corresponding value (which must be 64 bytes long) into p.
func (d *DecodeState) Bytes64(t Tag, p *[64]byte) {
	var buf []byte
	d.Bytes(t, &buf)
	if len(buf) != 64 {
		d.Abort(errInvalidField)
	}
	copy((*p)[:], buf)
}

// Message advances through the fields of the message until it finds t. The
// corresponding value is then decoded using f and also stored in raw. raw
// aliases the message buffer.
func (d *DecodeState) Message(t Tag, raw *[]byte, f func(*DecodeState)) {
	var buf []byte
	d.Bytes(t, &buf)
	if len(buf) < 4 {
		d.Abort(errInvalidMessage)
	}
	st := &DecodeState{err: d.err}
	st.SetMessage(buf)
	f(st)
	*raw = buf
}

// Time advances through the fields of the message until it finds t and stores
// the corresponding value (interpreted as an uint64 of microseconds since the
// epoch) into p.
func (d *DecodeState) Time(t Tag, p *time.Time) {
	var v uint64
	d.Uint64(t, &v)
	if v&(1<<63) != 0 {
		d.Abort(errInvalidTimestamp)
	}
	*p = time.Unix(int64(v)/1e6, (int64(v)%1e6)*1e3)
}

// Duration advances through the fields of the message until it finds t and
// stores the corresponding value (interpreted as an uint32 of microseconds)
// into p.
func (d *DecodeState) Duration(t Tag, p *time.Duration) {
	var v uint32
	d.Uint32(t, &v)
	*p = time.Duration(v) * time.Microsecond
	if time.Duration(v) != *p/time.Microsecond {
		d.Abort(errInvalidDuration)
	}
}
