// Copyright 2025 Arion Yau
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
	"encoding/json"

	"github.com/google/uuid"
)

// Message type values carried in the reserved "type" header field.
const (
	TypeRequest  = "request"
	TypeResponse = "response"
	TypeError    = "error"
)

// Error kinds carried in the reserved "error_kind" header field of an
// error response.
const (
	ErrorKindUnknownOp  = "unknown_op"
	ErrorKindBadRequest = "bad_request"
	ErrorKindProcessing = "processing_error"
	ErrorKindPanic      = "processing_panic"
	ErrorKindTimeout    = "timeout"
)

// Dtype identifies the element type of an attachment. The set is closed;
// decoding a message with an unlisted dtype fails with ErrMalformedMessage.
type Dtype string

const (
	Uint8   Dtype = "uint8"
	Uint16  Dtype = "uint16"
	Uint32  Dtype = "uint32"
	Uint64  Dtype = "uint64"
	Int8    Dtype = "int8"
	Int16   Dtype = "int16"
	Int32   Dtype = "int32"
	Int64   Dtype = "int64"
	Float32 Dtype = "float32"
	Float64 Dtype = "float64"
	Raw     Dtype = "raw"
)

// ElemSize returns the byte width of one element, and whether the dtype
// is a known one. Raw counts single bytes.
func (d Dtype) ElemSize() (int, bool) {
	switch d {
	case Uint8, Int8, Raw:
		return 1, true
	case Uint16, Int16:
		return 2, true
	case Uint32, Int32, Float32:
		return 4, true
	case Uint64, Int64, Float64:
		return 8, true
	default:
		return 0, false
	}
}

// Descriptor describes how to reinterpret an attachment's bytes.
// Multi-byte elements are little-endian on the wire.
type Descriptor struct {
	Dtype      Dtype `json:"dtype"`
	Shape      []int `json:"shape"`
	ByteLength int   `json:"byte_length"`
}

// Validate checks the descriptor's internal consistency: known dtype,
// non-negative dimensions, and element count matching the byte length.
func (d Descriptor) Validate() error {
	size, ok := d.Dtype.ElemSize()
	if !ok {
		return malformedf("unknown dtype %q", d.Dtype)
	}
	if d.ByteLength < 0 {
		return malformedf("negative byte_length %d", d.ByteLength)
	}
	elems := 1
	for _, dim := range d.Shape {
		if dim < 0 {
			return malformedf("negative dimension %d in shape", dim)
		}
		if dim != 0 && elems > maxElems/dim {
			return malformedf("shape %v overflows element count", d.Shape)
		}
		elems *= dim
	}
	if elems*size != d.ByteLength {
		return malformedf("shape %v with dtype %s implies %d byte(s), descriptor declares %d",
			d.Shape, d.Dtype, elems*size, d.ByteLength)
	}
	return nil
}

const maxElems = 1 << 31

// Attachment is a typed, shaped run of raw bytes owned by the Message
// that carries it.
type Attachment struct {
	Descriptor
	Data []byte
}

// Message is the unit of request/response exchange: a header of named
// fields plus ordered binary attachments. A Message is treated as
// immutable once handed to Encode.
//
// Attachment data produced by Decode aliases the decoded frame buffer;
// copy it if it must outlive the handler that received it.
type Message struct {
	Type        string
	ID          string
	Op          string
	Params      map[string]interface{}
	ErrorKind   string
	ErrorDetail string
	Attachments []Attachment
}

// header is the self-describing JSON form of the message header.
// Attachment bytes are referenced by the descriptor list in order and
// trail the header verbatim.
type header struct {
	Type        string                 `json:"type"`
	ID          string                 `json:"id,omitempty"`
	Op          string                 `json:"op,omitempty"`
	Params      map[string]interface{} `json:"params,omitempty"`
	ErrorKind   string                 `json:"error_kind,omitempty"`
	ErrorDetail string                 `json:"error_detail,omitempty"`
	Attachments []Descriptor           `json:"attachments,omitempty"`
}

// NewRequest creates a request message for the named op.
func NewRequest(op string, params map[string]interface{}, attachments ...Attachment) *Message {
	return &Message{
		Type:        TypeRequest,
		ID:          GenerateMessageID(),
		Op:          op,
		Params:      params,
		Attachments: attachments,
	}
}

// NewResponse creates a response message correlated to the request ID.
func NewResponse(id string, attachments ...Attachment) *Message {
	return &Message{
		Type:        TypeResponse,
		ID:          id,
		Attachments: attachments,
	}
}

// NewErrorResponse creates an in-band error response correlated to the
// request ID.
func NewErrorResponse(id, kind, detail string) *Message {
	return &Message{
		Type:        TypeError,
		ID:          id,
		ErrorKind:   kind,
		ErrorDetail: detail,
	}
}

// IsError reports whether the message is an error-kind response.
func (m *Message) IsError() bool {
	return m.Type == TypeError
}

// RemoteError converts an error-kind message into an error value, or
// nil for any other message type.
func (m *Message) RemoteError() error {
	if !m.IsError() {
		return nil
	}
	return &RemoteError{Kind: m.ErrorKind, Detail: m.ErrorDetail}
}

// GenerateMessageID generates a unique message ID.
func GenerateMessageID() string {
	return uuid.NewString()
}

// Encode serializes the message: a 4-byte big-endian header length, the
// JSON header, then each attachment's bytes appended verbatim. Large
// attachments are never re-encoded, only copied once into the output
// buffer.
func Encode(m *Message) ([]byte, error) {
	if m.Type == "" {
		return nil, malformedf("message type is required")
	}

	h := header{
		Type:        m.Type,
		ID:          m.ID,
		Op:          m.Op,
		Params:      m.Params,
		ErrorKind:   m.ErrorKind,
		ErrorDetail: m.ErrorDetail,
	}

	total := 0
	if len(m.Attachments) > 0 {
		h.Attachments = make([]Descriptor, len(m.Attachments))
		for i, att := range m.Attachments {
			if err := att.Validate(); err != nil {
				return nil, err
			}
			if len(att.Data) != att.ByteLength {
				return nil, malformedf("attachment %d carries %d byte(s), descriptor declares %d",
					i, len(att.Data), att.ByteLength)
			}
			h.Attachments[i] = att.Descriptor
			total += att.ByteLength
		}
	}

	hb, err := json.Marshal(h)
	if err != nil {
		return nil, malformedf("encode header: %v", err)
	}

	buf := make([]byte, 4, 4+len(hb)+total)
	binary.BigEndian.PutUint32(buf, uint32(len(hb)))
	buf = append(buf, hb...)
	for _, att := range m.Attachments {
		buf = append(buf, att.Data...)
	}
	return buf, nil
}

// Decode parses an encoded message. Attachment data is subsliced from b
// without copying; the caller owns b and must not reuse it while the
// message's attachments are live.
func Decode(b []byte) (*Message, error) {
	if len(b) < 4 {
		return nil, malformedf("%d byte(s) is too short for a header length prefix", len(b))
	}
	hlen := int(binary.BigEndian.Uint32(b))
	if 4+hlen > len(b) {
		return nil, malformedf("header length %d exceeds %d available byte(s)", hlen, len(b)-4)
	}

	var h header
	if err := json.Unmarshal(b[4:4+hlen], &h); err != nil {
		return nil, malformedf("parse header: %v", err)
	}
	if h.Type == "" {
		return nil, malformedf("header is missing the type field")
	}

	m := &Message{
		Type:        h.Type,
		ID:          h.ID,
		Op:          h.Op,
		Params:      h.Params,
		ErrorKind:   h.ErrorKind,
		ErrorDetail: h.ErrorDetail,
	}

	offset := 4 + hlen
	if len(h.Attachments) > 0 {
		m.Attachments = make([]Attachment, len(h.Attachments))
		for i, desc := range h.Attachments {
			if err := desc.Validate(); err != nil {
				return nil, err
			}
			if offset+desc.ByteLength > len(b) {
				return nil, malformedf("attachment %d declares %d byte(s), only %d present",
					i, desc.ByteLength, len(b)-offset)
			}
			m.Attachments[i] = Attachment{
				Descriptor: desc,
				Data:       b[offset : offset+desc.ByteLength],
			}
			offset += desc.ByteLength
		}
	}
	if offset != len(b) {
		return nil, malformedf("%d trailing byte(s) after last attachment", len(b)-offset)
	}
	return m, nil
}
