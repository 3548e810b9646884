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
	"bytes"
	"compress/zlib"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"
)

// DefaultMaxFrameSize bounds a single frame at 64 MiB, large enough for
// uncompressed image payloads.
const DefaultMaxFrameSize = 64 << 20

// Framer sends and receives length-prefixed frames on a byte stream.
// Each frame is a 4-byte big-endian unsigned payload length followed by
// exactly that many payload bytes.
//
// Compress must be set identically on both peers; it applies zlib to
// the payload before framing, trading latency for network load.
type Framer struct {
	MaxFrameSize uint32
	Compress     bool
}

func (f Framer) maxSize() uint32 {
	if f.MaxFrameSize == 0 {
		return DefaultMaxFrameSize
	}
	return f.MaxFrameSize
}

type deadlineConn interface {
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

// Send writes one frame, looping until every byte is written. A timeout
// of zero means no deadline. After ErrTimeout or ErrConnectionClosed
// the stream is in an indeterminate state and must be closed.
func (f Framer) Send(w io.Writer, payload []byte, timeout time.Duration) error {
	if f.Compress {
		var buf bytes.Buffer
		zw := zlib.NewWriter(&buf)
		if _, err := zw.Write(payload); err != nil {
			return fmt.Errorf("compress frame: %w", err)
		}
		if err := zw.Close(); err != nil {
			return fmt.Errorf("compress frame: %w", err)
		}
		payload = buf.Bytes()
	}
	if uint64(len(payload)) > uint64(f.maxSize()) {
		return fmt.Errorf("%w: payload is %d byte(s), limit is %d", ErrFrameTooLarge, len(payload), f.maxSize())
	}

	if dc, ok := w.(deadlineConn); ok {
		deadline := time.Time{}
		if timeout > 0 {
			deadline = time.Now().Add(timeout)
		}
		if err := dc.SetWriteDeadline(deadline); err != nil {
			return mapStreamErr(err)
		}
	}

	var prefix [4]byte
	binary.BigEndian.PutUint32(prefix[:], uint32(len(payload)))
	if err := writeFull(w, prefix[:]); err != nil {
		return err
	}
	return writeFull(w, payload)
}

// Receive reads one frame. The length prefix is validated against the
// configured maximum before any payload allocation happens.
func (f Framer) Receive(r io.Reader, timeout time.Duration) ([]byte, error) {
	if dc, ok := r.(deadlineConn); ok {
		deadline := time.Time{}
		if timeout > 0 {
			deadline = time.Now().Add(timeout)
		}
		if err := dc.SetReadDeadline(deadline); err != nil {
			return nil, mapStreamErr(err)
		}
	}

	var prefix [4]byte
	if _, err := io.ReadFull(r, prefix[:]); err != nil {
		return nil, mapStreamErr(err)
	}
	length := binary.BigEndian.Uint32(prefix[:])
	if length > f.maxSize() {
		return nil, fmt.Errorf("%w: declared length is %d byte(s), limit is %d", ErrFrameTooLarge, length, f.maxSize())
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, mapStreamErr(err)
	}

	if f.Compress {
		zr, err := zlib.NewReader(bytes.NewReader(payload))
		if err != nil {
			return nil, malformedf("decompress frame: %v", err)
		}
		defer zr.Close()
		out, err := io.ReadAll(io.LimitReader(zr, int64(f.maxSize())+1))
		if err != nil {
			return nil, malformedf("decompress frame: %v", err)
		}
		if uint64(len(out)) > uint64(f.maxSize()) {
			return nil, fmt.Errorf("%w: decompressed payload exceeds %d byte(s)", ErrFrameTooLarge, f.maxSize())
		}
		payload = out
	}
	return payload, nil
}

// writeFull loops over short writes; stream writes are not atomic.
func writeFull(w io.Writer, b []byte) error {
	for len(b) > 0 {
		n, err := w.Write(b)
		b = b[n:]
		if err != nil {
			return mapStreamErr(err)
		}
	}
	return nil
}

// mapStreamErr folds platform I/O failures into the transport taxonomy.
func mapStreamErr(err error) error {
	if err == nil {
		return nil
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return fmt.Errorf("%w: %v", ErrTimeout, err)
	}
	if errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrUnexpectedEOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) {
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	return err
}
