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

package processing

import (
	"fmt"

	"iris/internal/wire"
)

// Array is the domain payload: a typed, shaped byte buffer carried into
// and out of processing ops via message attachments.
type Array struct {
	Dtype wire.Dtype
	Shape []int
	Data  []byte
}

// FromAttachment reinterprets a decoded attachment as an Array. The
// data is not copied; the array aliases the attachment bytes.
func FromAttachment(att wire.Attachment) (*Array, error) {
	if err := att.Validate(); err != nil {
		return nil, err
	}
	if len(att.Data) != att.ByteLength {
		return nil, fmt.Errorf("attachment carries %d byte(s), descriptor declares %d", len(att.Data), att.ByteLength)
	}
	return &Array{Dtype: att.Dtype, Shape: att.Shape, Data: att.Data}, nil
}

// Attachment converts the array back into a message attachment.
func (a *Array) Attachment() wire.Attachment {
	return wire.Attachment{
		Descriptor: wire.Descriptor{Dtype: a.Dtype, Shape: a.Shape, ByteLength: len(a.Data)},
		Data:       a.Data,
	}
}

// Elems returns the total element count implied by the shape.
func (a *Array) Elems() int {
	n := 1
	for _, dim := range a.Shape {
		n *= dim
	}
	return n
}

// Clone deep-copies the array so results never alias request buffers.
func (a *Array) Clone() *Array {
	data := make([]byte, len(a.Data))
	copy(data, a.Data)
	shape := make([]int, len(a.Shape))
	copy(shape, a.Shape)
	return &Array{Dtype: a.Dtype, Shape: shape, Data: data}
}
