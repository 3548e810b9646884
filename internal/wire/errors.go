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
	"errors"
	"fmt"
)

// Transport and codec error taxonomy. Callers distinguish these with
// errors.Is; a Timeout and a ConnectionClosed lead to different retry
// decisions, so they are never folded together.
var (
	ErrMalformedMessage = errors.New("malformed message")
	ErrFrameTooLarge    = errors.New("frame exceeds maximum size")
	ErrTimeout          = errors.New("i/o timeout")
	ErrConnectionClosed = errors.New("connection closed")
)

// malformedf wraps ErrMalformedMessage with detail about the structural
// violation.
func malformedf(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedMessage, fmt.Sprintf(format, args...))
}

// RemoteError is the client-side view of an error-kind response message.
type RemoteError struct {
	Kind   string
	Detail string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote error (%s): %s", e.Kind, e.Detail)
}
