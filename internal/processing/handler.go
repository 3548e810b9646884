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
	"context"
	"fmt"

	"iris/internal/prun"
	"iris/internal/wire"
)

// BatchRunner fans one op out over many inputs. Satisfied by prun.Pool.
type BatchRunner interface {
	Run(ctx context.Context, op string, params map[string]interface{}, inputs []wire.Attachment) ([]prun.Result, error)
}

// Handler dispatches decoded request messages to registered ops. It is
// the processing-function capability the server and the pool worker
// both inject.
type Handler struct {
	registry *Registry
	pool     BatchRunner
}

// NewHandler creates a handler over the given registry. A nil pool
// processes multi-attachment requests sequentially in-process.
func NewHandler(registry *Registry, pool BatchRunner) *Handler {
	return &Handler{registry: registry, pool: pool}
}

// Handle processes one request and always produces a definite response
// message; op failures become in-band error responses, never transport
// failures.
func (h *Handler) Handle(ctx context.Context, req *wire.Message) (*wire.Message, error) {
	if req.Type != wire.TypeRequest {
		return wire.NewErrorResponse(req.ID, wire.ErrorKindBadRequest,
			fmt.Sprintf("expected a request message, got %q", req.Type)), nil
	}
	fn, ok := h.registry.Lookup(req.Op)
	if !ok {
		return wire.NewErrorResponse(req.ID, wire.ErrorKindUnknownOp,
			fmt.Sprintf("no op registered under %q", req.Op)), nil
	}
	if len(req.Attachments) == 0 {
		return wire.NewErrorResponse(req.ID, wire.ErrorKindBadRequest,
			"request carries no attachment"), nil
	}

	if len(req.Attachments) > 1 && h.pool != nil {
		return h.handleBatch(ctx, req)
	}

	results := make([]wire.Attachment, 0, len(req.Attachments))
	for i, att := range req.Attachments {
		arr, err := FromAttachment(att)
		if err != nil {
			return wire.NewErrorResponse(req.ID, wire.ErrorKindBadRequest,
				fmt.Sprintf("attachment %d: %v", i, err)), nil
		}
		out, err := fn(arr, req.Params)
		if err != nil {
			return wire.NewErrorResponse(req.ID, wire.ErrorKindProcessing,
				fmt.Sprintf("attachment %d: %v", i, err)), nil
		}
		results = append(results, out.Attachment())
	}
	return wire.NewResponse(req.ID, results...), nil
}

// handleBatch dispatches one item per attachment through the pool and
// reassembles the results in input order.
func (h *Handler) handleBatch(ctx context.Context, req *wire.Message) (*wire.Message, error) {
	results, err := h.pool.Run(ctx, req.Op, req.Params, req.Attachments)
	if err != nil {
		return wire.NewErrorResponse(req.ID, wire.ErrorKindProcessing, err.Error()), nil
	}
	atts := make([]wire.Attachment, len(results))
	for _, res := range results {
		if res.Err != nil {
			return wire.NewErrorResponse(req.ID, wire.ErrorKindProcessing,
				fmt.Sprintf("attachment %d: %v", res.Index, res.Err)), nil
		}
		atts[res.Index] = res.Output
	}
	return wire.NewResponse(req.ID, atts...), nil
}
