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

package cmd

import (
	"context"

	"github.com/spf13/cobra"

	"iris/internal/processing"
	"iris/internal/prun"
	"iris/internal/wire"
)

// prunWorkerCmd is the pool worker entry point. The pool re-executes the
// current binary with this command; stdout carries framed replies, so
// all logging stays on stderr and stdout is never written directly.
var prunWorkerCmd = &cobra.Command{
	Use:    "prun-worker",
	Hidden: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		handler := processing.NewHandler(processing.Default(), nil)
		return prun.ServeWorker(cmd.InOrStdin(), cmd.OutOrStdout(), func(req *wire.Message) (*wire.Message, error) {
			return handler.Handle(context.Background(), req)
		})
	},
}
