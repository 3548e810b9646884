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
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"iris/internal/logger"
	"iris/internal/prun"
	"iris/internal/wire"
)

var (
	prunOp     string
	prunSize   int
	prunParams string
)

var prunCmd = &cobra.Command{
	Use:   "prun [files...]",
	Short: "Run one op over many input files with a process pool",
	Long: `Fans the op out over a fixed-size pool of worker processes, one input
file per item, and writes each result next to its input as <file>.out.
Results keep input order; a failing item is reported without aborting
the rest of the batch.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.SetSilentMode(false)
		if verbose {
			logger.SetLevel("debug")
		}

		var params map[string]interface{}
		if prunParams != "" {
			if err := json.Unmarshal([]byte(prunParams), &params); err != nil {
				return fmt.Errorf("parse params: %w", err)
			}
		}

		inputs := make([]wire.Attachment, len(args))
		for i, path := range args {
			data, err := os.ReadFile(path)
			if err != nil {
				return fmt.Errorf("read %s: %w", path, err)
			}
			inputs[i] = wire.Attachment{
				Descriptor: wire.Descriptor{Dtype: wire.Uint8, Shape: []int{len(data)}, ByteLength: len(data)},
				Data:       data,
			}
		}

		spawner, err := prun.SelfSpawner("prun-worker")
		if err != nil {
			return err
		}
		pool, err := prun.New(prunSize, spawner)
		if err != nil {
			return err
		}

		results, err := pool.Run(context.Background(), prunOp, params, inputs)
		if err != nil {
			return err
		}

		failures := 0
		for i, res := range results {
			if res.Err != nil {
				failures++
				fmt.Fprintf(os.Stderr, "%s: %v\n", args[i], res.Err)
				continue
			}
			outPath := args[i] + ".out"
			if err := os.WriteFile(outPath, res.Output.Data, 0644); err != nil {
				return fmt.Errorf("write %s: %w", outPath, err)
			}
			fmt.Printf("%s -> %s (%d byte(s))\n", args[i], outPath, len(res.Output.Data))
		}
		if failures > 0 {
			return fmt.Errorf("%d of %d item(s) failed", failures, len(results))
		}
		return nil
	},
}

func init() {
	prunCmd.Flags().StringVarP(&prunOp, "op", "o", "identity", "processing op to invoke")
	prunCmd.Flags().IntVarP(&prunSize, "pool", "n", 4, "pool size (worker processes)")
	prunCmd.Flags().StringVarP(&prunParams, "params", "p", "", "op parameters as JSON")
}
