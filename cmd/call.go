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
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"iris/internal/client"
	"iris/internal/logger"
	"iris/internal/processing"
	"iris/internal/wire"
)

var (
	callAddr    string
	callOp      string
	callInput   string
	callOutput  string
	callDtype   string
	callShape   string
	callParams  string
	callTimeout time.Duration
)

var callCmd = &cobra.Command{
	Use:   "call",
	Short: "Send one processing request to a server",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.SetSilentMode(false)

		data, err := os.ReadFile(callInput)
		if err != nil {
			return fmt.Errorf("read input: %w", err)
		}

		shape, err := parseShape(callShape, len(data))
		if err != nil {
			return err
		}

		var params map[string]interface{}
		if callParams != "" {
			if err := json.Unmarshal([]byte(callParams), &params); err != nil {
				return fmt.Errorf("parse params: %w", err)
			}
		}

		arr := &processing.Array{Dtype: wire.Dtype(callDtype), Shape: shape, Data: data}
		c := client.New(client.Config{
			Addr:          callAddr,
			Timeout:       callTimeout,
			AutoReconnect: true,
		})
		defer c.Close()

		start := time.Now()
		result, err := c.Process(callOp, arr, params)
		if err != nil {
			return err
		}

		if err := os.WriteFile(callOutput, result.Data, 0644); err != nil {
			return fmt.Errorf("write output: %w", err)
		}

		fmt.Printf("%s: %d byte(s) in, %d byte(s) out, shape %v, %s\n",
			callOp, len(data), len(result.Data), result.Shape, time.Since(start).Round(time.Microsecond))
		return nil
	},
}

// parseShape parses "480,640" into a shape, defaulting to a flat array
// covering the whole input.
func parseShape(s string, byteLen int) ([]int, error) {
	if s == "" {
		return []int{byteLen}, nil
	}
	parts := strings.Split(s, ",")
	shape := make([]int, len(parts))
	for i, part := range parts {
		dim, err := strconv.Atoi(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("invalid shape %q", s)
		}
		shape[i] = dim
	}
	return shape, nil
}

func init() {
	callCmd.Flags().StringVarP(&callAddr, "addr", "a", "127.0.0.1:7214", "server address")
	callCmd.Flags().StringVarP(&callOp, "op", "o", "identity", "processing op to invoke")
	callCmd.Flags().StringVarP(&callInput, "input", "i", "", "input file (raw array bytes)")
	callCmd.Flags().StringVarP(&callOutput, "output", "O", "out.bin", "output file")
	callCmd.Flags().StringVar(&callDtype, "dtype", "uint8", "element dtype")
	callCmd.Flags().StringVar(&callShape, "shape", "", "comma-separated dimensions, e.g. 480,640")
	callCmd.Flags().StringVarP(&callParams, "params", "p", "", "op parameters as JSON, e.g. '{\"level\":128}'")
	callCmd.Flags().DurationVarP(&callTimeout, "timeout", "t", 30*time.Second, "call timeout")
	callCmd.MarkFlagRequired("input")
}
