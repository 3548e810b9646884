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
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"iris/internal/broker"
	"iris/internal/logger"
	"iris/internal/wire"
)

var (
	brokerURL       string
	brokerNamespace string
	publishOp       string
	publishParams   string
)

var publishCmd = &cobra.Command{
	Use:   "publish [topic]",
	Short: "Publish one message to the broker",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.SetSilentMode(false)

		var params map[string]interface{}
		if publishParams != "" {
			if err := json.Unmarshal([]byte(publishParams), &params); err != nil {
				return fmt.Errorf("parse params: %w", err)
			}
		}

		b, err := broker.New(broker.Config{URL: brokerURL, Namespace: brokerNamespace})
		if err != nil {
			return err
		}
		if err := b.Start(); err != nil {
			return err
		}
		defer b.Stop()

		if err := b.Publish(args[0], wire.NewRequest(publishOp, params)); err != nil {
			return err
		}

		// Give a queued publish a moment to flush before shutdown.
		deadline := time.After(5 * time.Second)
		for b.QueuedCount() > 0 {
			select {
			case <-deadline:
				return fmt.Errorf("broker unreachable, message still queued")
			case <-time.After(50 * time.Millisecond):
			}
		}
		fmt.Printf("published to %s.%s\n", brokerNamespace, args[0])
		return nil
	},
}

var subscribeCmd = &cobra.Command{
	Use:   "subscribe [topic]",
	Short: "Subscribe to a broker topic and print messages",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.SetSilentMode(false)

		b, err := broker.New(broker.Config{URL: brokerURL, Namespace: brokerNamespace})
		if err != nil {
			return err
		}

		err = b.Subscribe(args[0], func(topic string, msg *wire.Message) error {
			line, err := json.Marshal(map[string]interface{}{
				"topic":  topic,
				"id":     msg.ID,
				"op":     msg.Op,
				"params": msg.Params,
			})
			if err != nil {
				return err
			}
			fmt.Println(string(line))
			return nil
		})
		if err != nil {
			return err
		}

		if err := b.Start(); err != nil {
			return err
		}
		defer b.Stop()

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		return nil
	},
}

func init() {
	for _, cmd := range []*cobra.Command{publishCmd, subscribeCmd} {
		cmd.Flags().StringVarP(&brokerURL, "url", "u", "nats://127.0.0.1:4222", "broker URL")
		cmd.Flags().StringVar(&brokerNamespace, "namespace", "iris", "subject namespace")
	}
	publishCmd.Flags().StringVarP(&publishOp, "op", "o", "notify", "message op")
	publishCmd.Flags().StringVarP(&publishParams, "params", "p", "", "message parameters as JSON")
}
