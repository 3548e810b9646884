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
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"iris/internal/broker"
	"iris/internal/config"
	"iris/internal/journal"
	"iris/internal/logger"
	"iris/internal/processing"
	"iris/internal/prun"
	"iris/internal/server"
	"iris/internal/status"
	"iris/internal/wire"
)

var serveConfigPath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the processing server",
	Long: `Starts the iris processing server: accepts framed request messages on
the configured address, dispatches them to the registered image ops,
and answers on the same connection. Multi-attachment requests fan out
over the process pool.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger.SetSilentMode(false)
		if verbose {
			logger.SetLevel("debug")
		}
		log := logger.New()

		cfg, err := config.LoadOrCreate(serveConfigPath)
		if err != nil {
			return err
		}

		registry := processing.Default()

		var pool *prun.Pool
		if cfg.Pool.Size > 0 {
			spawner, err := prun.SelfSpawner("prun-worker")
			if err != nil {
				return err
			}
			pool, err = prun.New(cfg.Pool.Size, spawner)
			if err != nil {
				return err
			}
		}

		var batch processing.BatchRunner
		if pool != nil {
			batch = pool
		}
		handler := processing.NewHandler(registry, batch)

		srv, err := server.New(server.Config{
			Addr:           cfg.Server.Listen,
			MaxFrameSize:   cfg.Server.MaxFrameSize(),
			RequestTimeout: cfg.Server.RequestDeadline(),
			Compress:       cfg.Server.Compress,
		}, handler)
		if err != nil {
			return err
		}

		var j *journal.Journal
		if cfg.Journal.Path != "" {
			j, err = journal.Open(cfg.Journal.Path)
			if err != nil {
				return err
			}
			defer j.Close()
			srv.SetRecorder(j)
		}

		if err := srv.Start(); err != nil {
			return err
		}
		defer srv.Stop()

		var b *broker.Broker
		if cfg.Broker.URL != "" {
			min, max := cfg.Broker.Backoff()
			b, err = broker.New(broker.Config{
				URL:          cfg.Broker.URL,
				Namespace:    cfg.Broker.Namespace,
				ReconnectMin: min,
				ReconnectMax: max,
				BufferSize:   cfg.Broker.BufferSize,
			})
			if err != nil {
				return err
			}
			if err := b.Start(); err != nil {
				return err
			}
			defer b.Stop()

			b.Publish("service", wire.NewRequest("service_up", map[string]interface{}{
				"addr": srv.Addr().String(),
				"ops":  registry.Names(),
			}))
			defer b.Publish("service", wire.NewRequest("service_down", nil))

			go func() {
				for ev := range b.Events() {
					log.Debug().
						Str("kind", string(ev.Kind)).
						Str("topic", ev.Topic).
						Str("detail", ev.Detail).
						Msg("Broker event")
				}
			}()
		}

		if cfg.Status.Listen != "" {
			st := status.NewServer(cfg.Status.Listen)
			st.Register("server", func() interface{} { return srv.GetStats() })
			if b != nil {
				st.Register("broker", func() interface{} {
					return map[string]interface{}{
						"state":  b.State().String(),
						"queued": b.QueuedCount(),
					}
				})
			}
			if err := st.Start(); err != nil {
				return err
			}
			defer st.Stop()
		}

		log.Info().Str("addr", srv.Addr().String()).Msg("Iris serving")

		sig := make(chan os.Signal, 1)
		signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
		<-sig
		log.Info().Msg("Shutting down")
		return nil
	},
}

func init() {
	serveCmd.Flags().StringVarP(&serveConfigPath, "config", "c", "iris.yaml", "path to config file")
}
