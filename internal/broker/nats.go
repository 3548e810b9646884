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

package broker

import (
	"errors"

	"github.com/nats-io/nats.go"
)

// conn is the minimal broker-connection surface the wrapper needs. The
// production implementation adapts *nats.Conn; tests substitute an
// in-memory fake.
type conn interface {
	Publish(subject string, data []byte) error
	Subscribe(subject string, cb func(subject string, data []byte)) error
	Flush() error
	Close()
}

// connector opens a fresh broker connection. onLost fires at most once
// when the connection dies.
type connector func(url string, onLost func(error)) (conn, error)

type natsConn struct {
	nc *nats.Conn
}

// natsConnector dials NATS with the library's own reconnection turned
// off: the wrapper owns the reconnect and backoff policy, and a dead
// session is replaced wholesale, never revived.
func natsConnector(url string, onLost func(error)) (conn, error) {
	nc, err := nats.Connect(url,
		nats.NoReconnect(),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err == nil {
				err = errors.New("connection lost")
			}
			onLost(err)
		}),
		nats.ClosedHandler(func(_ *nats.Conn) {
			onLost(errors.New("connection closed"))
		}),
	)
	if err != nil {
		return nil, err
	}
	return &natsConn{nc: nc}, nil
}

func (c *natsConn) Publish(subject string, data []byte) error {
	return c.nc.Publish(subject, data)
}

func (c *natsConn) Subscribe(subject string, cb func(subject string, data []byte)) error {
	_, err := c.nc.Subscribe(subject, func(m *nats.Msg) {
		cb(m.Subject, m.Data)
	})
	return err
}

func (c *natsConn) Flush() error {
	return c.nc.Flush()
}

func (c *natsConn) Close() {
	c.nc.Close()
}
