// Copyright © 2024 Kaleido, Inc.
//
// SPDX-License-Identifier: Apache-2.0
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

// Package bus carries uniqueness check requests and responses between clients
// and the checker. Messages are point to point, addressed by destination, and
// may name a reply-to destination for the response.
//
// Delivery is at-least-once: a consumer must Ack each delivery once it has been
// fully processed, or Nack it to have it delivered again.
package bus

import (
	"context"
	"sync"

	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/internal/msgs"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/ucconf"
	"github.com/hyperledger/firefly-common/pkg/i18n"
)

const (
	MessageTypeCheckRequest  = "uniqueness.check.request"
	MessageTypeCheckResponse = "uniqueness.check.response"
)

type Message struct {
	ID            string
	Destination   string
	Type          string
	ReplyTo       *string
	CorrelationID *string
	Body          []byte
}

type Bus interface {
	SendMessage(ctx context.Context, message Message) error
	Listen(ctx context.Context, destination string) (*Listener, error)
	Unlisten(ctx context.Context, destination string) error
	Close()
}

type Listener struct {
	destination string
	deliveries  chan *Delivery
	cancelCtx   context.CancelFunc
	done        chan struct{}
}

func newListener(destination string, bufferSize int, cancelCtx context.CancelFunc) *Listener {
	return &Listener{
		destination: destination,
		deliveries:  make(chan *Delivery, bufferSize),
		cancelCtx:   cancelCtx,
		done:        make(chan struct{}),
	}
}

func (l *Listener) Destination() string {
	return l.destination
}

func (l *Listener) Deliveries() <-chan *Delivery {
	return l.deliveries
}

// Done is closed once the listener is removed, or the bus is closed
func (l *Listener) Done() <-chan struct{} {
	return l.done
}

func (l *Listener) stop() {
	l.cancelCtx()
	select {
	case <-l.done:
	default:
		close(l.done)
	}
}

type Delivery struct {
	Message
	once sync.Once
	ack  func()
	nack func()
}

func newDelivery(msg Message, ack, nack func()) *Delivery {
	return &Delivery{Message: msg, ack: ack, nack: nack}
}

// Ack confirms the message is processed. Only the first of Ack or Nack has any effect.
func (d *Delivery) Ack() {
	d.once.Do(d.ack)
}

// Nack asks for the message to be delivered again
func (d *Delivery) Nack() {
	d.once.Do(d.nack)
}

func NewBus(ctx context.Context, conf *ucconf.BusConfig) (Bus, error) {
	switch conf.Type {
	case "", ucconf.BusTypeMemory:
		return NewMemoryBus(ctx, &conf.Memory), nil
	case ucconf.BusTypeKafka:
		return NewKafkaBus(ctx, &conf.Kafka)
	default:
		return nil, i18n.NewError(ctx, msgs.MsgBusInvalidType, conf.Type)
	}
}
