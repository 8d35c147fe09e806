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

package bus

import (
	"context"
	"sync"
	"time"

	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/internal/msgs"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/confutil"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/ids"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/log"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/ucconf"
	"github.com/hyperledger/firefly-common/pkg/i18n"
)

type memoryBus struct {
	bgCtx           context.Context
	cancelCtx       context.CancelFunc
	bufferSize      int
	deliveryTimeout time.Duration
	redeliveryDelay time.Duration

	destinationsLock sync.Mutex
	destinations     map[string]*Listener
}

// NewMemoryBus is an in-process broker, for a checker and its clients running in the same process
func NewMemoryBus(ctx context.Context, conf *ucconf.MemoryBusConfig) Bus {
	b := &memoryBus{
		bufferSize:      confutil.IntMin(conf.BufferSize, 0, *ucconf.MemoryBusDefaults.BufferSize),
		deliveryTimeout: confutil.DurationMin(conf.DeliveryTimeout, 0, *ucconf.MemoryBusDefaults.DeliveryTimeout),
		redeliveryDelay: confutil.DurationMin(conf.RedeliveryDelay, 0, *ucconf.MemoryBusDefaults.RedeliveryDelay),
		destinations:    make(map[string]*Listener),
	}
	b.bgCtx, b.cancelCtx = context.WithCancel(ctx)
	return b
}

func (b *memoryBus) Listen(ctx context.Context, destination string) (*Listener, error) {
	b.destinationsLock.Lock()
	defer b.destinationsLock.Unlock()
	if b.bgCtx.Err() != nil {
		return nil, i18n.NewError(ctx, msgs.MsgBusClosed)
	}
	if _, exists := b.destinations[destination]; exists {
		return nil, i18n.NewError(ctx, msgs.MsgBusAlreadyListening, destination)
	}
	l := newListener(destination, b.bufferSize, func() {})
	b.destinations[destination] = l
	log.L(ctx).Debugf("Listening on %s", destination)
	return l, nil
}

func (b *memoryBus) Unlisten(ctx context.Context, destination string) error {
	b.destinationsLock.Lock()
	defer b.destinationsLock.Unlock()
	l, ok := b.destinations[destination]
	if !ok {
		return i18n.NewError(ctx, msgs.MsgBusDestinationNotFound, destination)
	}
	delete(b.destinations, destination)
	l.stop()
	return nil
}

func (b *memoryBus) SendMessage(ctx context.Context, message Message) error {
	if message.Destination == "" {
		return i18n.NewError(ctx, msgs.MsgBusMissingDestination, message.ID)
	}
	if message.ID == "" {
		message.ID = ids.MessageID()
	}
	log.L(ctx).Debugf("Sending %s message %s to %s", message.Type, message.ID, message.Destination)
	return b.deliver(ctx, message, b.deliveryTimeout)
}

func (b *memoryBus) listener(ctx context.Context, destination string) (*Listener, error) {
	b.destinationsLock.Lock()
	defer b.destinationsLock.Unlock()
	if b.bgCtx.Err() != nil {
		return nil, i18n.NewError(ctx, msgs.MsgBusClosed)
	}
	l, ok := b.destinations[destination]
	if !ok {
		return nil, i18n.NewError(ctx, msgs.MsgBusDestinationNotFound, destination)
	}
	return l, nil
}

func (b *memoryBus) deliver(ctx context.Context, message Message, timeout time.Duration) error {
	l, err := b.listener(ctx, message.Destination)
	if err != nil {
		return err
	}
	d := newDelivery(message,
		func() {},
		func() { go b.redeliver(message) },
	)
	var timedOut <-chan time.Time // zero timeout waits indefinitely
	if timeout > 0 {
		timedOut = time.After(timeout)
	}
	select {
	case l.deliveries <- d:
		return nil
	case <-l.done:
		return i18n.NewError(ctx, msgs.MsgBusDestinationNotFound, message.Destination)
	case <-ctx.Done():
		return i18n.NewError(ctx, msgs.MsgContextCanceled)
	case <-timedOut:
		log.L(ctx).Errorf("Timed out delivering message %s to %s", message.ID, message.Destination)
		return i18n.NewError(ctx, msgs.MsgBusHandlerTimeout, message.Destination)
	}
}

func (b *memoryBus) redeliver(message Message) {
	ctx := log.WithLogField(b.bgCtx, "redeliver", message.ID)
	select {
	case <-time.After(b.redeliveryDelay):
	case <-ctx.Done():
		return
	}
	if err := b.deliver(ctx, message, 0); err != nil {
		log.L(ctx).Warnf("Dropping nacked message %s to %s: %s", message.ID, message.Destination, err)
	}
}

func (b *memoryBus) Close() {
	b.destinationsLock.Lock()
	defer b.destinationsLock.Unlock()
	b.cancelCtx()
	for dest, l := range b.destinations {
		l.stop()
		delete(b.destinations, dest)
	}
}
