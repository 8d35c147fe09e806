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

package inflight

import (
	"context"
	"sync"
	"time"

	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/internal/msgs"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/log"
	"github.com/hyperledger/firefly-common/pkg/i18n"
)

// InflightManager tracks requests awaiting an asynchronous reply. Any number
// of callers can wait on the same request, and all see the one completion.
type InflightManager[K comparable, T any] struct {
	lock     sync.Mutex
	parseStr func(string) (K, error)
	requests map[K]*InflightRequest[K, T]
}

type InflightRequest[K comparable, T any] struct {
	ifm     *InflightManager[K, T]
	id      K
	queued  time.Time
	once    sync.Once
	done    chan struct{}
	value   T
	waiters int
}

func NewInflightManager[K comparable, T any](parseStr func(string) (K, error)) *InflightManager[K, T] {
	return &InflightManager[K, T]{
		parseStr: parseStr,
		requests: make(map[K]*InflightRequest[K, T]),
	}
}

func (ifm *InflightManager[K, T]) newRequest(id K) *InflightRequest[K, T] {
	return &InflightRequest[K, T]{
		ifm:    ifm,
		id:     id,
		queued: time.Now(),
		done:   make(chan struct{}),
	}
}

// AddInflight always registers a new request, replacing any existing one for the ID
func (ifm *InflightManager[K, T]) AddInflight(id K) *InflightRequest[K, T] {
	req := ifm.newRequest(id)
	ifm.lock.Lock()
	defer ifm.lock.Unlock()
	req.waiters++
	ifm.requests[id] = req
	return req
}

// JoinInflight returns the existing request for the ID if there is one, or registers
// a new one. isNew tells the caller whether it is responsible for dispatching the work.
func (ifm *InflightManager[K, T]) JoinInflight(id K) (req *InflightRequest[K, T], isNew bool) {
	ifm.lock.Lock()
	defer ifm.lock.Unlock()
	req = ifm.requests[id]
	if req == nil {
		req = ifm.newRequest(id)
		ifm.requests[id] = req
		isNew = true
	}
	req.waiters++
	return req, isNew
}

func (ifm *InflightManager[K, T]) GetInflightStr(idStr *string) *InflightRequest[K, T] {
	if idStr == nil {
		return nil
	}
	id, err := ifm.parseStr(*idStr)
	if err != nil {
		log.L(context.Background()).Errorf("Invalid correlation ID supplied '%s': %s", *idStr, err)
		return nil
	}
	return ifm.GetInflight(id)
}

func (ifm *InflightManager[K, T]) GetInflight(id K) *InflightRequest[K, T] {
	ifm.lock.Lock()
	defer ifm.lock.Unlock()
	return ifm.requests[id]
}

func (ifm *InflightManager[K, T]) InFlightCount() int {
	ifm.lock.Lock()
	defer ifm.lock.Unlock()
	return len(ifm.requests)
}

func (ifm *InflightManager[K, T]) waitInFlight(ctx context.Context, req *InflightRequest[K, T]) (T, error) {
	select {
	case <-ctx.Done():
		return *new(T), i18n.NewError(ctx, msgs.MsgInflightRequestCancelled, time.Since(req.queued))
	case <-req.done:
		return req.value, nil
	}
}

func (ifm *InflightManager[K, T]) cancelInFlight(req *InflightRequest[K, T]) {
	ifm.lock.Lock()
	defer ifm.lock.Unlock()
	req.waiters--
	if req.waiters <= 0 && ifm.requests[req.id] == req {
		delete(ifm.requests, req.id)
	}
}

func (req *InflightRequest[K, T]) ID() K {
	return req.id
}

// Complete can only happen once, and later calls are ignored
func (req *InflightRequest[K, T]) Complete(v T) {
	req.once.Do(func() {
		req.value = v
		close(req.done)
	})
}

func (req *InflightRequest[K, T]) Wait(ctx context.Context) (T, error) {
	return req.ifm.waitInFlight(ctx, req)
}

// Cancel must be called by each caller that added or joined the request, once it stops waiting
func (req *InflightRequest[K, T]) Cancel() {
	req.ifm.cancelInFlight(req)
}
