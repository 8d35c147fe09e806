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

package flushwriter

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/internal/msgs"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/confutil"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/ids"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/log"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/persistence"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/ucconf"
	"github.com/hyperledger/firefly-common/pkg/i18n"
)

type Writeable[R any] interface {
	// All writes with the same key are guaranteed to go to the same worker,
	// and so are serialized relative to each other.
	WriteKey() string
}

type Operation[T Writeable[R], R any] interface {
	// WaitFlushed blocks for the operation to complete, fail, or for the context to end
	WaitFlushed(ctx context.Context) (R, error)
}

// BatchHandler processes a batch of values in a single DB transaction.
//   - Result.Err fails just that one operation, and the transaction still commits
//   - a returned error rolls back the whole batch, and is delivered to every operation
//
// A failed SQL statement aborts the DB transaction even if no error is returned,
// so handlers that need per-operation isolation must use savepoints.
type BatchHandler[T Writeable[R], R any] func(ctx context.Context, dbTX persistence.DBTX, values []T) ([]Result[R], error)

type Writer[T Writeable[R], R any] interface {
	Start()                                             // the routines do not run until this is called
	Queue(ctx context.Context, value T) Operation[T, R] // add an operation to be executed
	Shutdown()                                          // waits for all in process work to complete, then shuts down
}

type Result[R any] struct {
	Err error
	R   R
	// Called with the outcome of the DB transaction, before the result is delivered
	DBTXResultCallback func(error)
}

type op[T Writeable[R], R any] struct {
	id         string
	writeKey   string
	isShutdown bool
	done       chan Result[R]
	value      T
}

type writer[T Writeable[R], R any] struct {
	bgCtx        context.Context
	cancelCtx    context.CancelFunc
	p            persistence.Persistence
	handler      BatchHandler[T, R]
	writerID     string
	batchTimeout time.Duration
	batchMaxSize int
	workerCount  int
	workQueues   []chan *op[T, R]
	workersDone  []chan struct{}
}

type batch[T Writeable[R], R any] struct {
	id             string
	opened         time.Time
	ops            []*op[T, R]
	timeoutContext context.Context
	timeoutCancel  func()
}

func NewWriter[T Writeable[R], R any](
	bgCtx context.Context,
	handler BatchHandler[T, R],
	p persistence.Persistence,
	conf *ucconf.FlushWriterConfig,
	defaults *ucconf.FlushWriterConfig,
) Writer[T, R] {
	w := &writer[T, R]{
		p:            p,
		writerID:     ids.ShortID(),
		handler:      handler,
		workerCount:  confutil.IntMin(conf.WorkerCount, 1, *defaults.WorkerCount),
		batchTimeout: confutil.DurationMin(conf.BatchTimeout, 0, *defaults.BatchTimeout),
		batchMaxSize: confutil.IntMin(conf.BatchMaxSize, 1, *defaults.BatchMaxSize),
	}
	w.bgCtx, w.cancelCtx = context.WithCancel(bgCtx)
	return w
}

func (w *writer[T, R]) Start() {
	log.L(w.bgCtx).Debugf("Starting %d workers for writer %s", w.workerCount, w.writerID)
	w.workersDone = make([]chan struct{}, w.workerCount)
	w.workQueues = make([]chan *op[T, R], w.workerCount)
	for i := 0; i < w.workerCount; i++ {
		w.workersDone[i] = make(chan struct{})
		w.workQueues[i] = make(chan *op[T, R], w.batchMaxSize)
		go w.worker(i)
	}
}

func (w *writer[T, R]) Queue(ctx context.Context, value T) Operation[T, R] {
	return w.queue(ctx, value)
}

func (op *op[T, R]) WaitFlushed(ctx context.Context) (R, error) {
	select {
	case r := <-op.done:
		log.L(ctx).Debugf("Flushed write operation %s (key=%s,err=%v)", op.id, op.writeKey, r.Err)
		return r.R, r.Err
	case <-ctx.Done():
		return *(new(R)), i18n.NewError(ctx, msgs.MsgContextCanceled)
	}
}

func (w *writer[T, R]) queue(ctx context.Context, value T) *op[T, R] {
	op := &op[T, R]{
		id:       ids.ShortID(),
		writeKey: value.WriteKey(),
		value:    value,
		done:     make(chan Result[R], 1), // never block the worker
	}
	if op.writeKey == "" {
		op.done <- Result[R]{Err: i18n.NewError(ctx, msgs.MsgFlushWriterOpInvalid)}
		return op
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(op.writeKey))
	routine := h.Sum32() % uint32(w.workerCount)
	log.L(ctx).Debugf("Queuing write operation %s to writer_%s_%.4d", op.id, w.writerID, routine)
	select {
	case w.workQueues[routine] <- op:
	case <-ctx.Done():
		// caller gave up, and WaitFlushed will report their context error
	case <-w.bgCtx.Done():
		op.done <- Result[R]{Err: i18n.NewError(ctx, msgs.MsgFlushWriterQuiescing)}
	}

	return op
}

func (w *writer[T, R]) worker(i int) {
	defer close(w.workersDone[i])
	workerID := fmt.Sprintf("writer_%s_%.4d", w.writerID, i)
	ctx := log.WithLogField(w.bgCtx, "job", workerID)
	l := log.L(ctx)
	var b *batch[T, R]
	batchCount := 0
	workQueue := w.workQueues[i]
	var shutdownRequest *op[T, R]
	for shutdownRequest == nil {
		var timeoutContext context.Context
		var timedOutOrFlush bool
		if b != nil {
			timeoutContext = b.timeoutContext
		} else {
			timeoutContext = ctx
		}
		select {
		case op := <-workQueue:
			if op.isShutdown {
				shutdownRequest = op
				timedOutOrFlush = true
				break
			}
			if b == nil {
				b = &batch[T, R]{
					id:     fmt.Sprintf("%.4d_%.9d", i, batchCount),
					opened: time.Now(),
				}
				b.timeoutContext, b.timeoutCancel = context.WithTimeout(ctx, w.batchTimeout)
				batchCount++
			}
			b.ops = append(b.ops, op)
			l.Debugf("Added write operation %s to batch %s (len=%d)", op.id, b.id, len(b.ops))
		case <-timeoutContext.Done():
			timedOutOrFlush = true
			select {
			case <-ctx.Done():
				l.Debugf("Writer ending")
				return
			default:
			}
		}

		if b != nil && (timedOutOrFlush || (len(b.ops) >= w.batchMaxSize)) {
			b.timeoutCancel()
			l.Debugf("Running batch %s (len=%d,timeout=%t,age=%dms)", b.id, len(b.ops), timedOutOrFlush, time.Since(b.opened).Milliseconds())
			w.runBatch(ctx, b)
			b = nil
		}

		if shutdownRequest != nil {
			close(shutdownRequest.done)
		}
	}
}

func (w *writer[T, R]) runBatch(ctx context.Context, b *batch[T, R]) {

	values := make([]T, len(b.ops))
	keys := make([]string, len(b.ops))
	for i, op := range b.ops {
		values[i] = op.value
		keys[i] = op.writeKey
	}
	log.L(ctx).Debugf("Writing batch count=%d keys=%v", len(keys), keys)

	var results []Result[R]
	txErr := w.p.Transaction(ctx, func(ctx context.Context, dbTX persistence.DBTX) (err error) {
		results, err = w.handler(ctx, dbTX, values)
		return err
	})

	// Callbacks see the real outcome of the DB transaction on every path
	for _, r := range results {
		if r.DBTXResultCallback != nil {
			r.DBTXResultCallback(txErr)
		}
	}

	err := txErr
	if err != nil {
		log.L(ctx).Errorf("Write batch failed: %s", err)
	} else if len(results) != len(values) {
		log.L(ctx).Errorf("Invalid results (values=%d,results=%d): %+v", len(values), len(results), results)
		err = i18n.NewError(ctx, msgs.MsgFlushWriterInvalidResults)
	}

	for i, op := range b.ops {
		if err != nil {
			op.done <- Result[R]{Err: err}
		} else {
			op.done <- results[i]
		}
	}
}

func (w *writer[T, R]) Shutdown() {
	shutdownOps := make([]*op[T, R], len(w.workersDone))
	for i := range w.workersDone {
		shutdownOps[i] = &op[T, R]{
			isShutdown: true,
			done:       make(chan Result[R]),
		}
		select {
		case w.workQueues[i] <- shutdownOps[i]:
		case <-w.bgCtx.Done():
		}
	}
	w.waitForShutdownOps(shutdownOps)
	w.cancelCtx()
}

func (w *writer[T, R]) waitForShutdownOps(shutdownOps []*op[T, R]) {
	for i, workerDone := range w.workersDone {
		select {
		case <-shutdownOps[i].done:
		case <-w.bgCtx.Done():
		}
		<-workerDone
	}
}
