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

package client

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/internal/checker"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/internal/commitlog"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/internal/metrics"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/internal/processor"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/bus"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/confutil"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/persistence"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/signing"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/ucconf"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/uniqueness"
	"github.com/hyperledger/firefly-signer/pkg/secp256k1"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testNetwork is a checker service and its dependencies, sharing one database with the clients under test
type testNetwork struct {
	t         *testing.T
	ctx       context.Context
	bus       bus.Bus
	p         persistence.Persistence
	commitLog commitlog.CommitLog
	signer    signing.Signer
	processor processor.Processor
}

func newTestNetwork(t *testing.T) (*testNetwork, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	p, pDone, err := persistence.NewUnitTestPersistence(ctx)
	require.NoError(t, err)

	kp, err := secp256k1.GenerateSecp256k1KeyPair()
	require.NoError(t, err)

	tn := &testNetwork{
		t:   t,
		ctx: ctx,
		bus: bus.NewMemoryBus(ctx, &ucconf.MemoryBusConfig{
			BufferSize:      confutil.P(10),
			RedeliveryDelay: confutil.P("1ms"),
		}),
		p:      p,
		signer: signing.NewKeyPairSigner(kp),
	}
	tn.commitLog = commitlog.NewCommitLog(ctx, p, &ucconf.FlushWriterConfig{
		BatchTimeout: confutil.P("5ms"),
	})
	tn.commitLog.Start()
	return tn, func() {
		tn.stopChecker()
		tn.commitLog.Stop()
		tn.bus.Close()
		pDone()
		cancel()
	}
}

func (tn *testNetwork) startChecker() {
	registry := prometheus.NewRegistry()
	c, err := checker.NewChecker(tn.ctx, &ucconf.CheckerConfig{}, tn.commitLog, metrics.InitCheckerMetrics(tn.ctx, registry), nil)
	require.NoError(tn.t, err)
	tn.processor = processor.NewProcessor(tn.ctx, &ucconf.ServiceConfig{
		Concurrency: confutil.P(2),
	}, tn.bus, c, tn.signer, metrics.InitBusMetrics(tn.ctx, registry))
	require.NoError(tn.t, tn.processor.Start())
}

func (tn *testNetwork) stopChecker() {
	if tn.processor != nil {
		tn.processor.Stop()
		tn.processor = nil
	}
}

func (tn *testNetwork) newClient(conf *ucconf.ClientConfig, verifier ResponseVerifier) (*client, *prometheus.Registry) {
	if conf.SendRetry.InitialDelay == nil {
		conf.SendRetry.InitialDelay = confutil.P("0ms")
	}
	registry := prometheus.NewRegistry()
	c := NewClient(tn.ctx, conf, tn.bus, tn.p, verifier, metrics.InitClientMetrics(tn.ctx, registry)).(*client)
	return c, registry
}

func (tn *testNetwork) startClient(conf *ucconf.ClientConfig, verifier ResponseVerifier) *client {
	c, _ := tn.newClient(conf, verifier)
	require.NoError(tn.t, c.Start(tn.ctx))
	return c
}

func (tn *testNetwork) verifier() *signing.Verifier {
	v, err := signing.NewVerifier(tn.ctx, []string{tn.signer.KeyID()})
	require.NoError(tn.t, err)
	return v
}

func (tn *testNetwork) entries(txID string) []*commitlog.Entry {
	entries, err := tn.commitLog.EntriesForTx(tn.ctx, tn.p.NOTX(), txID)
	require.NoError(tn.t, err)
	return entries
}

func upper() time.Time {
	return time.Now().Add(time.Hour)
}

func TestInputConflictSignedOnlyOnSuccess(t *testing.T) {
	tn, done := newTestNetwork(t)
	defer done()
	tn.startChecker()
	c := tn.startClient(&ucconf.ClientConfig{}, tn.verifier())
	defer c.Stop()

	result, err := c.RequestUniquenessCheck(tn.ctx, "txA", []string{"r:1", "r:2"}, nil, 2, nil, upper())
	require.NoError(t, err)
	assert.IsType(t, &uniqueness.Success{}, result)

	result, err = c.RequestUniquenessCheck(tn.ctx, "txB", []string{"r:2", "r:3"}, nil, 1, nil, upper())
	require.NoError(t, err)
	assert.Equal(t, &uniqueness.InputStateConflict{
		Conflicts: []uniqueness.StateConflict{
			{StateRef: uniqueness.NewStateRef("r", 2), ConsumingTxID: "txA"},
		},
	}, result)

	// only the success is signed
	resp, found, err := c.getCompleted(tn.ctx, "txA")
	require.NoError(t, err)
	require.True(t, found)
	require.NotNil(t, resp.Signature)
	require.NoError(t, signing.Verify(tn.ctx, resp, tn.signer.KeyID()))

	resp, found, err = c.getCompleted(tn.ctx, "txB")
	require.NoError(t, err)
	require.True(t, found)
	assert.Nil(t, resp.Signature)
}

func TestTimeWindowNotYetOpen(t *testing.T) {
	tn, done := newTestNetwork(t)
	defer done()
	tn.startChecker()
	c := tn.startClient(&ucconf.ClientConfig{}, tn.verifier())
	defer c.Stop()

	lower := time.Now().Add(time.Hour)
	result, err := c.RequestUniquenessCheck(tn.ctx, "txA", []string{"r:1"}, nil, 0, &lower, lower.Add(time.Hour))
	require.NoError(t, err)
	require.IsType(t, &uniqueness.TimeWindowOutOfBounds{}, result)
	assert.True(t, lower.Equal(*result.(*uniqueness.TimeWindowOutOfBounds).LowerBound))
	assert.Empty(t, tn.entries("txA"))
}

func TestConcurrentDuplicatesAcrossClients(t *testing.T) {
	tn, done := newTestNetwork(t)
	defer done()
	tn.startChecker()
	c1 := tn.startClient(&ucconf.ClientConfig{ReplyDestination: confutil.P("replies.1")}, tn.verifier())
	defer c1.Stop()
	c2 := tn.startClient(&ucconf.ClientConfig{ReplyDestination: confutil.P("replies.2")}, tn.verifier())
	defer c2.Stop()

	states := []uniqueness.StateRef{uniqueness.NewStateRef("r", 1)}
	window := upper()
	clients := []Client{c1, c1, c2, c2}
	results := make([]uniqueness.Result, len(clients))
	errs := make([]error, len(clients))
	var wg sync.WaitGroup
	for i, c := range clients {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i], errs[i] = c.RequestUniquenessCheckStates(tn.ctx, "txA", states, nil, 1, nil, window)
		}()
	}
	wg.Wait()

	for i := range clients {
		require.NoError(t, errs[i])
		assert.IsType(t, &uniqueness.Success{}, results[i])
	}
	assert.Equal(t, results[0], results[2])
	assert.Len(t, tn.entries("txA"), 1)
}

func TestMalformedRequestsAnsweredLocally(t *testing.T) {
	tn, done := newTestNetwork(t)
	defer done()
	c := tn.startClient(&ucconf.ClientConfig{}, nil)
	defer c.Stop()

	result, err := c.RequestUniquenessCheck(tn.ctx, "txA", []string{"bad"}, nil, 0, nil, upper())
	require.NoError(t, err)
	require.IsType(t, &uniqueness.MalformedRequest{}, result)
	assert.Regexp(t, "UQ010300", result.(*uniqueness.MalformedRequest).ErrorText)

	result, err = c.RequestUniquenessCheck(tn.ctx, "txA", []string{"r:0"}, []string{"r:-1"}, 0, nil, upper())
	require.NoError(t, err)
	assert.IsType(t, &uniqueness.MalformedRequest{}, result)

	result, err = c.RequestUniquenessCheck(tn.ctx, "txA", []string{"r:0", "r:0"}, nil, 0, nil, upper())
	require.NoError(t, err)
	require.IsType(t, &uniqueness.MalformedRequest{}, result)
	assert.Regexp(t, "UQ010303", result.(*uniqueness.MalformedRequest).ErrorText)

	pending, err := c.pendingContinuations(tn.ctx)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestCompletedCheckNotResent(t *testing.T) {
	tn, done := newTestNetwork(t)
	defer done()
	tn.startChecker()
	c, registry := tn.newClient(&ucconf.ClientConfig{
		SendRetry: ucconf.RetryConfigWithMax{MaxAttempts: confutil.P(1)},
	}, nil)
	require.NoError(t, c.Start(tn.ctx))
	defer c.Stop()

	window := upper()
	first, err := c.RequestUniquenessCheck(tn.ctx, "txA", []string{"r:1"}, nil, 0, nil, window)
	require.NoError(t, err)
	require.True(t, first.IsSuccess())

	// with the checker gone, the stored result is still returned
	tn.stopChecker()
	again, err := c.RequestUniquenessCheck(tn.ctx, "txA", []string{"r:1"}, nil, 0, nil, window)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	c.completed.Clear()
	again, err = c.RequestUniquenessCheck(tn.ctx, "txA", []string{"r:1"}, nil, 0, nil, window)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	metricFamilies, err := registry.Gather()
	require.NoError(t, err)
	require.Len(t, metricFamilies, 1)
	outcomes := map[string]float64{}
	for _, m := range metricFamilies[0].GetMetric() {
		outcomes[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
	}
	assert.Equal(t, map[string]float64{OutcomeResult: 1, OutcomeReplay: 2}, outcomes)
}

func TestSendFailureIsTransportError(t *testing.T) {
	tn, done := newTestNetwork(t)
	defer done()
	c := tn.startClient(&ucconf.ClientConfig{
		SendRetry: ucconf.RetryConfigWithMax{MaxAttempts: confutil.P(2)},
	}, nil)
	defer c.Stop()

	// nothing is listening on the checker destination
	_, err := c.RequestUniquenessCheck(tn.ctx, "txA", []string{"r:1"}, nil, 0, nil, upper())
	require.Error(t, err)
	assert.True(t, uniqueness.IsTransportError(err))
	assert.Regexp(t, "UQ010800.*txA.*UQ010700", err)

	pending, err := c.pendingContinuations(tn.ctx)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, "txA", pending[0].TxID)
}

func TestReplyTimeoutIsTransportError(t *testing.T) {
	tn, done := newTestNetwork(t)
	defer done()
	c := tn.startClient(&ucconf.ClientConfig{
		RequestTimeout: confutil.P("10ms"),
	}, nil)
	defer c.Stop()

	// a checker that never answers
	requests, err := tn.bus.Listen(tn.ctx, *ucconf.ServiceDefaults.Destination)
	require.NoError(t, err)

	_, err = c.RequestUniquenessCheck(tn.ctx, "txA", []string{"r:1"}, nil, 0, nil, upper())
	require.Error(t, err)
	assert.True(t, uniqueness.IsTransportError(err))
	assert.Regexp(t, "UQ010801.*txA", err)

	d := <-requests.Deliveries()
	assert.Equal(t, "txA", *d.CorrelationID)
	assert.Equal(t, *ucconf.ClientDefaults.ReplyDestination, *d.ReplyTo)
	assert.Equal(t, 0, c.inflight.InFlightCount())
}

func TestRestartResumesPendingCheck(t *testing.T) {
	tn, done := newTestNetwork(t)
	defer done()

	conf := &ucconf.ClientConfig{SendRetry: ucconf.RetryConfigWithMax{MaxAttempts: confutil.P(1)}}
	c1 := tn.startClient(conf, nil)
	window := upper()
	_, err := c1.RequestUniquenessCheck(tn.ctx, "txA", []string{"r:1", "r:2"}, nil, 1, nil, window)
	require.True(t, uniqueness.IsTransportError(err))
	c1.Stop()

	tn.startChecker()
	c2 := tn.startClient(conf, tn.verifier())
	defer c2.Stop()

	// the resent check completes without any caller waiting on it
	require.Eventually(t, func() bool {
		pending, err := c2.pendingContinuations(tn.ctx)
		return err == nil && len(pending) == 0
	}, 5*time.Second, 5*time.Millisecond)

	result, err := c2.RequestUniquenessCheck(tn.ctx, "txA", []string{"r:2", "r:1"}, nil, 1, nil, window)
	require.NoError(t, err)
	assert.IsType(t, &uniqueness.Success{}, result)
	assert.Len(t, tn.entries("txA"), 2)
}

func TestUntrustedSignatureIsTransportError(t *testing.T) {
	tn, done := newTestNetwork(t)
	defer done()
	tn.startChecker()

	otherKey, err := secp256k1.GenerateSecp256k1KeyPair()
	require.NoError(t, err)
	v, err := signing.NewVerifier(tn.ctx, []string{signing.KeyIDForAddress(otherKey.Address)})
	require.NoError(t, err)
	c := tn.startClient(&ucconf.ClientConfig{}, v)
	defer c.Stop()

	_, err = c.RequestUniquenessCheck(tn.ctx, "txA", []string{"r:1"}, nil, 0, nil, upper())
	require.Error(t, err)
	assert.True(t, uniqueness.IsTransportError(err))
	assert.Regexp(t, "UQ010804.*txA", err)

	// never stored as an answer
	_, found, err := c.getCompleted(tn.ctx, "txA")
	require.NoError(t, err)
	assert.False(t, found)

	// unsigned failures are accepted from any checker
	result, err := c.RequestUniquenessCheck(tn.ctx, "txB", []string{"r:1"}, nil, 0, nil, upper())
	require.NoError(t, err)
	assert.IsType(t, &uniqueness.InputStateConflict{}, result)
}

func TestInvalidRepliesDiscarded(t *testing.T) {
	tn, done := newTestNetwork(t)
	defer done()
	tn.startChecker()
	c := tn.startClient(&ucconf.ClientConfig{}, nil)
	defer c.Stop()

	replyTo := *ucconf.ClientDefaults.ReplyDestination
	require.NoError(t, tn.bus.SendMessage(tn.ctx, bus.Message{Destination: replyTo, Type: "other"}))
	require.NoError(t, tn.bus.SendMessage(tn.ctx, bus.Message{Destination: replyTo, Type: bus.MessageTypeCheckResponse, Body: []byte(`{}`)}))
	require.NoError(t, tn.bus.SendMessage(tn.ctx, bus.Message{
		Destination: replyTo,
		Type:        bus.MessageTypeCheckResponse,
		Body:        []byte(`{"txId":"unknown","result":{"kind":"malformed_request","detail":{"errorText":"x"}}}`),
	}))

	result, err := c.RequestUniquenessCheck(tn.ctx, "txA", []string{"r:1"}, nil, 0, nil, upper())
	require.NoError(t, err)
	assert.True(t, result.IsSuccess())

	_, found, err := c.getCompleted(tn.ctx, "unknown")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestTxIDReusedWithDifferentRequest(t *testing.T) {
	tn, done := newTestNetwork(t)
	defer done()
	tn.startChecker()
	c, registry := tn.newClient(&ucconf.ClientConfig{}, tn.verifier())
	require.NoError(t, c.Start(tn.ctx))
	defer c.Stop()

	window := upper()
	result, err := c.RequestUniquenessCheck(tn.ctx, "txA", []string{"r:1"}, nil, 0, nil, window)
	require.NoError(t, err)
	require.True(t, result.IsSuccess())
	result, err = c.RequestUniquenessCheck(tn.ctx, "txB", []string{"r:2"}, nil, 0, nil, window)
	require.NoError(t, err)
	require.True(t, result.IsSuccess())

	// from the stored response, then from the DB
	for _, clearCache := range []bool{false, true} {
		if clearCache {
			c.completed.Clear()
		}
		result, err = c.RequestUniquenessCheck(tn.ctx, "txA", []string{"r:2"}, nil, 0, nil, window)
		require.NoError(t, err)
		require.IsType(t, &uniqueness.MalformedRequest{}, result)
		assert.Regexp(t, "UQ010311.*txA", result.(*uniqueness.MalformedRequest).ErrorText)
	}
	require.Len(t, tn.entries("txA"), 1)
	assert.Equal(t, uniqueness.NewStateRef("r", 1), tn.entries("txA")[0].StateRef)

	metricFamilies, err := registry.Gather()
	require.NoError(t, err)
	require.Len(t, metricFamilies, 1)
	outcomes := map[string]float64{}
	for _, m := range metricFamilies[0].GetMetric() {
		outcomes[m.GetLabel()[0].GetValue()] = m.GetCounter().GetValue()
	}
	assert.Equal(t, map[string]float64{OutcomeResult: 2, OutcomeMalformed: 2}, outcomes)
}

func TestTxIDReuseRejectedByChecker(t *testing.T) {
	tn, done := newTestNetwork(t)
	defer done()
	tn.startChecker()
	c1 := tn.startClient(&ucconf.ClientConfig{}, tn.verifier())
	defer c1.Stop()

	window := upper()
	result, err := c1.RequestUniquenessCheck(tn.ctx, "txA", []string{"r:1"}, nil, 0, nil, window)
	require.NoError(t, err)
	require.True(t, result.IsSuccess())

	// a client with its own continuation store cannot tell the txId was used
	p2, p2Done, err := persistence.NewUnitTestPersistence(tn.ctx)
	require.NoError(t, err)
	defer p2Done()
	c2 := NewClient(tn.ctx, &ucconf.ClientConfig{
		ReplyDestination: confutil.P("replies.2"),
	}, tn.bus, p2, tn.verifier(), metrics.InitClientMetrics(tn.ctx, prometheus.NewRegistry())).(*client)
	require.NoError(t, c2.Start(tn.ctx))
	defer c2.Stop()

	result, err = c2.RequestUniquenessCheck(tn.ctx, "txA", []string{"r:2"}, nil, 0, nil, window)
	require.NoError(t, err)
	require.IsType(t, &uniqueness.MalformedRequest{}, result)
	assert.Regexp(t, "UQ010311.*txA", result.(*uniqueness.MalformedRequest).ErrorText)

	resp, found, err := c2.getCompleted(tn.ctx, "txA")
	require.NoError(t, err)
	require.True(t, found)
	assert.Nil(t, resp.Signature)
	require.Len(t, tn.entries("txA"), 1)
	assert.Equal(t, uniqueness.NewStateRef("r", 1), tn.entries("txA")[0].StateRef)
}

func TestTxIDReusedWhilePending(t *testing.T) {
	tn, done := newTestNetwork(t)
	defer done()
	c := tn.startClient(&ucconf.ClientConfig{
		SendRetry: ucconf.RetryConfigWithMax{MaxAttempts: confutil.P(1)},
	}, tn.verifier())
	defer c.Stop()

	window := upper()
	_, err := c.RequestUniquenessCheck(tn.ctx, "txA", []string{"r:1"}, nil, 0, nil, window)
	require.True(t, uniqueness.IsTransportError(err))

	// the recorded request is the one sent, and decided
	tn.startChecker()
	result, err := c.RequestUniquenessCheck(tn.ctx, "txA", []string{"r:2"}, nil, 0, nil, window)
	require.NoError(t, err)
	require.IsType(t, &uniqueness.MalformedRequest{}, result)
	assert.Regexp(t, "UQ010311.*txA", result.(*uniqueness.MalformedRequest).ErrorText)

	result, err = c.RequestUniquenessCheck(tn.ctx, "txA", []string{"r:1"}, nil, 0, nil, window)
	require.NoError(t, err)
	assert.IsType(t, &uniqueness.Success{}, result)
	require.Len(t, tn.entries("txA"), 1)
	assert.Equal(t, uniqueness.NewStateRef("r", 1), tn.entries("txA")[0].StateRef)
}

func TestNotStarted(t *testing.T) {
	tn, done := newTestNetwork(t)
	defer done()
	c, _ := tn.newClient(&ucconf.ClientConfig{}, nil)
	defer c.Stop()

	_, err := c.RequestUniquenessCheck(tn.ctx, "txA", []string{"r:1"}, nil, 0, nil, upper())
	assert.Regexp(t, "UQ010803", err)
	assert.True(t, uniqueness.IsTransportError(err))
}

func TestStartListenFails(t *testing.T) {
	tn, done := newTestNetwork(t)
	defer done()
	_, err := tn.bus.Listen(tn.ctx, *ucconf.ClientDefaults.ReplyDestination)
	require.NoError(t, err)

	c, _ := tn.newClient(&ucconf.ClientConfig{}, nil)
	err = c.Start(tn.ctx)
	assert.Regexp(t, "UQ010706", err)
	c.Stop()
}
