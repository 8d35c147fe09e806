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

package metricsserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/internal/msgs"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/confutil"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/ucconf"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetricsServer(t *testing.T, health HealthCheck) (string, *prometheus.Registry, func()) {
	registry := prometheus.NewRegistry()
	s, err := NewMetricsServer(context.Background(), registry, health, &ucconf.MetricsServerConfig{
		Enabled: confutil.P(true),
		HTTPServerConfig: ucconf.HTTPServerConfig{
			Address: confutil.P("127.0.0.1"),
			Port:    confutil.P(0),
		},
	})
	require.NoError(t, err)
	require.NoError(t, s.Start())
	return fmt.Sprintf("http://%s", s.Addr()), registry, s.Stop
}

func TestMetricsEndpoint(t *testing.T) {
	url, registry, done := newTestMetricsServer(t, nil)
	defer done()

	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "uniqueness_test_total"})
	registry.MustRegister(counter)
	counter.Add(3)

	res, err := http.Get(url + "/metrics")
	require.NoError(t, err)
	defer res.Body.Close()
	assert.Equal(t, http.StatusOK, res.StatusCode)
	body, err := io.ReadAll(res.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "uniqueness_test_total 3")
}

func TestHealthz(t *testing.T) {
	var unhealthy atomic.Bool
	url, _, done := newTestMetricsServer(t, func(ctx context.Context) error {
		if unhealthy.Load() {
			return i18n.NewError(ctx, msgs.MsgContextCanceled)
		}
		return nil
	})
	defer done()

	getStatus := func() (int, map[string]string) {
		res, err := http.Get(url + "/healthz")
		require.NoError(t, err)
		defer res.Body.Close()
		var status map[string]string
		require.NoError(t, json.NewDecoder(res.Body).Decode(&status))
		return res.StatusCode, status
	}

	code, status := getStatus()
	assert.Equal(t, http.StatusOK, code)
	assert.Equal(t, "ok", status["status"])

	unhealthy.Store(true)
	code, status = getStatus()
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.Equal(t, "unavailable", status["status"])
	assert.Regexp(t, "UQ010003", status["error"])
}

func TestDisabledServesNothing(t *testing.T) {
	s, err := NewMetricsServer(context.Background(), prometheus.NewRegistry(), nil, &ucconf.MetricsServerConfig{})
	require.NoError(t, err)
	assert.Nil(t, s.Addr())
	require.NoError(t, s.Start())
	s.Stop()

	// the routes are still usable in-process
	res := httptest.NewRecorder()
	s.(*metricsServer).router.ServeHTTP(res, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, res.Code)
}

func TestMissingPort(t *testing.T) {
	_, err := NewMetricsServer(context.Background(), prometheus.NewRegistry(), nil, &ucconf.MetricsServerConfig{
		Enabled: confutil.P(true),
	})
	assert.Regexp(t, "UQ011008", err)
}

func TestBadAddress(t *testing.T) {
	_, err := NewMetricsServer(context.Background(), prometheus.NewRegistry(), nil, &ucconf.MetricsServerConfig{
		Enabled: confutil.P(true),
		HTTPServerConfig: ucconf.HTTPServerConfig{
			Address: confutil.P(":::::badness"),
			Port:    confutil.P(0),
		},
	})
	assert.Regexp(t, "UQ011009", err)
}

func TestStopWithoutStart(t *testing.T) {
	s, err := newHTTPServer(context.Background(), "unittest", &ucconf.HTTPServerConfig{
		Address: confutil.P("127.0.0.1"),
		Port:    confutil.P(0),
	}, http.NotFoundHandler())
	require.NoError(t, err)
	addr := s.Addr().String()
	s.Stop()

	// the port is released
	l, err := net.Listen("tcp", addr)
	require.NoError(t, err)
	l.Close()
}
