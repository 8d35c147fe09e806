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
	"net"
	"net/http"

	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/confutil"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/log"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/ucconf"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type MetricsServer interface {
	Start() error
	Stop()
	Addr() net.Addr
}

// HealthCheck reports an error when the process cannot serve checks
type HealthCheck func(ctx context.Context) error

type metricsServer struct {
	bgCtx      context.Context
	router     *mux.Router
	health     HealthCheck
	httpServer *httpServer
}

var _ MetricsServer = &metricsServer{}

// NewMetricsServer serves /metrics from the registry, and /healthz from the health check.
// Nothing is listened on when the server is disabled.
func NewMetricsServer(ctx context.Context, registry *prometheus.Registry, health HealthCheck, conf *ucconf.MetricsServerConfig) (_ MetricsServer, err error) {
	s := &metricsServer{
		bgCtx:  ctx,
		router: mux.NewRouter(),
		health: health,
	}
	s.router.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{})).Methods(http.MethodGet)
	s.router.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)

	if confutil.Bool(conf.Enabled, *ucconf.MetricsServerDefaults.Enabled) {
		s.httpServer, err = newHTTPServer(ctx, "Metrics (HTTP)", &conf.HTTPServerConfig, s.router)
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (s *metricsServer) healthz(res http.ResponseWriter, req *http.Request) {
	status := map[string]string{"status": "ok"}
	code := http.StatusOK
	if s.health != nil {
		if err := s.health(req.Context()); err != nil {
			log.L(req.Context()).Warnf("Health check failed: %s", err)
			status = map[string]string{"status": "unavailable", "error": err.Error()}
			code = http.StatusServiceUnavailable
		}
	}
	res.Header().Set("Content-Type", "application/json")
	res.WriteHeader(code)
	_ = json.NewEncoder(res).Encode(status)
}

func (s *metricsServer) Addr() (a net.Addr) {
	if s.httpServer != nil {
		a = s.httpServer.Addr()
	}
	return a
}

func (s *metricsServer) Start() error {
	if s.httpServer != nil {
		s.httpServer.Start()
	}
	return nil
}

func (s *metricsServer) Stop() {
	if s.httpServer != nil {
		s.httpServer.Stop()
	}
}
