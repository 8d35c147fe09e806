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

package metrics

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckerMetrics(t *testing.T) {
	mm := NewMetricsManager(context.Background())
	m := InitCheckerMetrics(context.Background(), mm.Registry())

	m.IncResult("success")
	m.IncResult("input_state_conflict")
	m.IncResult("input_state_conflict")
	m.IncReplay()
	m.ObserveCheck(50 * time.Millisecond)

	metricFamilies, err := mm.Registry().Gather()
	require.NoError(t, err)
	require.Len(t, metricFamilies, 3)

	// gathered in name order
	assert.Equal(t, "uniqueness_checker_check_seconds", metricFamilies[0].GetName())
	assert.Equal(t, uint64(1), metricFamilies[0].GetMetric()[0].GetHistogram().GetSampleCount())

	assert.Equal(t, "uniqueness_checker_replays_total", metricFamilies[1].GetName())
	assert.Equal(t, float64(1), metricFamilies[1].GetMetric()[0].GetCounter().GetValue())

	assert.Equal(t, "uniqueness_checker_results_total", metricFamilies[2].GetName())
	assert.Equal(t, "input_state_conflict", metricFamilies[2].GetMetric()[0].GetLabel()[0].GetValue())
	assert.Equal(t, float64(2), metricFamilies[2].GetMetric()[0].GetCounter().GetValue())
	assert.Equal(t, "success", metricFamilies[2].GetMetric()[1].GetLabel()[0].GetValue())
	assert.Equal(t, float64(1), metricFamilies[2].GetMetric()[1].GetCounter().GetValue())
}

func TestClientAndBusMetrics(t *testing.T) {
	mm := NewMetricsManager(context.Background())
	cm := InitClientMetrics(context.Background(), mm.Registry())
	bm := InitBusMetrics(context.Background(), mm.Registry())

	cm.IncRequest("result")
	cm.IncRequest("transport_error")
	bm.IncRedelivery()

	metricFamilies, err := mm.Registry().Gather()
	require.NoError(t, err)
	require.Len(t, metricFamilies, 2)

	assert.Equal(t, "uniqueness_bus_redeliveries_total", metricFamilies[0].GetName())
	assert.Equal(t, float64(1), metricFamilies[0].GetMetric()[0].GetCounter().GetValue())

	assert.Equal(t, "uniqueness_client_requests_total", metricFamilies[1].GetName())
	assert.Len(t, metricFamilies[1].GetMetric(), 2)
}
