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

package ucconf

import "github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/confutil"

const (
	BusTypeMemory = "memory"
	BusTypeKafka  = "kafka"
)

type BusConfig struct {
	Type   string          `json:"type"`
	Memory MemoryBusConfig `json:"memory"`
	Kafka  KafkaBusConfig  `json:"kafka"`
}

type MemoryBusConfig struct {
	BufferSize      *int    `json:"bufferSize"`
	DeliveryTimeout *string `json:"deliveryTimeout"`
	RedeliveryDelay *string `json:"redeliveryDelay"`
}

var MemoryBusDefaults = &MemoryBusConfig{
	BufferSize:      confutil.P(1),
	DeliveryTimeout: confutil.P("1s"),
	RedeliveryDelay: confutil.P("100ms"),
}

type KafkaBusConfig struct {
	Brokers      []string `json:"brokers"`
	GroupID      *string  `json:"groupId"`
	TopicPrefix  *string  `json:"topicPrefix"`
	MinBytes     *string  `json:"minBytes"`
	MaxBytes     *string  `json:"maxBytes"`
	MaxWait      *string  `json:"maxWait"`
	BatchTimeout *string  `json:"batchTimeout"`
	RequiredAcks *int     `json:"requiredAcks"`
	BufferSize   *int     `json:"bufferSize"`
}

var KafkaBusDefaults = &KafkaBusConfig{
	GroupID:      confutil.P("uniqueness"),
	TopicPrefix:  confutil.P(""),
	MinBytes:     confutil.P("1"),
	MaxBytes:     confutil.P("10Mb"),
	MaxWait:      confutil.P("500ms"),
	BatchTimeout: confutil.P("10ms"),
	RequiredAcks: confutil.P(-1),
	BufferSize:   confutil.P(10),
}
