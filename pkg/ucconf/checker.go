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

type ReferenceStatePolicy string

const (
	// A reference must not have been consumed by another transaction
	ReferenceStatePolicyUnconsumed ReferenceStatePolicy = "unconsumed"
	// As unconsumed, and every reference and input must be an output of a transaction this checker accepted
	ReferenceStatePolicyTracked ReferenceStatePolicy = "tracked"
	// References are not examined
	ReferenceStatePolicyIgnore ReferenceStatePolicy = "ignore"
)

type CheckerConfig struct {
	ReferenceStatePolicy *string            `json:"referenceStatePolicy"`
	Retry                RetryConfigWithMax `json:"retry"`
	Writer               FlushWriterConfig  `json:"writer"`
	ResultCache          CacheConfig        `json:"resultCache"`
}

var CheckerDefaults = &CheckerConfig{
	ReferenceStatePolicy: confutil.P(string(ReferenceStatePolicyUnconsumed)),
	Retry: RetryConfigWithMax{
		RetryConfig: RetryConfig{
			InitialDelay: confutil.P("100ms"),
			MaxDelay:     confutil.P("5s"),
			Factor:       confutil.P(2.0),
		},
		MaxAttempts: confutil.P(5),
	},
	Writer: FlushWriterConfig{
		WorkerCount:  confutil.P(1),
		BatchTimeout: confutil.P("25ms"),
		BatchMaxSize: confutil.P(100),
	},
	ResultCache: CacheConfig{
		Capacity: confutil.P(1000),
	},
}

type ServiceConfig struct {
	Enabled     *bool   `json:"enabled"`
	Destination *string `json:"destination"`
	Concurrency *int    `json:"concurrency"`
}

var ServiceDefaults = &ServiceConfig{
	Enabled:     confutil.P(true),
	Destination: confutil.P("uniqueness.check.requests"),
	Concurrency: confutil.P(10),
}

type ClientConfig struct {
	Enabled            *bool              `json:"enabled"`
	CheckerDestination *string            `json:"checkerDestination"`
	ReplyDestination   *string            `json:"replyDestination"`
	RequestTimeout     *string            `json:"requestTimeout"`
	SendRetry          RetryConfigWithMax `json:"sendRetry"`
	ResultCache        CacheConfig        `json:"resultCache"`
	// Keys whose signatures are accepted on success responses. Verification is skipped when empty.
	TrustedKeys []string `json:"trustedKeys"`
}

var ClientDefaults = &ClientConfig{
	Enabled:            confutil.P(false),
	CheckerDestination: confutil.P("uniqueness.check.requests"),
	ReplyDestination:   confutil.P("uniqueness.check.responses"),
	RequestTimeout:     confutil.P("30s"),
	SendRetry: RetryConfigWithMax{
		RetryConfig: RetryConfig{
			InitialDelay: confutil.P("50ms"),
			MaxDelay:     confutil.P("1s"),
			Factor:       confutil.P(2.0),
		},
		MaxAttempts: confutil.P(3),
	},
	ResultCache: CacheConfig{
		Capacity: confutil.P(1000),
	},
}
