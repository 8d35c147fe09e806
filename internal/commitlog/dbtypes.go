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

package commitlog

import "time"

// Timestamps are stored as unix nanoseconds, so ordering and equality are
// identical on sqlite and postgres.

type dbConsumedState struct {
	StateRef       string `gorm:"column:state_ref;primaryKey"`
	IssueTxID      string `gorm:"column:issue_tx_id"`
	IssueOutputIdx int    `gorm:"column:issue_output_idx"`
	ConsumingTxID  string `gorm:"column:consuming_tx_id"`
	ConsumedAt     int64  `gorm:"column:consumed_at"`
}

func (dbConsumedState) TableName() string {
	return "uniqueness_consumed_states"
}

type dbIssuedState struct {
	StateRef       string `gorm:"column:state_ref;primaryKey"`
	IssueTxID      string `gorm:"column:issue_tx_id"`
	IssueOutputIdx int    `gorm:"column:issue_output_idx"`
	IssuedAt       int64  `gorm:"column:issued_at"`
}

func (dbIssuedState) TableName() string {
	return "uniqueness_issued_states"
}

type dbTxResult struct {
	TxID        string  `gorm:"column:tx_id;primaryKey"`
	RequestHash string  `gorm:"column:request_hash"`
	ResultKind  string  `gorm:"column:result_kind"`
	Result      string  `gorm:"column:result"`
	Originator  *string `gorm:"column:originator"`
	RecordedAt  int64   `gorm:"column:recorded_at"`
}

func (dbTxResult) TableName() string {
	return "uniqueness_tx_results"
}

func toDBTime(t time.Time) int64 {
	return t.UnixNano()
}

func fromDBTime(ns int64) time.Time {
	return time.Unix(0, ns).UTC()
}
