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
	"encoding/json"
	"time"

	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/internal/msgs"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/log"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/uniqueness"
	"github.com/hyperledger/firefly-common/pkg/i18n"
	"gorm.io/gorm/clause"
)

// A continuation is recorded before each request is sent, and completed when
// the response arrives. Pending continuations are re-sent on restart.
type dbClientCheck struct {
	TxID        string  `gorm:"column:tx_id;primaryKey"`
	Request     string  `gorm:"column:request"`
	RequestHash string  `gorm:"column:request_hash"`
	Response    *string `gorm:"column:response"`
	Created     int64   `gorm:"column:created"`
	Completed   *int64  `gorm:"column:completed"`
}

func (dbClientCheck) TableName() string {
	return "uniqueness_client_checks"
}

// recordContinuation returns the request recorded for the txId. That is req,
// unless a request with different content was recorded for the txId first.
func (c *client) recordContinuation(ctx context.Context, req *uniqueness.Request) (*uniqueness.Request, error) {
	b, err := json.Marshal(req)
	if err != nil {
		return nil, err
	}
	hash := req.Hash()
	db := c.p.NOTX().DB().WithContext(ctx)
	err = db.
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&dbClientCheck{
			TxID:        req.TxID,
			Request:     string(b),
			RequestHash: hash,
			Created:     time.Now().UnixNano(),
		}).
		Error
	if err != nil {
		return nil, err
	}

	var rows []*dbClientCheck
	err = db.
		Where("tx_id = ?", req.TxID).
		Limit(1).
		Find(&rows).
		Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 || rows[0].RequestHash == hash {
		return req, nil
	}
	var recorded uniqueness.Request
	if err := json.Unmarshal([]byte(rows[0].Request), &recorded); err != nil {
		return nil, i18n.WrapError(ctx, err, msgs.MsgClientContinuationInvalid, req.TxID)
	}
	log.L(ctx).Warnf("A different request is already recorded for this transaction")
	return &recorded, nil
}

// completeContinuation stores the response only if none is stored yet, and it answers
// the recorded request. It reports whether it stored the response.
func (c *client) completeContinuation(ctx context.Context, resp *uniqueness.Response) (bool, error) {
	b, err := json.Marshal(resp)
	if err != nil {
		return false, err
	}
	res := c.p.NOTX().DB().
		WithContext(ctx).
		Model(&dbClientCheck{}).
		Where("tx_id = ?", resp.TxID).
		Where("request_hash = ?", resp.RequestHash).
		Where("completed IS NULL").
		Updates(map[string]any{
			"response":  string(b),
			"completed": time.Now().UnixNano(),
		})
	return res.RowsAffected > 0, res.Error
}

func (c *client) getCompleted(ctx context.Context, txID string) (*uniqueness.Response, bool, error) {
	var rows []*dbClientCheck
	err := c.p.NOTX().DB().
		WithContext(ctx).
		Where("tx_id = ?", txID).
		Where("completed IS NOT NULL").
		Limit(1).
		Find(&rows).
		Error
	if err != nil || len(rows) == 0 || rows[0].Response == nil {
		return nil, false, err
	}
	var resp uniqueness.Response
	if err := json.Unmarshal([]byte(*rows[0].Response), &resp); err != nil {
		return nil, false, i18n.WrapError(ctx, err, msgs.MsgClientContinuationInvalid, txID)
	}
	return &resp, true, nil
}

func (c *client) pendingContinuations(ctx context.Context) ([]*uniqueness.Request, error) {
	var rows []*dbClientCheck
	err := c.p.NOTX().DB().
		WithContext(ctx).
		Where("completed IS NULL").
		Order("created").
		Find(&rows).
		Error
	if err != nil {
		return nil, err
	}
	pending := make([]*uniqueness.Request, 0, len(rows))
	for _, row := range rows {
		var req uniqueness.Request
		if err := json.Unmarshal([]byte(row.Request), &req); err != nil {
			log.L(ctx).Errorf("Skipping pending check %s: %s", row.TxID, i18n.WrapError(ctx, err, msgs.MsgClientContinuationInvalid, row.TxID))
			continue
		}
		pending = append(pending, &req)
	}
	return pending, nil
}
