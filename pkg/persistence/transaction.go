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

package persistence

import (
	"context"

	"gorm.io/gorm"
)

type DBTX interface {
	// Access the gorm DB object for the transaction
	DB() *gorm.DB
	// FullTransaction is false for the NOTX pseudo-transaction
	FullTransaction() bool
	// Run at the end of the transaction, before it commits. An error causes a rollback.
	AddPreCommit(func(ctx context.Context, tx DBTX) error)
	// Run only after a successful commit
	AddPostCommit(func(ctx context.Context))
	// Run in all cases (including panics) after the transaction completes. A non-nil error means it rolled back.
	AddFinalizer(func(ctx context.Context, err error))
}

type transaction struct {
	txCtx       context.Context
	gdb         *gorm.DB
	preCommits  []func(ctx context.Context, tx DBTX) error
	postCommits []func(ctx context.Context)
	finalizers  []func(ctx context.Context, err error)
}

func (t *transaction) DB() *gorm.DB {
	return t.gdb
}

func (t *transaction) FullTransaction() bool {
	return true
}

func (t *transaction) AddPreCommit(fn func(ctx context.Context, tx DBTX) error) {
	t.preCommits = append(t.preCommits, fn)
}

func (t *transaction) AddPostCommit(fn func(ctx context.Context)) {
	t.postCommits = append(t.postCommits, fn)
}

func (t *transaction) AddFinalizer(fn func(ctx context.Context, err error)) {
	t.finalizers = append(t.finalizers, fn)
}

type notx struct {
	gdb *gorm.DB
}

func (t *notx) DB() *gorm.DB {
	return t.gdb
}

func (t *notx) FullTransaction() bool {
	return false
}

func (t *notx) AddPreCommit(fn func(ctx context.Context, tx DBTX) error) {
	panic("pre-commit used on NOTX")
}

func (t *notx) AddPostCommit(fn func(ctx context.Context)) {
	panic("post-commit used on NOTX")
}

func (t *notx) AddFinalizer(fn func(ctx context.Context, err error)) {
	panic("finalizer used on NOTX")
}
