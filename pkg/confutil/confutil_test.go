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

package confutil

import (
	"io/fs"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestInt(t *testing.T) {
	assert.Equal(t, 12345, Int(nil, 12345))
	assert.Equal(t, 23456, Int(P(23456), 12345))
	assert.Equal(t, 1, IntMin(P(0), 1, 10))
	assert.Equal(t, 10, IntMin(nil, 1, 10))
	assert.Equal(t, 5, IntMin(P(5), 1, 10))
}

func TestFloat64Min(t *testing.T) {
	assert.Equal(t, 2.0, Float64Min(nil, 1.0, 2.0))
	assert.Equal(t, 1.0, Float64Min(P(0.5), 1.0, 2.0))
	assert.Equal(t, 1.5, Float64Min(P(1.5), 1.0, 2.0))
}

func TestBool(t *testing.T) {
	assert.True(t, Bool(nil, true))
	assert.False(t, Bool(nil, false))
	assert.True(t, Bool(P(true), false))
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "def", StringNotEmpty(nil, "def"))
	assert.Equal(t, "def", StringNotEmpty(P(""), "def"))
	assert.Equal(t, "val", StringNotEmpty(P("val"), "def"))
	assert.Equal(t, "", StringOrEmpty(P(""), "def"))
	assert.Equal(t, "def", StringOrEmpty(nil, "def"))
	assert.Equal(t, []string{"a"}, StringSlice(nil, []string{"a"}))
	assert.Equal(t, []string{}, StringSlice([]string{}, []string{"a"}))
}

func TestUnixFileMode(t *testing.T) {
	assert.Equal(t, fs.FileMode(0600), UnixFileMode(nil, "0600"))
	assert.Equal(t, fs.FileMode(0644), UnixFileMode(P("0644"), "0600"))
	assert.Equal(t, fs.FileMode(0600), UnixFileMode(P("wrong"), "0600"))
	assert.Equal(t, fs.FileMode(0600), UnixFileMode(P("1777"), "0600"))
}

func TestDurationMin(t *testing.T) {
	assert.Equal(t, 50*time.Second, DurationMin(nil, 0, "50s"))
	assert.Equal(t, 50*time.Second, DurationMin(P("wrong"), 0, "50s"))
	assert.Equal(t, 100*time.Millisecond, DurationMin(P("100ms"), 0, "50s"))
	assert.Equal(t, time.Second, DurationMin(P("100ms"), time.Second, "50s"))
}

func TestByteSize(t *testing.T) {
	assert.Equal(t, int64(1024), ByteSize(nil, 0, "1Kb"))
	assert.Equal(t, int64(1024), ByteSize(P("wrong"), 0, "1Kb"))
	assert.Equal(t, int64(2*1024*1024), ByteSize(P("2Mb"), 0, "1Kb"))
	assert.Equal(t, int64(4096), ByteSize(P("1Kb"), 4096, "1Kb"))
}
