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

import (
	"context"
	"os"
	"path"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testYAML = `
log:
  level: debug
db:
  type: sqlite
  sqlite:
    dsn: ":memory:"
    autoMigrate: true
    migrationsDir: ./db/migrations/sqlite
checker:
  referenceStatePolicy: tracked
  retry:
    maxAttempts: 2
  writer:
    batchMaxSize: 50
service:
  concurrency: 4
client:
  requestTimeout: 5s
  trustedKeys:
  - "0x5a8fc778e514420a3FBDceFbb6f1f129A546e96E"
bus:
  type: kafka
  kafka:
    brokers:
    - localhost:9092
signer:
  keyType: keystorev3
  keyFile: /keys/checker.key
  passwordFile: /keys/checker.pwd
metrics:
  enabled: true
  port: 9100
`

func TestReadAndParseYAMLFile(t *testing.T) {
	ctx := context.Background()
	confFile := path.Join(t.TempDir(), "uniqueness.yaml")
	err := os.WriteFile(confFile, []byte(testYAML), 0644)
	require.NoError(t, err)

	var conf UniquenessConfig
	err = ReadAndParseYAMLFile(ctx, confFile, &conf)
	require.NoError(t, err)

	assert.Equal(t, "debug", *conf.Log.Level)
	assert.Equal(t, "sqlite", conf.DB.Type)
	assert.Equal(t, ":memory:", conf.DB.SQLite.DSN)
	assert.True(t, *conf.DB.SQLite.AutoMigrate)
	assert.Equal(t, "tracked", *conf.Checker.ReferenceStatePolicy)
	assert.Equal(t, 2, *conf.Checker.Retry.MaxAttempts)
	assert.Nil(t, conf.Checker.Retry.InitialDelay)
	assert.Equal(t, 50, *conf.Checker.Writer.BatchMaxSize)
	assert.Equal(t, 4, *conf.Service.Concurrency)
	assert.Equal(t, "5s", *conf.Client.RequestTimeout)
	assert.Len(t, conf.Client.TrustedKeys, 1)
	assert.Equal(t, BusTypeKafka, conf.Bus.Type)
	assert.Equal(t, []string{"localhost:9092"}, conf.Bus.Kafka.Brokers)
	assert.Equal(t, "/keys/checker.key", conf.Signer.KeyFile)
	assert.True(t, *conf.Metrics.Enabled)
	assert.Equal(t, 9100, *conf.Metrics.Port)
}

func TestReadAndParseYAMLFileMissing(t *testing.T) {
	var conf UniquenessConfig
	err := ReadAndParseYAMLFile(context.Background(), path.Join(t.TempDir(), "missing.yaml"), &conf)
	assert.Regexp(t, "UQ010000", err)
}

func TestReadAndParseYAMLFileReadError(t *testing.T) {
	var conf UniquenessConfig
	err := ReadAndParseYAMLFile(context.Background(), t.TempDir(), &conf)
	assert.Regexp(t, "UQ010001", err)
}

func TestReadAndParseYAMLFileBadYAML(t *testing.T) {
	confFile := path.Join(t.TempDir(), "bad.yaml")
	err := os.WriteFile(confFile, []byte("log: [[[wrong"), 0644)
	require.NoError(t, err)

	var conf UniquenessConfig
	err = ReadAndParseYAMLFile(context.Background(), confFile, &conf)
	assert.Regexp(t, "UQ010002", err)
}
