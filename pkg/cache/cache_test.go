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

package cache

import (
	"fmt"
	"testing"

	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/confutil"
	"github.com/LF-Decentralized-Trust-labs/paladin/uniqueness/pkg/ucconf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCache(t *testing.T) {

	c := NewCache[string, string](&ucconf.CacheConfig{}, &ucconf.CacheConfig{Capacity: confutil.P(1)})

	c.Set("key1", "val1")
	v, ok := c.Get("key1")
	assert.True(t, ok)
	assert.Equal(t, "val1", v)

	c.Set("key2", "val2")
	v, ok = c.Get("key2")
	assert.True(t, ok)
	assert.Equal(t, "val2", v)

	_, ok = c.Get("key1")
	assert.False(t, ok)

	c.Delete("key2")
	_, ok = c.Get("key2")
	assert.False(t, ok)

	c.Set("key3", "val3")
	c.Clear()
	_, ok = c.Get("key3")
	assert.False(t, ok)

	assert.Equal(t, 1, c.Capacity())
}

func TestCacheGetOrLoad(t *testing.T) {
	c := NewCache[string, int](&ucconf.CacheConfig{Capacity: confutil.P(10)}, &ucconf.CacheConfig{Capacity: confutil.P(1)})

	loads := 0
	loader := func(key string) (int, bool, error) {
		loads++
		switch key {
		case "present":
			return 42, true, nil
		case "broken":
			return 0, false, fmt.Errorf("pop")
		default:
			return 0, false, nil
		}
	}

	v, found, err := c.GetOrLoad("present", loader)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, 42, v)
	_, _, _ = c.GetOrLoad("present", loader)
	assert.Equal(t, 1, loads)

	_, found, err = c.GetOrLoad("missing", loader)
	require.NoError(t, err)
	assert.False(t, found)
	_, _, _ = c.GetOrLoad("missing", loader)
	assert.Equal(t, 3, loads)

	_, found, err = c.GetOrLoad("broken", loader)
	assert.Regexp(t, "pop", err)
	assert.False(t, found)
}
