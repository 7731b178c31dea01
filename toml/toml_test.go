// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package toml

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDuration(t *testing.T) {
	d := Duration(90 * time.Second)
	assert.Equal(t, "1m30s", d.String())

	b, err := d.MarshalTOML()
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(b))

	var back Duration
	require.NoError(t, back.UnmarshalText([]byte("1m30s")))
	assert.Equal(t, d, back)
	assert.Error(t, back.UnmarshalText([]byte("soon")))
}
