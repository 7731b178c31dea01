// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package errors_test

import (
	"fmt"
	"strings"
	"testing"

	"github.com/molecula/aws-bill-analysis/errors"
	"github.com/stretchr/testify/assert"
)

func TestErrors(t *testing.T) {
	t.Run("Is", func(t *testing.T) {
		schema := errors.New(errors.ErrSchemaMismatch, "no column lineItem/Foo")
		ts := errors.Newf(errors.ErrMissingTimestamp, "record %d has no start", 3)

		tests := []struct {
			err    error
			target errors.Code
			exp    bool
		}{
			{err: schema, target: errors.ErrSchemaMismatch, exp: true},
			{err: schema, target: errors.ErrMissingTimestamp, exp: false},
			{err: ts, target: errors.ErrMissingTimestamp, exp: true},
			{err: errors.Wrap(ts, "conditioning"), target: errors.ErrMissingTimestamp, exp: true},
			{err: fmt.Errorf("plain"), target: errors.ErrUncoded, exp: false},
		}

		for i, test := range tests {
			t.Run(fmt.Sprintf("test-%d", i), func(t *testing.T) {
				assert.Equal(t, test.exp, errors.Is(test.err, test.target))
			})
		}
	})

	t.Run("CodeOf", func(t *testing.T) {
		assert.Equal(t, errors.ErrStreamBroken, errors.CodeOf(errors.Wrap(errors.New(errors.ErrStreamBroken, "eof"), "reading")))
		assert.Equal(t, errors.ErrUncoded, errors.CodeOf(fmt.Errorf("plain")))
	})

	t.Run("Fatal", func(t *testing.T) {
		assert.True(t, errors.Fatal(errors.New(errors.ErrSchemaMismatch, "x")))
		assert.True(t, errors.Fatal(errors.Wrap(errors.New(errors.ErrUnsupportedFormat, "x"), "opening")))
		assert.False(t, errors.Fatal(errors.New(errors.ErrStreamBroken, "x")))
		assert.False(t, errors.Fatal(errors.New(errors.ErrMalformedValue, "x")))
		assert.False(t, errors.Fatal(fmt.Errorf("plain")))
	})

	t.Run("MarshalJSON", func(t *testing.T) {
		err := errors.Wrap(errors.New(errors.ErrMalformedValue, "bad float"), "lineItem/UnblendedCost")
		out := errors.MarshalJSON(err)
		assert.True(t, strings.Contains(out, `"code":"MalformedValue"`), out)
		assert.True(t, strings.Contains(out, `"wrapped":"lineItem/UnblendedCost: bad float"`), out)

		out = errors.MarshalJSON(fmt.Errorf("plain"))
		assert.True(t, strings.Contains(out, `"code":""`), out)
	})
}
