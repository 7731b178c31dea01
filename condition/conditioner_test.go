// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package condition

import (
	"fmt"
	"io"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/molecula/aws-bill-analysis/accounts"
	"github.com/molecula/aws-bill-analysis/errors"
	"github.com/molecula/aws-bill-analysis/logger"
	"github.com/molecula/aws-bill-analysis/manifest"
	"github.com/molecula/aws-bill-analysis/report"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func loadManifest(t *testing.T) *manifest.Manifest {
	t.Helper()
	f, err := os.Open("../manifest/testdata/cost-report-Manifest.json")
	require.NoError(t, err)
	defer f.Close()
	m, err := manifest.Decode(f)
	require.NoError(t, err)
	return m
}

func rawRecord() report.RawRecord {
	return report.RawRecord{
		"identity/LineItemId":           "li-1",
		"identity/TimeInterval":         "2023-01-01T00:00:00Z/2023-01-01T01:00:00Z",
		"bill/PayerAccountId":           "111111111111",
		"bill/BillingPeriodStartDate":   "2023-01-01T00:00:00Z",
		"lineItem/UsageAccountId":       "222222222222",
		"lineItem/UsageStartDate":       "2023-01-01T00:00:00Z",
		"lineItem/UnblendedCost":        "12.50",
		"lineItem/UsageAmount":          "",
		"resourceTags/user:Customer":    "acme",
		"resourceTags/user:Environment": "",
	}
}

var testAccounts = accounts.Table{
	"111111111111": {ID: "111111111111", Name: "payer"},
	"222222222222": {ID: "222222222222", Name: "workloads", Customer: "globex", Ownership: "platform"},
}

func TestConditionDefaults(t *testing.T) {
	c := NewConditioner(loadManifest(t), nil, DefaultOptions(), nil)
	raw := rawRecord()
	rec, err := c.Condition(raw)
	require.NoError(t, err)

	start := time.Date(2023, 1, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, Record{
		"identity/LineItemId":         "li-1",
		"identity/TimeInterval/start": start,
		"identity/TimeInterval/end":   start.Add(time.Hour),
		"bill/PayerAccountId":         "111111111111",
		"bill/BillingPeriodStartDate": start,
		"lineItem/UsageAccountId":     "222222222222",
		"lineItem/UsageStartDate":     start,
		"lineItem/UnblendedCost":      12.5,
		"resourceTags/user_Customer":  "acme",
		"customer":                    "acme",
		"@timestamp":                  start,
	}, rec)

	// The input is left as it was.
	assert.Equal(t, rawRecord(), raw)

	ts, ok := rec.Timestamp()
	assert.True(t, ok)
	assert.Equal(t, start, ts)
}

func TestConditionKeepEmpty(t *testing.T) {
	opts := DefaultOptions()
	opts.RemoveEmptyFields = false
	c := NewConditioner(loadManifest(t), nil, opts, nil)
	rec, err := c.Condition(rawRecord())
	require.NoError(t, err)

	v, ok := rec["lineItem/UsageAmount"]
	assert.True(t, ok)
	assert.Nil(t, v)
	assert.Equal(t, "", rec["resourceTags/user_Environment"])
	assert.Equal(t, "", rec["environment"])
}

func TestConditionKeepColon(t *testing.T) {
	opts := DefaultOptions()
	opts.RemoveColon = false
	c := NewConditioner(loadManifest(t), nil, opts, nil)
	rec, err := c.Condition(rawRecord())
	require.NoError(t, err)

	assert.Equal(t, "acme", rec["resourceTags/user:Customer"])
	assert.NotContains(t, rec, "resourceTags/user_Customer")
	assert.Equal(t, "acme", rec["customer"])
}

func TestConditionRawStrings(t *testing.T) {
	c := NewConditioner(loadManifest(t), nil, Options{RemoveColon: true}, nil)
	rec, err := c.Condition(rawRecord())
	require.NoError(t, err)

	assert.Equal(t, "12.50", rec["lineItem/UnblendedCost"])
	assert.Equal(t, "2023-01-01T00:00:00Z/2023-01-01T01:00:00Z", rec["identity/TimeInterval"])
	assert.Equal(t, "acme", rec["resourceTags/user_Customer"])
	assert.NotContains(t, rec, "@timestamp")
}

func TestConditionEnrich(t *testing.T) {
	c := NewConditioner(loadManifest(t), testAccounts, DefaultOptions(), nil)

	raw := rawRecord()
	delete(raw, "resourceTags/user:Customer")
	rec, err := c.Condition(raw)
	require.NoError(t, err)
	assert.Equal(t, "payer", rec["bill/PayerAccountName"])
	assert.Equal(t, "workloads", rec["lineItem/UsageAccountName"])
	assert.Equal(t, "globex", rec["lineItem/UsageAccountCustomer"])
	assert.Equal(t, "globex", rec["customer"])
	assert.Equal(t, "platform", rec["ownership"])

	// A resource tag overrides the account's customer.
	rec, err = c.Condition(rawRecord())
	require.NoError(t, err)
	assert.Equal(t, "acme", rec["customer"])
	assert.Equal(t, "globex", rec["lineItem/UsageAccountCustomer"])

	t.Run("unknown account", func(t *testing.T) {
		for _, key := range []string{"bill/PayerAccountId", "lineItem/UsageAccountId"} {
			raw := rawRecord()
			raw[key] = "999999999999"
			rec, err := c.Condition(raw)
			assert.True(t, errors.Is(err, errors.ErrMalformedValue), "%s: got %v", key, err)
			assert.False(t, errors.Fatal(err))
			assert.Contains(t, err.Error(), "999999999999 not in the account table")
			assert.NotContains(t, rec, "lineItem/UsageAccountName")
		}
	})
}

func TestConditionErrors(t *testing.T) {
	m := loadManifest(t)
	tests := []struct {
		name string
		edit func(report.RawRecord)
		code errors.Code
	}{
		{
			name: "bad decimal",
			edit: func(r report.RawRecord) { r["lineItem/UnblendedCost"] = "twelve" },
			code: errors.ErrMalformedValue,
		},
		{
			name: "interval with one part",
			edit: func(r report.RawRecord) { r["identity/TimeInterval"] = "2023-01-01T00:00:00Z" },
			code: errors.ErrMalformedValue,
		},
		{
			name: "interval with bad end",
			edit: func(r report.RawRecord) { r["identity/TimeInterval"] = "2023-01-01T00:00:00Z/soon" },
			code: errors.ErrMalformedValue,
		},
		{
			name: "bad date",
			edit: func(r report.RawRecord) { r["lineItem/UsageStartDate"] = "yesterday" },
			code: errors.ErrMalformedValue,
		},
		{
			name: "no interval",
			edit: func(r report.RawRecord) { r["identity/TimeInterval"] = "" },
			code: errors.ErrMissingTimestamp,
		},
		{
			name: "column not in manifest",
			edit: func(r report.RawRecord) { r["lineItem/Mystery"] = "x" },
			code: errors.ErrSchemaMismatch,
		},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			raw := rawRecord()
			test.edit(raw)
			_, err := NewConditioner(m, nil, DefaultOptions(), nil).Condition(raw)
			require.Error(t, err)
			assert.Equal(t, test.code, errors.CodeOf(err), "got %v", err)
		})
	}
}

func TestConditionUnknownColumnType(t *testing.T) {
	m, err := manifest.Decode(strings.NewReader(`{
		"compression": "NONE",
		"contentType": "text/csv",
		"columns": [
			{"category": "identity", "name": "TimeInterval", "type": "Interval"},
			{"category": "lineItem", "name": "Blob", "type": "Binary"}
		]
	}`))
	require.NoError(t, err)

	c := NewConditioner(m, nil, DefaultOptions(), nil)
	_, err = c.Condition(report.RawRecord{
		"identity/TimeInterval": "2023-01-01T00:00:00Z/2023-01-01T01:00:00Z",
		"lineItem/Blob":         "x",
	})
	assert.True(t, errors.Is(err, errors.ErrUnknownColumnType), "got %v", err)
	assert.False(t, errors.Fatal(err))
}

func TestParseTime(t *testing.T) {
	want := time.Date(2023, 1, 2, 3, 4, 0, 0, time.UTC)
	for _, s := range []string{
		"2023-01-02T03:04:00Z",
		"2023-01-02T03:04:00.000Z",
		"2023-01-02T03:04Z",
		"2023-01-02T03:04:00",
		"2023-01-02 03:04:00",
	} {
		ts, err := parseTime(s)
		require.NoError(t, err, s)
		assert.True(t, want.Equal(ts), "%s parsed as %v", s, ts)
	}
	_, err := parseTime("01/02/2023")
	assert.Error(t, err)
}

// sliceSource yields its records in order, then err (io.EOF if nil).
type sliceSource struct {
	recs []report.RawRecord
	err  error
}

func (s *sliceSource) Record() (report.RawRecord, error) {
	if len(s.recs) == 0 {
		if s.err != nil {
			return nil, s.err
		}
		return nil, io.EOF
	}
	rec := s.recs[0]
	s.recs = s.recs[1:]
	return rec, nil
}

func TestStageDropsPoisonRecords(t *testing.T) {
	var recs []report.RawRecord
	for i := 0; i < 10; i++ {
		raw := rawRecord()
		if i == 4 {
			raw["lineItem/UnblendedCost"] = "NaN-ish"
		}
		if i == 7 {
			raw["identity/TimeInterval"] = ""
		}
		recs = append(recs, raw)
	}
	log := logger.NewBufferLogger()
	stage := NewStage(&sliceSource{recs: recs}, NewConditioner(loadManifest(t), nil, DefaultOptions(), log))

	n := 0
	for {
		_, err := stage.Record()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		n++
	}
	assert.Equal(t, 8, n)
	assert.Equal(t, uint64(8), stage.Conditioned())
	assert.Equal(t, uint64(2), stage.Dropped())
	assert.Contains(t, log.String(), "dropping record")
}

func TestStageLogsDrops(t *testing.T) {
	var recs []report.RawRecord
	for i := 0; i < 5; i++ {
		raw := rawRecord()
		raw["lineItem/UnblendedCost"] = fmt.Sprintf("bad-%d", i)
		recs = append(recs, raw)
	}
	recs = append(recs, rawRecord())
	log := logger.NewBufferLogger()
	stage := NewStage(&sliceSource{recs: recs}, NewConditioner(loadManifest(t), nil, DefaultOptions(), log))

	_, err := stage.Record()
	require.NoError(t, err)
	assert.Equal(t, uint64(5), stage.Dropped())

	out := log.String()
	assert.Equal(t, 1, strings.Count(out, "ERROR: dropping record"))
	assert.Equal(t, 4, strings.Count(out, "INFO:  dropping record"))
	assert.Equal(t, 5, strings.Count(out, "DEBUG: dropped record"))
	// Record contents stay out of the error line.
	for _, line := range strings.Split(out, "\n") {
		if strings.HasPrefix(line, "ERROR: ") {
			assert.NotContains(t, line, "li-1")
		}
	}
}

func TestStageDropsUnknownAccounts(t *testing.T) {
	known := rawRecord()
	unknown := rawRecord()
	unknown["lineItem/UsageAccountId"] = "999999999999"
	stage := NewStage(&sliceSource{recs: []report.RawRecord{unknown, known, unknown}},
		NewConditioner(loadManifest(t), testAccounts, DefaultOptions(), nil))

	var got []Record
	for {
		rec, err := stage.Record()
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		got = append(got, rec)
	}
	require.Len(t, got, 1)
	assert.Equal(t, "workloads", got[0]["lineItem/UsageAccountName"])
	assert.Equal(t, uint64(2), stage.Dropped())
	assert.Equal(t, uint64(1), stage.Conditioned())
}

func TestStageStopsOnSchemaMismatch(t *testing.T) {
	bad := rawRecord()
	bad["lineItem/Mystery"] = "x"
	stage := NewStage(&sliceSource{recs: []report.RawRecord{rawRecord(), bad, rawRecord()}},
		NewConditioner(loadManifest(t), nil, DefaultOptions(), nil))

	_, err := stage.Record()
	require.NoError(t, err)
	_, err = stage.Record()
	assert.True(t, errors.Is(err, errors.ErrSchemaMismatch), "got %v", err)
}

func TestStagePassesSourceErrors(t *testing.T) {
	broken := errors.New(errors.ErrStreamBroken, "unexpected EOF")
	stage := NewStage(&sliceSource{recs: []report.RawRecord{rawRecord()}, err: broken},
		NewConditioner(loadManifest(t), nil, DefaultOptions(), nil))

	_, err := stage.Record()
	require.NoError(t, err)
	_, err = stage.Record()
	assert.Equal(t, broken, err)
}
