// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package condition turns raw report rows into typed, enriched documents
// ready for indexing.
package condition

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/molecula/aws-bill-analysis/accounts"
	"github.com/molecula/aws-bill-analysis/errors"
	"github.com/molecula/aws-bill-analysis/logger"
	"github.com/molecula/aws-bill-analysis/manifest"
	"github.com/molecula/aws-bill-analysis/report"
)

// Well known record keys.
const (
	KeyLineItemID    = "identity/LineItemId"
	KeyTimeInterval  = "identity/TimeInterval"
	KeyIntervalStart = KeyTimeInterval + "/start"
	KeyIntervalEnd   = KeyTimeInterval + "/end"
	KeyTimestamp     = "@timestamp"

	KeyPayerAccountID       = "bill/PayerAccountId"
	KeyPayerAccountName     = "bill/PayerAccountName"
	KeyUsageAccountID       = "lineItem/UsageAccountId"
	KeyUsageAccountName     = "lineItem/UsageAccountName"
	KeyUsageAccountCustomer = "lineItem/UsageAccountCustomer"
	KeyCustomer             = "customer"
	KeyOwnership            = "ownership"
	KeyEnvironment          = "environment"
	KeyEnvironmentInternal  = "environment-internal"
)

// tagAliases maps resource tags onto the top level fields they are copied
// to, keyed by the tag name after colon removal.
var tagAliases = []struct{ tag, field string }{
	{"resourceTags/user_Customer", KeyCustomer},
	{"resourceTags/user_Environment", KeyEnvironment},
	{"resourceTags/user_EnvironmentInt", KeyEnvironmentInternal},
}

// timeLayouts are tried in order when parsing report timestamps.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// Options selects the conditioning steps to apply.
type Options struct {
	RemoveEmptyFields bool
	FormatDatatypes   bool
	RemoveColon       bool
	SpecialFixes      bool
}

// DefaultOptions enables every step.
func DefaultOptions() Options {
	return Options{
		RemoveEmptyFields: true,
		FormatDatatypes:   true,
		RemoveColon:       true,
		SpecialFixes:      true,
	}
}

// Record is a conditioned document. Values are string, time.Time, float64,
// or nil.
type Record map[string]interface{}

// Timestamp returns the record's @timestamp.
func (r Record) Timestamp() (time.Time, bool) {
	ts, ok := r[KeyTimestamp].(time.Time)
	return ts, ok
}

// Keys returns the record's keys in sorted order.
func (r Record) Keys() []string {
	keys := make([]string, 0, len(r))
	for k := range r {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Conditioner applies Options to raw records. It holds no mutable state
// and may be shared between goroutines.
type Conditioner struct {
	Manifest *manifest.Manifest
	Accounts accounts.Table
	Options  Options
	Log      logger.Logger
}

// NewConditioner returns a Conditioner for records of the report described
// by m.
func NewConditioner(m *manifest.Manifest, accts accounts.Table, opts Options, log logger.Logger) *Conditioner {
	if log == nil {
		log = logger.NopLogger
	}
	return &Conditioner{Manifest: m, Accounts: accts, Options: opts, Log: log}
}

// Condition returns a new record built from raw, which is left untouched.
// On error the partially conditioned record is returned alongside it.
func (c *Conditioner) Condition(raw report.RawRecord) (rec Record, err error) {
	rec = make(Record, len(raw)+4)
	for k, v := range raw {
		rec[k] = v
	}
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("conditioning record: %v", r)
		}
	}()

	if c.Options.RemoveEmptyFields {
		for k, v := range rec {
			if v == "" {
				delete(rec, k)
			}
		}
	}

	if c.Options.FormatDatatypes {
		if err := c.formatDatatypes(rec); err != nil {
			return rec, err
		}
	}

	if len(c.Accounts) > 0 {
		if err := c.enrich(rec); err != nil {
			return rec, err
		}
	}

	if c.Options.RemoveColon {
		for k, v := range rec {
			if strings.Contains(k, ":") {
				delete(rec, k)
				rec[strings.ReplaceAll(k, ":", "_")] = v
			}
		}
	}

	if c.Options.SpecialFixes {
		for _, alias := range tagAliases {
			if v, ok := rec[alias.tag]; ok {
				rec[alias.field] = v
			} else if v, ok := rec[strings.Replace(alias.tag, "user_", "user:", 1)]; ok {
				rec[alias.field] = v
			}
		}
		start, ok := rec[KeyIntervalStart]
		if !ok {
			return rec, errors.Newf(errors.ErrMissingTimestamp, "record has no %s", KeyIntervalStart)
		}
		rec[KeyTimestamp] = start
	}

	return rec, nil
}

// formatDatatypes converts rec's values in place. Keys are visited in
// sorted order so that the first error reported is stable.
func (c *Conditioner) formatDatatypes(rec Record) error {
	for _, k := range rec.Keys() {
		col, ok := c.Manifest.Lookup(k)
		if !ok {
			return errors.Newf(errors.ErrSchemaMismatch, "column %q is not in the manifest", k)
		}
		v, _ := rec[k].(string)
		switch col.Type {
		case manifest.String, manifest.OptionalString:
		case manifest.DateTime, manifest.OptionalDateTime:
			if v == "" {
				rec[k] = nil
				continue
			}
			ts, err := parseTime(v)
			if err != nil {
				return errors.Wrapf(err, "column %s", k)
			}
			rec[k] = ts
		case manifest.Interval:
			parts := strings.Split(v, "/")
			if len(parts) != 2 {
				return errors.Newf(errors.ErrMalformedValue, "column %s: interval %q is not start/end", k, v)
			}
			start, err := parseTime(parts[0])
			if err != nil {
				return errors.Wrapf(err, "column %s start", k)
			}
			end, err := parseTime(parts[1])
			if err != nil {
				return errors.Wrapf(err, "column %s end", k)
			}
			delete(rec, k)
			rec[k+"/start"] = start
			rec[k+"/end"] = end
		case manifest.BigDecimal, manifest.OptionalBigDecimal:
			if v == "" {
				rec[k] = nil
				continue
			}
			f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
			if err != nil {
				return errors.Newf(errors.ErrMalformedValue, "column %s: %q is not a decimal", k, v)
			}
			rec[k] = f
		default:
			return errors.Newf(errors.ErrUnknownColumnType, "column %s has unknown type %q", k, col.RawType)
		}
	}
	return nil
}

// enrich copies account details onto rec. An account id missing from the
// table fails the record.
func (c *Conditioner) enrich(rec Record) error {
	if id, _ := rec[KeyPayerAccountID].(string); id != "" {
		acct, ok := c.Accounts.Lookup(id)
		if !ok {
			return errors.Newf(errors.ErrMalformedValue, "payer account %s not in the account table", id)
		}
		rec[KeyPayerAccountName] = acct.Name
	}
	if id, _ := rec[KeyUsageAccountID].(string); id != "" {
		acct, ok := c.Accounts.Lookup(id)
		if !ok {
			return errors.Newf(errors.ErrMalformedValue, "usage account %s not in the account table", id)
		}
		rec[KeyUsageAccountName] = acct.Name
		rec[KeyUsageAccountCustomer] = acct.Customer
		rec[KeyCustomer] = acct.Customer
		rec[KeyOwnership] = acct.Ownership
	}
	return nil
}

func parseTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timeLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, errors.Newf(errors.ErrMalformedValue, "%q is not a timestamp", s)
}
