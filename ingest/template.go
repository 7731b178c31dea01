// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ingest

import (
	"strings"
	"time"

	"github.com/lestrrat-go/strftime"
	"github.com/pkg/errors"
)

// DefaultIndexTemplate names one index per day of usage.
const DefaultIndexTemplate = "aws-billing-usage-{timestamp:%Y.%m.%d}"

// defaultTimestampFormat renders a bare {timestamp} placeholder.
const defaultTimestampFormat = "%Y.%m.%d"

// IndexTemplate renders index names from a record's timestamp. Literal text
// is copied; {timestamp} and {timestamp:<strftime pattern>} are replaced by
// the formatted timestamp.
type IndexTemplate struct {
	raw   string
	parts []templatePart
}

type templatePart struct {
	literal string
	format  *strftime.Strftime
}

// ParseIndexTemplate compiles s.
func ParseIndexTemplate(s string) (*IndexTemplate, error) {
	if s == "" {
		return nil, errors.New("empty index name template")
	}
	t := &IndexTemplate{raw: s}
	rest := s
	for rest != "" {
		open := strings.IndexByte(rest, '{')
		if open < 0 {
			t.parts = append(t.parts, templatePart{literal: rest})
			break
		}
		if open > 0 {
			t.parts = append(t.parts, templatePart{literal: rest[:open]})
		}
		end := strings.IndexByte(rest[open:], '}')
		if end < 0 {
			return nil, errors.Errorf("unterminated placeholder in index name template %q", s)
		}
		field := rest[open+1 : open+end]
		rest = rest[open+end+1:]

		name, pattern := field, defaultTimestampFormat
		if i := strings.IndexByte(field, ':'); i >= 0 {
			name, pattern = field[:i], field[i+1:]
		}
		if name != "timestamp" {
			return nil, errors.Errorf("unknown placeholder {%s} in index name template %q", name, s)
		}
		f, err := strftime.New(pattern)
		if err != nil {
			return nil, errors.Wrapf(err, "compiling timestamp format %q", pattern)
		}
		t.parts = append(t.parts, templatePart{format: f})
	}
	return t, nil
}

// MustParseIndexTemplate is ParseIndexTemplate which panics on error.
func MustParseIndexTemplate(s string) *IndexTemplate {
	t, err := ParseIndexTemplate(s)
	if err != nil {
		panic(err)
	}
	return t
}

// Static reports whether the template has no placeholders.
func (t *IndexTemplate) Static() bool {
	for _, p := range t.parts {
		if p.format != nil {
			return false
		}
	}
	return true
}

// Render returns the index name for a record stamped ts. Timestamps are
// rendered in UTC.
func (t *IndexTemplate) Render(ts time.Time) string {
	var sb strings.Builder
	for _, p := range t.parts {
		if p.format == nil {
			sb.WriteString(p.literal)
			continue
		}
		sb.WriteString(p.format.FormatString(ts.UTC()))
	}
	return sb.String()
}

// Pattern returns a wildcard pattern matching every index the template can
// render, e.g. "aws-billing-usage-*".
func (t *IndexTemplate) Pattern() string {
	var sb strings.Builder
	for _, p := range t.parts {
		if p.format == nil {
			sb.WriteString(p.literal)
		} else if !strings.HasSuffix(sb.String(), "*") {
			sb.WriteString("*")
		}
	}
	return sb.String()
}

func (t *IndexTemplate) String() string { return t.raw }
