// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package condition

import (
	"github.com/molecula/aws-bill-analysis/errors"
	"github.com/molecula/aws-bill-analysis/report"
)

// RawSource is a sequence of raw rows, such as a *report.Reader. Record
// returns io.EOF once the sequence is exhausted.
type RawSource interface {
	Record() (report.RawRecord, error)
}

// Stage conditions the records of a RawSource as they are pulled. Records
// which fail to condition are logged and dropped; the sequence continues.
type Stage struct {
	src         RawSource
	conditioner *Conditioner

	conditioned uint64
	dropped     uint64
}

// NewStage returns a Stage reading from src.
func NewStage(src RawSource, c *Conditioner) *Stage {
	return &Stage{src: src, conditioner: c}
}

// Record returns the next conditioned record. Errors from the source,
// io.EOF included, are returned as is. A record which does not fit the
// manifest's schema stops the sequence with an ErrSchemaMismatch error.
func (s *Stage) Record() (Record, error) {
	for {
		raw, err := s.src.Record()
		if err != nil {
			return nil, err
		}
		rec, err := s.conditioner.Condition(raw)
		if err != nil {
			if errors.Fatal(err) {
				return nil, err
			}
			s.dropped++
			CounterDroppedRecords.WithLabelValues(string(errors.CodeOf(err))).Inc()
			s.logDrop(err, rec)
			continue
		}
		s.conditioned++
		CounterConditionedRecords.Inc()
		return rec, nil
	}
}

// logDrop reports a dropped record. Only the first drop of a stage is
// logged as an error; later ones are logged at info. The record itself
// goes to the debug log.
func (s *Stage) logDrop(err error, rec Record) {
	log := s.conditioner.Log
	if s.dropped == 1 {
		log.Errorf("dropping record: %v (later drops in this file are logged at info)", err)
	} else {
		log.Infof("dropping record: %v", err)
	}
	log.Debugf("dropped record: %v", rec)
}

// Conditioned returns how many records have been yielded.
func (s *Stage) Conditioned() uint64 { return s.conditioned }

// Dropped returns how many records failed to condition.
func (s *Stage) Dropped() uint64 { return s.dropped }
