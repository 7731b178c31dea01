// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package monitor forwards errors logged during a run to Sentry.
package monitor

import (
	"flag"
	"fmt"
	"sync/atomic"
	"time"

	sentry "github.com/getsentry/sentry-go"
	"github.com/pkg/errors"
)

const (
	LevelPanic = iota
	LevelError
	LevelWarn
	LevelInfo
	LevelDebug
)

const flushTimeout = 2 * time.Second

var isOn int32

// InitErrorMonitor initializes Sentry with the given DSN. An empty DSN leaves
// the monitor off.
func InitErrorMonitor(dsn, release string) error {
	if dsn == "" {
		return nil
	}
	err := sentry.Init(sentry.ClientOptions{
		Dsn:              dsn,
		AttachStacktrace: true,
		Release:          release,
	})
	if err != nil {
		return errors.Wrap(err, "initializing sentry")
	}
	atomic.StoreInt32(&isOn, 1)
	CaptureMessage("Session:Started")
	return nil
}

// CaptureMessage sends a message to Sentry.
func CaptureMessage(message string) {
	if !IsOn() || isTest() {
		return
	}
	sentry.CaptureMessage(message)
}

// CaptureException sends an error to Sentry. Only warnings and worse are
// sent.
func CaptureException(level int, format string, v ...interface{}) {
	if !IsOn() || isTest() {
		return
	}
	if level > LevelWarn {
		return
	}
	sentry.CaptureException(fmt.Errorf(format, v...))
}

// Flush waits for buffered events to be delivered.
func Flush() {
	if !IsOn() {
		return
	}
	sentry.Flush(flushTimeout)
}

// IsOn returns true if the monitor is enabled.
func IsOn() bool {
	return atomic.LoadInt32(&isOn) == 1
}

func isTest() bool {
	return flag.Lookup("test.v") != nil
}
