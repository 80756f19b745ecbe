// Copyright (C) MongoDB, Inc. 2022-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

package connpool

// LogSink is an interface that can be implemented to provide a custom sink
// for the pool's logs. It matches the Info method of logr.Logger sinks, so
// adapters for logrus and friends drop in directly.
type LogSink interface {
	Info(level int, msg string, keysAndValues ...interface{})
}

// log levels passed to a LogSink.
const (
	logLevelInfo  = 0
	logLevelDebug = 1
)

type nopLogSink struct{}

func (nopLogSink) Info(int, string, ...interface{}) {}
