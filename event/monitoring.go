// Copyright (C) MongoDB, Inc. 2022-present.
//
// Licensed under the Apache License, Version 2.0 (the "License"); you may
// not use this file except in compliance with the License. You may obtain
// a copy of the License at http://www.apache.org/licenses/LICENSE-2.0

// Package event contains the types for pool lifecycle monitoring.
package event

// strings for pool event types
const (
	PoolCreated          = "ConnectionPoolCreated"
	PoolClosed           = "ConnectionPoolClosed"
	ConnectionCreated    = "ConnectionCreated"
	ConnectionClosed     = "ConnectionClosed"
	ConnectionCheckedOut = "ConnectionCheckedOut"
	ConnectionCheckedIn  = "ConnectionCheckedIn"
)

// strings for the Reason field of ConnectionClosed events
const (
	ReasonConnectionErrored = "connectionError"
	ReasonProbeFailed       = "probeFailed"
	ReasonPoolClosed        = "poolClosed"
)

// PoolEvent contains all information summarizing a pool event.
type PoolEvent struct {
	Type         string `json:"type"`
	ConnectionID uint64 `json:"connectionId"`
	PoolSize     int    `json:"poolSize"`
	Reason       string `json:"reason"`
}

// PoolMonitor allows the user to observe events occurring in the pool. A nil
// monitor or a nil Event function disables monitoring.
type PoolMonitor struct {
	Event func(*PoolEvent)
}
