// Copyright 2018-2021 CERN
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
//
// In applying this license, CERN does not waive the privileges and immunities
// granted to it by virtue of its status as an Intergovernmental Organization
// or submit itself to any jurisdiction.

// Package errtypes holds the typed error categories shared by every Nexus
// component. Layers below the permission enforcer surface these typed
// errors; only the enforcer turns a PermissionDenied into a user-facing
// "access denied" message.
package errtypes

import "fmt"

// NotFound is returned when a path, content hash, or tuple is absent.
type NotFound string

func (e NotFound) Error() string { return string(e) + ": not found" }

// Conflict is returned on a uniqueness violation or a stale optimistic-lock
// generation.
type Conflict string

func (e Conflict) Error() string { return string(e) + ": conflict" }

// PermissionDenied is returned by the enforcer. Reason is one of
// no_grant, wrong_zone, admin_kill_switch, system_bypass_not_allowed, ...
type PermissionDenied struct {
	Path   string
	Reason string
}

func (e PermissionDenied) Error() string {
	if e.Reason == "" {
		return e.Path + ": permission denied"
	}
	return fmt.Sprintf("%s: permission denied (%s)", e.Path, e.Reason)
}

// ValidationError is returned when validate() rejects a value before a DB
// write.
type ValidationError string

func (e ValidationError) Error() string { return string(e) + ": invalid" }

// LimitExceeded is returned when a ReBAC graph ceiling is hit during
// traversal.
type LimitExceeded struct {
	LimitType  string // depth, fan_out, visited_nodes, tuple_queries, execution_time_ms
	LimitValue int64
	Actual     int64
	Path       string
}

func (e LimitExceeded) Error() string {
	return fmt.Sprintf("limit %s exceeded: %d > %d (path=%s)", e.LimitType, e.Actual, e.LimitValue, e.Path)
}

// HTTPStatus translates a LimitExceeded to the wire status the enforcer and
// any HTTP façade should use: 503 for a timeout, 429 for everything else.
func (e LimitExceeded) HTTPStatus() int {
	if e.LimitType == "execution_time_ms" {
		return 503
	}
	return 429
}

// Indeterminate is returned when ReBAC cannot reach a definite answer. It is
// always fail-closed and must never be cached.
type Indeterminate struct {
	Reason string
}

func (e Indeterminate) Error() string { return "indeterminate: " + e.Reason }

// BackendError wraps a storage/IO/JSON/lock-file failure raised by a named
// backend.
type BackendError struct {
	BackendName string
	Err         error
}

func (e BackendError) Error() string {
	return fmt.Sprintf("backend %s: %v", e.BackendName, e.Err)
}

func (e BackendError) Unwrap() error { return e.Err }

// StaleAgentError is a Conflict variant carrying the generation mismatch
// that caused an agent-record transition to be rejected.
type StaleAgentError struct {
	AgentID            string
	ExpectedGeneration int64
	ActualGeneration    int64
}

func (e StaleAgentError) Error() string {
	return fmt.Sprintf("agent %s: stale generation (expected %d, actual %d)", e.AgentID, e.ExpectedGeneration, e.ActualGeneration)
}

// IsNotFound reports whether err (or anything it wraps) is a NotFound.
func IsNotFound(err error) bool {
	_, ok := err.(NotFound)
	return ok
}

// IsConflict reports whether err is a Conflict.
func IsConflict(err error) bool {
	switch err.(type) {
	case Conflict, StaleAgentError:
		return true
	}
	return false
}

// IsPermissionDenied reports whether err is a PermissionDenied.
func IsPermissionDenied(err error) bool {
	_, ok := err.(PermissionDenied)
	return ok
}
