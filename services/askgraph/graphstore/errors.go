// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package graphstore

import (
	"errors"
	"fmt"
	"strings"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// =============================================================================
// Error Codes
// =============================================================================

// ErrCode classifies a store failure for retry and repair decisions.
type ErrCode string

const (
	// ErrCodeTransient marks connectivity and leader-switch failures that a
	// retry with backoff can absorb.
	ErrCodeTransient ErrCode = "transient"

	// ErrCodeMalformed marks syntax and semantic query failures. Retrying the
	// same text is pointless; the executor may attempt one repair pass.
	ErrCodeMalformed ErrCode = "malformed"

	// ErrCodeUnavailable marks failures before any statement ran (driver not
	// connected, auth rejected). Fatal to schema discovery.
	ErrCodeUnavailable ErrCode = "unavailable"

	// ErrCodeUnknown is everything else. Treated as non-retryable.
	ErrCodeUnknown ErrCode = "unknown"
)

// StoreError wraps a graph store failure with its classification and the
// query that produced it.
type StoreError struct {
	Code  ErrCode
	Query string
	Cause error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	return fmt.Sprintf("graph store %s error: %v", e.Code, e.Cause)
}

// Unwrap exposes the underlying driver error for errors.Is/As.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// NewStoreError builds a StoreError with the given classification.
func NewStoreError(code ErrCode, query string, cause error) *StoreError {
	return &StoreError{Code: code, Query: query, Cause: cause}
}

// IsTransient reports whether err carries a transient store classification.
func IsTransient(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Code == ErrCodeTransient
}

// IsMalformed reports whether err carries a malformed-query classification.
func IsMalformed(err error) bool {
	var se *StoreError
	return errors.As(err, &se) && se.Code == ErrCodeMalformed
}

// =============================================================================
// Driver Error Classification
// =============================================================================

// classify maps a raw driver error onto an ErrCode.
//
// Neo4j status codes follow the Neo.<class>.<category>.<title> convention.
// Statement and Schema client errors mean the query text is wrong; transient
// classes and connectivity faults are worth retrying.
func classify(err error) ErrCode {
	if err == nil {
		return ErrCodeUnknown
	}

	if neo4j.IsConnectivityError(err) {
		return ErrCodeTransient
	}

	var neoErr *neo4j.Neo4jError
	if errors.As(err, &neoErr) {
		switch {
		case strings.HasPrefix(neoErr.Code, "Neo.TransientError"):
			return ErrCodeTransient
		case strings.HasPrefix(neoErr.Code, "Neo.ClientError.Statement"),
			strings.HasPrefix(neoErr.Code, "Neo.ClientError.Schema"):
			return ErrCodeMalformed
		case strings.HasPrefix(neoErr.Code, "Neo.ClientError.Security"):
			return ErrCodeUnavailable
		case strings.HasPrefix(neoErr.Code, "Neo.DatabaseError"):
			return ErrCodeTransient
		}
	}

	// Fall back to message sniffing for errors the driver does not type.
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "syntax"), strings.Contains(msg, "invalid input"),
		strings.Contains(msg, "unknown function"), strings.Contains(msg, "variable") && strings.Contains(msg, "not defined"):
		return ErrCodeMalformed
	case strings.Contains(msg, "connection"), strings.Contains(msg, "timeout"),
		strings.Contains(msg, "unavailable"):
		return ErrCodeTransient
	}

	return ErrCodeUnknown
}
