// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package schema discovers the feedback graph's shape at runtime and renders
// it into the natural-language document the query translator is grounded on.
// Discovery runs once per process lifetime; the resulting descriptor is
// immutable and shared by every request.
package schema

import "errors"

// ErrUnavailable is returned (wrapped) when introspection queries cannot run.
// The HTTP layer gates readiness on discovery succeeding, so this error is
// fatal to query traffic.
var ErrUnavailable = errors.New("schema unavailable")

// Property describes one property observed on a node label or relationship
// type, with the set of value types seen in the sample.
type Property struct {
	Name  string
	Types []string
}

// NodeType is a node label with its observed properties.
type NodeType struct {
	Label      string
	Properties []Property
}

// RelationshipType is a relationship type with its observed properties.
type RelationshipType struct {
	Type       string
	Properties []Property
}

// StructuralEdge is one observed (fromLabel)-[relType]->(toLabel) triple.
type StructuralEdge struct {
	FromLabel string
	RelType   string
	ToLabel   string
}

// Descriptor is the discovered shape of the graph.
//
// # Description
//
// Built once per process by Discoverer.Discover and cached by Cache for the
// process lifetime. Treated as immutable after construction. Schema drift in
// the store is picked up on the next restart.
type Descriptor struct {
	NodeTypes         []NodeType
	RelationshipTypes []RelationshipType
	StructuralEdges   []StructuralEdge

	// SampleValuesByLabel maps label → property → representative values.
	// Only low-cardinality string properties are recorded; the renderer uses
	// them to ground fuzzy matching and show the translator realistic data.
	SampleValuesByLabel map[string]map[string][]string

	// RenderedDescription is the deterministic natural-language document
	// handed to the generative translator. Built by Render.
	RenderedDescription string
}

// HasProperty reports whether any node label or relationship type carries a
// property with the given name. Used to distinguish "not tracked" from
// "no matching rows".
func (d *Descriptor) HasProperty(name string) bool {
	for _, nt := range d.NodeTypes {
		for _, p := range nt.Properties {
			if p.Name == name {
				return true
			}
		}
	}
	for _, rt := range d.RelationshipTypes {
		for _, p := range rt.Properties {
			if p.Name == name {
				return true
			}
		}
	}
	return false
}
