// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package schema

import (
	"fmt"
	"sort"
	"strings"
)

// Render produces a deterministic natural-language description of the graph
// suitable for inclusion in a generation prompt.
//
// # Description
//
// The output lists every node label with its properties and observed value
// types, every relationship type, the structural edges that connect labels,
// and enumerated sample values for low-cardinality string properties. It
// closes with the query-dialect rules the target store enforces. Identical
// descriptors always render to identical text, so prompt caches keyed on
// the rendered form stay stable across restarts.
func Render(d *Descriptor) string {
	var b strings.Builder

	b.WriteString("## Graph Schema\n\n")
	b.WriteString("### Node Labels\n")
	for _, nt := range d.NodeTypes {
		fmt.Fprintf(&b, "- (:%s)\n", nt.Label)
		for _, p := range nt.Properties {
			fmt.Fprintf(&b, "    - %s: %s%s\n",
				p.Name, strings.Join(p.Types, "|"), renderEnum(d, nt.Label, p.Name))
		}
	}

	b.WriteString("\n### Relationship Types\n")
	for _, rt := range d.RelationshipTypes {
		fmt.Fprintf(&b, "- [:%s]\n", rt.Type)
		for _, p := range rt.Properties {
			fmt.Fprintf(&b, "    - %s: %s\n", p.Name, strings.Join(p.Types, "|"))
		}
	}

	b.WriteString("\n### Connections\n")
	for _, e := range d.StructuralEdges {
		fmt.Fprintf(&b, "- (:%s)-[:%s]->(:%s)\n", e.FromLabel, e.RelType, e.ToLabel)
	}

	b.WriteString("\n### Query Rules\n")
	b.WriteString(dialectRules)

	b.WriteString("\n### Worked Examples\n")
	b.WriteString(workedExamples)

	return b.String()
}

// renderEnum appends the enumerated values for a low-cardinality string
// property, or nothing when no enumeration was captured.
func renderEnum(d *Descriptor, label, prop string) string {
	byProp, ok := d.SampleValuesByLabel[label]
	if !ok {
		return ""
	}
	values, ok := byProp[prop]
	if !ok || len(values) == 0 {
		return ""
	}
	sorted := make([]string, len(values))
	copy(sorted, values)
	sort.Strings(sorted)
	var quoted []string
	for _, v := range sorted {
		quoted = append(quoted, fmt.Sprintf("%q", v))
	}
	return fmt.Sprintf(" (one of: %s)", strings.Join(quoted, ", "))
}

// dialectRules states the store's Cypher restrictions. The generator must
// see these verbatim or it produces queries the store rejects.
const dialectRules = `- Every variable used after a WITH clause must be carried through that WITH clause.
- There is no HAVING clause. Filter aggregates with WITH followed by WHERE.
- Every query that returns rows must end with a LIMIT clause.
- String matching is case-sensitive; use toLower() with CONTAINS for case-insensitive matching.
- Use parameters ($name) for user-supplied values instead of inlining literals.
- Return scalar columns with explicit aliases (RETURN u.name AS name), not bare nodes, when the question asks for specific fields.
`

// workedExamples shows the generator correct query shape against this
// dialect, including the WITH+WHERE aggregate filter it tends to get wrong.
const workedExamples = `Question: which users wrote the most reports?
MATCH (u:User)-[:AUTHORED]->(r:Report)
RETURN u.name AS user, count(r) AS reports
ORDER BY reports DESC
LIMIT 10

Question: which issues have more than five reports?
MATCH (r:Report)-[:MENTIONS]->(i:Issue)
WITH i, count(r) AS reports
WHERE reports > 5
RETURN i.description AS issue, reports
ORDER BY reports DESC
LIMIT 25

Question: find reports mentioning overheating
MATCH (r:Report)
WHERE toLower(r.content) CONTAINS $term
RETURN r.content AS report
LIMIT 25
`
