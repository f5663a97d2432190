// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// template_cache_dump inspects the askgraph template embedding cache.
//
// The translator persists one gob-encoded vector map per template-catalog
// revision in BadgerDB, keyed by the catalog's corpus hash, so restarts skip
// re-embedding an unchanged catalog. This tool opens that cache read-only
// and reports each stored revision: its corpus hash, remaining TTL, and the
// dimension and L2 norm of every template vector. A norm far from 1.0 flags
// a vector that would skew the matcher's cosine scores.
//
// Usage:
//
//	template_cache_dump [--path /path/to/template/cache]
//
// Without --path the tool reads TEMPLATE_CACHE_DIR, then falls back to
// ~/.feedbackgraph/cache/templates. A missing or empty cache is reported
// and exits 0; only open/read failures exit 1.
package main

import (
	"bytes"
	"encoding/gob"
	"flag"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	dgbadger "github.com/dgraph-io/badger/v4"
)

// templateCacheKeyPrefix must match embedding_cache.go exactly.
const templateCacheKeyPrefix = "askgraph/tmpl/v1/"

// cacheRecord is one persisted catalog revision.
type cacheRecord struct {
	corpusHash string
	ttl        time.Duration
	hasTTL     bool
	byteSize   int
	vectors    map[string][]float32
	decodeErr  error
}

func main() {
	pathFlag := flag.String("path", "", "Template cache BadgerDB directory (overrides TEMPLATE_CACHE_DIR)")
	flag.Parse()

	if err := run(resolveCachePath(*pathFlag)); err != nil {
		fmt.Fprintf(os.Stderr, "template_cache_dump: %v\n", err)
		os.Exit(1)
	}
}

func run(dbPath string) error {
	fmt.Printf("cache: %s\n", dbPath)

	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		fmt.Println("no cache directory yet; the service has not persisted any template embeddings")
		return nil
	}

	db, err := dgbadger.Open(dgbadger.DefaultOptions(dbPath).WithLogger(nil).WithReadOnly(true))
	if err != nil {
		return fmt.Errorf("open %s: %w", dbPath, err)
	}
	defer func() { _ = db.Close() }()

	records, err := readRecords(db)
	if err != nil {
		return fmt.Errorf("scan %s: %w", dbPath, err)
	}
	if len(records) == 0 {
		fmt.Println("cache is empty; embedding warm-up has not completed or the embedder was unavailable")
		return nil
	}

	fmt.Printf("revisions: %d\n", len(records))
	for _, rec := range records {
		printRecord(os.Stdout, rec)
	}
	return nil
}

// resolveCachePath applies the flag > env > home-dir default chain.
func resolveCachePath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if dir := os.Getenv("TEMPLATE_CACHE_DIR"); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".feedbackgraph", "cache", "templates")
	}
	return filepath.Join(home, ".feedbackgraph", "cache", "templates")
}

// readRecords scans every key under the template prefix and decodes the
// stored vector maps. Decode failures are carried on the record rather than
// aborting the scan, so one corrupt revision does not hide the rest.
func readRecords(db *dgbadger.DB) ([]cacheRecord, error) {
	var records []cacheRecord
	err := db.View(func(txn *dgbadger.Txn) error {
		it := txn.NewIterator(dgbadger.DefaultIteratorOptions)
		defer it.Close()

		prefix := []byte(templateCacheKeyPrefix)
		now := time.Now()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			rec := cacheRecord{
				corpusHash: strings.TrimPrefix(string(item.Key()), templateCacheKeyPrefix),
			}
			if exp := item.ExpiresAt(); exp > 0 {
				rec.hasTTL = true
				rec.ttl = time.Unix(int64(exp), 0).Sub(now)
			}

			raw, err := item.ValueCopy(nil)
			if err != nil {
				rec.decodeErr = err
				records = append(records, rec)
				continue
			}
			rec.byteSize = len(raw)

			var vectors map[string][]float32
			if err := gob.NewDecoder(bytes.NewReader(raw)).Decode(&vectors); err != nil {
				rec.decodeErr = err
			} else {
				rec.vectors = vectors
			}
			records = append(records, rec)
		}
		return nil
	})
	return records, err
}

func printRecord(out *os.File, rec cacheRecord) {
	fmt.Fprintf(out, "\nrevision %s (%d bytes)\n", rec.corpusHash, rec.byteSize)
	switch {
	case !rec.hasTTL:
		fmt.Fprintln(out, "  ttl: none")
	case rec.ttl < 0:
		fmt.Fprintf(out, "  ttl: expired %s ago\n", (-rec.ttl).Round(time.Second))
	default:
		fmt.Fprintf(out, "  ttl: %s remaining\n", rec.ttl.Round(time.Second))
	}
	if rec.decodeErr != nil {
		fmt.Fprintf(out, "  decode error: %v\n", rec.decodeErr)
		return
	}

	names := make([]string, 0, len(rec.vectors))
	for name := range rec.vectors {
		names = append(names, name)
	}
	sort.Strings(names)

	tw := tabwriter.NewWriter(out, 2, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "  template\tdims\tl2norm")
	for _, name := range names {
		vec := rec.vectors[name]
		fmt.Fprintf(tw, "  %s\t%d\t%.4f\n", name, len(vec), l2Norm(vec))
	}
	_ = tw.Flush()
}

func l2Norm(v []float32) float64 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	return math.Sqrt(sum)
}
