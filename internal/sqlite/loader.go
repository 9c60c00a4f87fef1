// This file loads a JSONL backup back into the record collections.
package sqlite

import (
	"encoding/json"
	"os"

	"github.com/mesh-intelligence/tillsync/pkg/types"
)

// ImportReport counts what ImportJSONL loaded per collection.
type ImportReport struct {
	Loaded  map[string]int `json:"loaded" yaml:"loaded"`
	Skipped map[string]int `json:"skipped" yaml:"skipped"`
}

// ImportJSONL replaces each collection that has a dir/<collection>.jsonl
// file with that file's records. Collections without a file are untouched.
// Malformed lines and records without an id are skipped. Each collection is
// replaced in its own transaction; there is no all-or-nothing guarantee
// across collections.
func (b *Backend) ImportJSONL(dir string) (ImportReport, error) {
	report := ImportReport{Loaded: map[string]int{}, Skipped: map[string]int{}}
	for _, coll := range types.LocalCollections {
		path := jsonlFile(dir, coll)
		if !fileExists(path) {
			continue
		}
		records, skipped, err := readJSONL(path)
		if err != nil {
			return report, &types.StoreError{Op: "import", Collection: coll, Err: err}
		}
		valid := make([]json.RawMessage, 0, len(records))
		for _, rec := range records {
			if _, err := types.ParseHeader(rec); err != nil {
				skipped++
				continue
			}
			valid = append(valid, rec)
		}
		if err := b.ReplaceAll(coll, valid); err != nil {
			return report, err
		}
		report.Loaded[coll] = len(valid)
		report.Skipped[coll] = skipped
	}
	return report, nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
