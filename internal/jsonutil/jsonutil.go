// Package jsonutil centralizes the JSON codec used for every on-disk record
// format (calibration logs, pattern persistence, the JSONL store): goccy/go-json,
// a drop-in encoding/json replacement already pulled in transitively by the
// retrieval pack's scraping stack, used here directly for its throughput on
// the high write-volume append-only logs C5 and C9 produce.
package jsonutil

import "github.com/goccy/go-json"

var (
	Marshal   = json.Marshal
	Unmarshal = json.Unmarshal
)

// NewEncoder and NewDecoder are re-exported so callers can stream to/from an
// io.Writer/io.Reader without buffering whole files in memory.
var (
	NewEncoder = json.NewEncoder
	NewDecoder = json.NewDecoder
)
