package store_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/amois3/matrixwatcher/internal/store"
)

func TestWriteFlushBuffering(t *testing.T) {
	dir := t.TempDir()
	cfg := store.DefaultConfig(dir)
	cfg.BufferSize = 1000
	s := store.New(cfg)

	base := 1_700_000_000.0
	for i := 0; i < 1500; i++ {
		require.NoError(t, s.Write("system", store.Record{
			"timestamp": base + float64(i),
			"source":    "system",
			"seq":       i,
		}))
	}

	// First 1000 flushed automatically; remaining 500 still buffered until
	// an explicit Flush (§4.9, scenario F).
	recs, err := s.Read("system", base, base+1499, nil)
	require.NoError(t, err)
	require.Len(t, recs, 1000)

	require.NoError(t, s.Flush("system"))
	recs, err = s.Read("system", base, base+1499, nil)
	require.NoError(t, err)
	require.Len(t, recs, 1500)
	for i, r := range recs {
		require.Equal(t, float64(i), r["seq"])
	}
}

func TestWriteRejectsMissingTimestamp(t *testing.T) {
	s := store.New(store.DefaultConfig(t.TempDir()))
	err := s.Write("crypto", store.Record{"source": "crypto"})
	require.Error(t, err)
}

func TestReadSkipsMalformedLines(t *testing.T) {
	dir := t.TempDir()
	s := store.New(store.DefaultConfig(dir))
	require.NoError(t, s.Write("quantum_rng", store.Record{"timestamp": 1_700_000_000.0, "source": "quantum_rng", "v": 1}))
	require.NoError(t, s.Flush("quantum_rng"))

	// 1_700_000_000 falls on 2023-11-14 UTC; append a line that is not JSON.
	f, err := os.OpenFile(filepath.Join(dir, "quantum_rng", "2023-11-14.jsonl"), os.O_APPEND|os.O_WRONLY, 0o644)
	require.NoError(t, err)
	_, err = f.WriteString("{not json\n")
	require.NoError(t, err)
	require.NoError(t, f.Close())

	var warned []string
	recs, err := s.Read("quantum_rng", 1_700_000_000, 1_700_000_001, func(msg string) {
		warned = append(warned, msg)
	})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	require.Len(t, warned, 1)
}

func TestReadDateRangeOrdersByFileThenAppend(t *testing.T) {
	dir := t.TempDir()
	s := store.New(store.DefaultConfig(dir))
	day1 := 1_700_000_000.0    // 2023-11-14
	day2 := day1 + 86400       // next UTC day
	require.NoError(t, s.Write("earthquake", store.Record{"timestamp": day2, "source": "earthquake", "n": "b"}))
	require.NoError(t, s.Write("earthquake", store.Record{"timestamp": day1, "source": "earthquake", "n": "a"}))
	require.NoError(t, s.Flush("earthquake"))

	recs, err := s.Read("earthquake", day1-1, day2+1, nil)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	require.Equal(t, "a", recs[0]["n"])
	require.Equal(t, "b", recs[1]["n"])
}
