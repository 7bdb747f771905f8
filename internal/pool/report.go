package pool

import (
	"bytes"
	"fmt"
	"io"

	json "github.com/goccy/go-json"
)

// Report is the JSON document emitted for a set of pool snapshots.
type Report struct {
	Pools []ReportEntry `json:"pools"`
}

// ReportEntry pairs a snapshot with derived figures.
type ReportEntry struct {
	Snapshot
	HitRatio float64 `json:"hit_ratio"`
}

// NewReport wraps snapshots in a Report.
func NewReport(snapshots []Snapshot) Report {
	entries := make([]ReportEntry, 0, len(snapshots))
	for _, s := range snapshots {
		entries = append(entries, ReportEntry{Snapshot: s, HitRatio: s.HitRatio()})
	}
	return Report{Pools: entries}
}

// EncodeJSON marshals v without HTML escaping and without a trailing newline.
func EncodeJSON(v any) ([]byte, error) {
	buf := &bytes.Buffer{}
	encoder := json.NewEncoder(buf)
	encoder.SetEscapeHTML(false)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(v); err != nil {
		return nil, fmt.Errorf("json encode: %w", err)
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}

// WriteReport encodes a Report for snapshots and writes it to w.
func WriteReport(w io.Writer, snapshots []Snapshot) error {
	data, err := EncodeJSON(NewReport(snapshots))
	if err != nil {
		return err
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write report: %w", err)
	}
	return nil
}
