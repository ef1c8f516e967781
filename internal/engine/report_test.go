package engine

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func sampleResult() *Result {
	return &Result{
		GeneratedAt: time.Date(2025, 11, 10, 12, 0, 0, 0, time.UTC),
		Summary:     Summary{Total: 2, ToUpdate: 1, UpToDate: 1},
		Decisions: []Decision{
			{UID: 742, Current: "8.5.0", Latest: "9.0.1", Action: ActionUpdated, Reason: "downloaded and manifest updated", FilePresent: true},
			{UID: 1621, Current: "8.0.0", Latest: "8.0.0", Action: ActionSkip, Reason: "already up-to-date", FilePresent: true},
		},
	}
}

func TestRenderTable(t *testing.T) {
	var buf strings.Builder
	RenderTable(&buf, sampleResult())
	out := buf.String()

	for _, want := range []string{"UID", "Current", "Latest", "Action", "Reason", "742", "9.0.1", "updated", "skip"} {
		if !strings.Contains(out, want) {
			t.Fatalf("table missing %q:\n%s", want, out)
		}
	}
	if !strings.Contains(out, "Total: 2 | To update: 1 | Up-to-date: 1 | Errors: 0 | Missing files: 0") {
		t.Fatalf("totals line missing:\n%s", out)
	}
}

func TestRenderTableTruncatesLongReason(t *testing.T) {
	res := sampleResult()
	res.Decisions[0].Reason = strings.Repeat("x", 80)
	var buf strings.Builder
	RenderTable(&buf, res)
	for _, line := range strings.Split(buf.String(), "\n") {
		if len(line) > 90 {
			t.Fatalf("row not truncated to column widths: %q", line)
		}
	}
}

func TestWriteReport(t *testing.T) {
	path := filepath.Join(t.TempDir(), "report.json")
	if err := WriteReport(path, sampleResult()); err != nil {
		t.Fatalf("write report: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read report: %v", err)
	}
	var parsed struct {
		GeneratedAt time.Time  `json:"generated_at"`
		Summary     Summary    `json:"summary"`
		Results     []Decision `json:"results"`
	}
	if err := json.Unmarshal(data, &parsed); err != nil {
		t.Fatalf("parse report: %v", err)
	}
	if parsed.Summary.Total != 2 || len(parsed.Results) != 2 {
		t.Fatalf("unexpected report content: %+v", parsed)
	}
	if parsed.Results[0].Action != ActionUpdated {
		t.Fatalf("unexpected action: %s", parsed.Results[0].Action)
	}
}
