// Copyright 2025 Arion Yau
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

package journal

import (
	"path/filepath"
	"testing"
	"time"
)

func openJournal(t *testing.T) *Journal {
	t.Helper()
	j, err := Open(filepath.Join(t.TempDir(), "journal.db"))
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { j.Close() })
	return j
}

func TestJournalRecordAndRecent(t *testing.T) {
	j := openJournal(t)

	j.RecordRequest("invert", true, 12*time.Millisecond, 100, 100)
	j.RecordRequest("threshold", false, 3*time.Millisecond, 50, 20)
	j.RecordRequest("invert", true, 8*time.Millisecond, 200, 200)

	entries, err := j.Recent(2)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries, got %d", len(entries))
	}
	// Newest first.
	if entries[0].Op != "invert" || entries[0].RequestBytes != 200 {
		t.Errorf("Unexpected newest entry: %+v", entries[0])
	}
	if entries[1].Op != "threshold" || entries[1].OK {
		t.Errorf("Unexpected second entry: %+v", entries[1])
	}
}

func TestJournalSummary(t *testing.T) {
	j := openJournal(t)

	j.RecordRequest("invert", true, 10*time.Millisecond, 10, 10)
	j.RecordRequest("invert", false, 20*time.Millisecond, 10, 5)
	j.RecordRequest("flip_h", true, 5*time.Millisecond, 10, 10)

	summaries, err := j.Summary()
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if len(summaries) != 2 {
		t.Fatalf("Expected 2 ops, got %d", len(summaries))
	}
	// Sorted by op name.
	if summaries[0].Op != "flip_h" || summaries[0].Requests != 1 || summaries[0].Failures != 0 {
		t.Errorf("Unexpected flip_h summary: %+v", summaries[0])
	}
	if summaries[1].Op != "invert" || summaries[1].Requests != 2 || summaries[1].Failures != 1 {
		t.Errorf("Unexpected invert summary: %+v", summaries[1])
	}
	if summaries[1].AvgDurationMS < 14 || summaries[1].AvgDurationMS > 16 {
		t.Errorf("Expected ~15ms average, got %f", summaries[1].AvgDurationMS)
	}
}

func TestJournalEmpty(t *testing.T) {
	j := openJournal(t)

	entries, err := j.Recent(10)
	if err != nil {
		t.Fatalf("Recent failed: %v", err)
	}
	if len(entries) != 0 {
		t.Errorf("Expected no entries, got %d", len(entries))
	}
	summaries, err := j.Summary()
	if err != nil {
		t.Fatalf("Summary failed: %v", err)
	}
	if len(summaries) != 0 {
		t.Errorf("Expected no summaries, got %d", len(summaries))
	}
}
