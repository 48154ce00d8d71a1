package logfields

import (
	"log/slog"
	"testing"
)

// TestHelperKeyNames verifies string-based helper key/value stability.
func TestHelperKeyNames(t *testing.T) {
	cases := []struct {
		name    string
		attrKey string
		attrVal string
		attr    slog.Attr
	}{
		{"BuildID", KeyBuildID, "b-1", BuildID("b-1")},
		{"Step", KeyStep, "compile", Step("compile")},
		{"StepStatus", KeyStepStatus, "successful", StepStatus("successful")},
		{"Command", KeyCommand, "copy a", Command("copy a")},
		{"OtherCommand", KeyOther, "copy b", OtherCommand("copy b")},
		{"Location", KeyLocation, "content:/out/a.bin", Location("content:/out/a.bin")},
		{"CacheKey", KeyCacheKey, "abcd", CacheKey("abcd")},
		{"Hash", KeyHash, "ef01", Hash("ef01")},
		{"RaceKind", KeyRaceKind, "conflicting_output", RaceKind("conflicting_output")},
		{"Path", KeyPath, "/tmp/x", Path("/tmp/x")},
		{"Worker", KeyWorker, "w1", Worker("w1")},
		{"Subject", KeySubject, "assetbuild.exec", Subject("assetbuild.exec")},
	}

	for _, tc := range cases {
		if tc.attr.Key != tc.attrKey {
			// Key drift would break log ingestion schemas.
			t.Fatalf("%s: expected key %s, got %s", tc.name, tc.attrKey, tc.attr.Key)
		}
		if got := tc.attr.Value.String(); got != tc.attrVal {
			t.Fatalf("%s: expected value %s, got %v", tc.name, tc.attrVal, got)
		}
	}
}

// TestNumericHelpers verifies keys for numeric & float helpers.
func TestNumericHelpers(t *testing.T) {
	if v := Generation(3); v.Key != KeyGeneration || v.Value.Int64() != 3 {
		t.Fatalf("Generation mismatch: %v", v)
	}
	if v := DurationMS(12.5); v.Key != KeyDurationMS {
		t.Fatalf("DurationMS key mismatch: %s", v.Key)
	}
}

// TestErrorHelper ensures Error() handles nil and non-nil errors predictably.
func TestErrorHelper(t *testing.T) {
	attr := Error(nil)
	if attr.Key != KeyError {
		t.Fatalf("Error key mismatch: %s", attr.Key)
	}
	if attr.Value.String() != "" {
		t.Fatalf("Expected empty error string, got %s", attr.Value.String())
	}
	attr = Error(errTest{})
	if attr.Value.String() != "err-test" {
		t.Fatalf("Expected 'err-test', got %s", attr.Value.String())
	}
}

type errTest struct{}

func (e errTest) Error() string { return "err-test" }
