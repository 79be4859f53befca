package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	origVersion, origCommit, origBuildTime := Version, Commit, BuildTime
	defer func() {
		Version, Commit, BuildTime = origVersion, origCommit, origBuildTime
	}()

	Version = "0.4.1"
	Commit = "9f3c2aa"
	BuildTime = "2026-03-09T00:30:00Z"

	result := String()
	expected := "0.4.1 (9f3c2aa) built 2026-03-09T00:30:00Z"
	if result != expected {
		t.Errorf("String() = %q, want %q", result, expected)
	}
}

func TestDefaultValues(t *testing.T) {
	// ldflags may override these in release builds
	for name, v := range map[string]string{"Version": Version, "Commit": Commit, "BuildTime": BuildTime} {
		if v == "" {
			t.Errorf("%s should not be empty", name)
		}
	}
	if !strings.Contains(String(), "built") {
		t.Errorf("String() = %q, should contain 'built'", String())
	}
}
