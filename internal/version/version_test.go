package version

import (
	"strings"
	"testing"
)

func TestString(t *testing.T) {
	oldVersion, oldCommit := Version, GitCommit
	defer func() { Version, GitCommit = oldVersion, oldCommit }()

	tests := []struct {
		version, commit, want string
	}{
		{"dev", "unknown", "tankobon dev (commit unknown,"},
		{"1.2.3", "0123456789abcdef", "tankobon v1.2.3 (commit 0123456,"},
		{"1.2.3", "abc", "tankobon v1.2.3 (commit abc,"},
	}
	for _, tt := range tests {
		Version, GitCommit = tt.version, tt.commit
		if got := String(); !strings.HasPrefix(got, tt.want) {
			t.Errorf("String() = %q, want prefix %q", got, tt.want)
		}
	}
}

func TestGet(t *testing.T) {
	info := Get()
	if info.Version != Version || info.GoVersion == "" {
		t.Errorf("Get() = %+v", info)
	}
}
