package version

import (
	"strings"
	"testing"
)

func TestStringIncludesBuildInfo(t *testing.T) {
	prev := Version
	Version = "v9.9.9"
	t.Cleanup(func() { Version = prev })

	out := String()
	for _, want := range []string{"sitedev v9.9.9", "commit: " + GitCommit, "built:  " + BuildTime} {
		if !strings.Contains(out, want) {
			t.Errorf("missing %q in %q", want, out)
		}
	}
}
