package monitoring

import (
	"fmt"
	"testing"
)

func TestPrefixedFollowsSetLogger(t *testing.T) {
	orig := Logf
	defer func() { Logf = orig }()

	var got []string
	SetLogger(func(format string, v ...interface{}) {
		got = append(got, fmt.Sprintf(format, v...))
	})

	logf := Prefixed("autoplot")
	logf("skipped %s", "run-1")

	if len(got) != 1 || got[0] != "[autoplot] skipped run-1" {
		t.Fatalf("got %q", got)
	}

	SetLogger(nil)
	logf("muted")
	if len(got) != 1 {
		t.Errorf("no-op logger still recorded: %q", got)
	}
}
