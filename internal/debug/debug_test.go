package debug

import (
	"bufio"
	"strings"
	"testing"
)

func TestIsDebugBinary(t *testing.T) {
	tests := map[string]bool{
		"/tmp/__debug_bin3141592":  true,
		"__debug_bin":              true,
		"/usr/local/bin/fleetdash": false,
	}
	for program, want := range tests {
		if got := isDebugBinary(program); got != want {
			t.Errorf("%s: got %v", program, got)
		}
	}
}

func TestTraced(t *testing.T) {
	status := func(tracer string) *bufio.Scanner {
		return bufio.NewScanner(strings.NewReader("Name:\tfleetdash\nState:\tS (sleeping)\nTracerPid:\t" + tracer + "\nUid:\t0\n"))
	}
	if traced(status("0")) {
		t.Error("TracerPid 0 reported as traced")
	}
	if !traced(status("4242")) {
		t.Error("TracerPid 4242 not reported as traced")
	}
	if traced(bufio.NewScanner(strings.NewReader("Name:\tfleetdash\n"))) {
		t.Error("missing TracerPid reported as traced")
	}
}
