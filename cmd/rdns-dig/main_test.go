package main

import (
	"bytes"
	"fmt"
	"strings"
	"testing"
)

type testCase struct {
	args   []string
	stdout []string
	stderr string
}

// These cases never reach the network: they're rejected during flag/argument validation, before a
// Resolver is even constructed, so they're deterministic regardless of what upstreams are reachable.
var mainTestCases = []testCase{
	{[]string{}, []string{}, "At least one -server is required"},
	{[]string{"-server", "9.9.9.9"}, []string{}, "Require FQDN"},
	{[]string{"-server", "9.9.9.9", "example.net", "BADTYPE"}, []string{}, "Unrecognized qType"},
	{[]string{"-server", "9.9.9.9", "example.net", "AAAA", "goop"}, []string{}, "residual goop"},
	{[]string{"-server", "not-an-ip", "example.net"}, []string{}, "not a valid IPv4 or IPv6 literal"},
	{[]string{"-server", "9.9.9.9:notaport", "example.net"}, []string{}, "invalid port"},
}

func TestMain(t *testing.T) {
	for tx, tc := range mainTestCases {
		runTest(t, tx, tc)
	}
}

// runTest is shared with usage_test.go
func runTest(t *testing.T, tx int, tc testCase) {
	t.Run(fmt.Sprintf("%d", tx), func(t *testing.T) {
		args := append([]string{"rdns-dig"}, tc.args...)
		out := &bytes.Buffer{}
		err := &bytes.Buffer{}
		mainInit(out, err)
		ec := mainExecute(args)

		outStr := out.String()
		errStr := err.String()

		if ec != 0 && len(tc.stderr) == 0 {
			t.Error("Unexpected non-zero exit code", ec, outStr, errStr)
		}
		if len(errStr) > 0 && len(tc.stderr) == 0 {
			t.Error("Did not expect stderr:", errStr)
		}
		if len(tc.stderr) > 0 && !strings.Contains(errStr, tc.stderr) {
			t.Error("Stderr expected:\n", tc.stderr, "Got:\n", errStr, args)
		}
		for _, o := range tc.stdout {
			if !strings.Contains(outStr, o) {
				t.Error("Stdout expected:\n", o, "Got:\n", outStr, args)
			}
		}
	})
}

func TestSplitHostPort(t *testing.T) {
	host, port, err := splitHostPort("9.9.9.9")
	if err != nil || host != "9.9.9.9" || port != 53 {
		t.Error("expected default port 53, got", host, port, err)
	}

	host, port, err = splitHostPort("9.9.9.9:5353")
	if err != nil || host != "9.9.9.9" || port != 5353 {
		t.Error("expected explicit port 5353, got", host, port, err)
	}

	host, port, err = splitHostPort("[2620:fe::fe]:53")
	if err != nil || host != "2620:fe::fe" || port != 53 {
		t.Error("expected IPv6 literal split, got", host, port, err)
	}
}
