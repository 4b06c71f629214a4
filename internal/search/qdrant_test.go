package search

import "testing"

func TestParseURL(t *testing.T) {
	cases := []struct {
		in      string
		host    string
		port    int
		useTLS  bool
		wantErr bool
	}{
		{"https://xyz.cloud.qdrant.io:6333", "xyz.cloud.qdrant.io", 6334, true, false},
		{"http://localhost:6333", "localhost", 6334, false, false},
		{"http://localhost:6334", "localhost", 6334, false, false},
		{"https://qdrant.internal:7443", "qdrant.internal", 7443, true, false},
		{"http://qdrant", "qdrant", 6334, false, false},
		{"not a url", "", 0, false, true},
		{"", "", 0, false, true},
	}
	for _, tc := range cases {
		host, port, useTLS, err := parseURL(tc.in)
		if tc.wantErr {
			if err == nil {
				t.Errorf("parseURL(%q): expected error", tc.in)
			}
			continue
		}
		if err != nil {
			t.Errorf("parseURL(%q): %v", tc.in, err)
			continue
		}
		if host != tc.host || port != tc.port || useTLS != tc.useTLS {
			t.Errorf("parseURL(%q) = (%s, %d, %v), want (%s, %d, %v)",
				tc.in, host, port, useTLS, tc.host, tc.port, tc.useTLS)
		}
	}
}
