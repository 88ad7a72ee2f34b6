package main

import (
	"bytes"
	"testing"
)

func TestMakeKeySuccessor(t *testing.T) {
	tests := []struct {
		name   string
		prefix []byte
		want   []byte
	}{
		{"simple", []byte("abc"), []byte("abd")},
		{"single byte", []byte("a"), []byte("b")},
		{"trailing 0xFF truncates", []byte{'a', 0xFF, 0xFF}, []byte{'b'}},
		{"all 0xFF unbounded", []byte{0xFF, 0xFF}, nil},
		{"empty prefix unbounded", nil, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := makeKeySuccessor(tt.prefix)
			if !bytes.Equal(got, tt.want) {
				t.Errorf("makeKeySuccessor(%q) = %q, want %q", tt.prefix, got, tt.want)
			}
			if tt.want == nil && got != nil {
				t.Errorf("makeKeySuccessor(%q) = %v, want nil", tt.prefix, got)
			}
		})
	}

	// The successor must not alias the prefix
	prefix := []byte("key")
	succ := makeKeySuccessor(prefix)
	succ[0] = 'x'
	if prefix[0] != 'k' {
		t.Error("successor shares backing storage with the prefix")
	}
}
