package sshbatch

import (
	"errors"
	"testing"
)

func TestClassifyDeterministic(t *testing.T) {
	err := errors.New("connection refused")
	a := Classify(err)
	b := Classify(err)
	if a.Kind != b.Kind || a.Retryable != b.Retryable {
		t.Fatalf("classify not deterministic: %+v vs %+v", a, b)
	}
}

func TestClassifyRules(t *testing.T) {
	tests := []struct {
		msg       string
		wantKind  ErrorKind
		retryable bool
	}{
		{"command rejected: dangerous verb", KindCommandValidation, false},
		{"open key: no such file or directory", KindKeyMaterial, false},
		{"ssh: unable to authenticate, no supported methods remain", KindAuthDenied, false},
		{"dial tcp: connection refused", KindNetworkTransient, true},
		{"dial tcp: i/o timeout", KindTimeout, true},
		{"context cancelled", KindCancelled, false},
		{"something completely unforeseen happened", KindUnknown, true},
	}

	for _, tt := range tests {
		got := Classify(errors.New(tt.msg))
		if got.Kind != tt.wantKind {
			t.Errorf("Classify(%q).Kind = %s, want %s", tt.msg, got.Kind, tt.wantKind)
		}
		if got.Retryable != tt.retryable {
			t.Errorf("Classify(%q).Retryable = %v, want %v", tt.msg, got.Retryable, tt.retryable)
		}
	}
}

func TestClassifyNil(t *testing.T) {
	if Classify(nil) != nil {
		t.Fatal("Classify(nil) should return nil")
	}
}

func TestClassifyPassesThroughErrorDescriptor(t *testing.T) {
	ed := &ErrorDescriptor{Kind: KindAuthDenied, Message: "x", Retryable: false}
	got := Classify(ed)
	if got != ed {
		t.Fatal("Classify should pass an existing *ErrorDescriptor through unchanged")
	}
}
