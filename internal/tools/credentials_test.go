package tools

import (
	"context"
	"testing"
)

func TestCredentialRoundTrip(t *testing.T) {
	ctx := WithCredentials(context.Background(), map[string]string{"github": "tok-1"})
	if v, ok := Credential(ctx, "github"); !ok || v != "tok-1" {
		t.Errorf("Credential = %q, %v", v, ok)
	}
	if _, ok := Credential(ctx, "openai"); ok {
		t.Error("unknown provider resolved")
	}
	if _, ok := Credential(context.Background(), "github"); ok {
		t.Error("bare context resolved a credential")
	}
}

func TestWithCredentialsEmptyIsNoop(t *testing.T) {
	base := context.Background()
	if got := WithCredentials(base, nil); got != base {
		t.Error("nil credentials should return the context unchanged")
	}
	if got := WithCredentials(base, map[string]string{}); got != base {
		t.Error("empty credentials should return the context unchanged")
	}
}
