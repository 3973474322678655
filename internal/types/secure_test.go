package types

import (
	"encoding/json"
	"fmt"
	"testing"
)

func TestSecretStringRedaction(t *testing.T) {
	s := SecretString("postgres://user:pw@db/crowdpark")

	if got := fmt.Sprintf("%v", s); got != redactedPlaceholder {
		t.Errorf("fmt output = %q, want placeholder", got)
	}

	b, err := json.Marshal(struct {
		URL SecretString `json:"url"`
	}{URL: s})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != `{"url":"***REDACTED***"}` {
		t.Errorf("json output = %s", b)
	}

	if s.Unmask() != "postgres://user:pw@db/crowdpark" {
		t.Error("Unmask should return the raw value")
	}
	if !s.IsSet() || SecretString("").IsSet() {
		t.Error("IsSet mismatch")
	}
}
