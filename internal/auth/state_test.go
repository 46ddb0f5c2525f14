package auth

import (
	"strings"
	"testing"
	"time"
)

const testSecret = "test-session-secret-32bytes-long!"

func TestStateSigner_IssueAndVerify(t *testing.T) {
	s := NewStateSigner(testSecret)

	state, err := s.Issue("github")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if strings.Count(state, ".") != 2 {
		t.Errorf("state should be a JWT, got %q", state)
	}
	if err := s.Verify(state, "github"); err != nil {
		t.Errorf("Verify failed: %v", err)
	}
}

func TestStateSigner_UniquePerIssue(t *testing.T) {
	s := NewStateSigner(testSecret)
	a, _ := s.Issue("github")
	b, _ := s.Issue("github")
	if a == b {
		t.Error("states should differ by nonce")
	}
}

func TestStateSigner_RejectsInvalidStates(t *testing.T) {
	s := NewStateSigner(testSecret)
	valid, err := s.Issue("github")
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	other := NewStateSigner("another-secret-that-is-32-bytes!!")
	forged, _ := other.Issue("github")

	expiredSigner := NewStateSigner(testSecret)
	expiredSigner.now = func() time.Time { return time.Now().Add(-StateTTL - time.Minute) }
	expired, _ := expiredSigner.Issue("github")

	tests := []struct {
		name     string
		state    string
		provider string
	}{
		{"別プロバイダー向け", valid, "google"},
		{"別の鍵で署名", forged, "github"},
		{"期限切れ", expired, "github"},
		{"改ざん", valid + "x", "github"},
		{"JWTでない", "not-a-jwt", "github"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := s.Verify(tt.state, tt.provider); err == nil {
				t.Error("expected verification to fail")
			}
		})
	}
}
