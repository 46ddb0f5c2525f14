package auth

import (
	"context"
	"net/url"
	"strings"
	"testing"

	"github.com/hitoshi/sociallogin/internal/model"
)

func TestDeveloperProvider_AuthCodeURL(t *testing.T) {
	got := NewDeveloperProvider().AuthCodeURL("abc")
	if !strings.HasPrefix(got, DeveloperLoginPath+"?") {
		t.Errorf("AuthCodeURL = %q, want prefix %q", got, DeveloperLoginPath)
	}
	if !strings.Contains(got, "state=abc") {
		t.Errorf("AuthCodeURL = %q, want state parameter", got)
	}
}

func TestDeveloperProvider_HandleCallback(t *testing.T) {
	p := NewDeveloperProvider()

	got, err := p.HandleCallback(context.Background(), url.Values{
		"name":  {"  Dev User "},
		"email": {"Dev@Example.COM"},
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.ProviderUserID != "dev@example.com" {
		t.Errorf("provider user ID = %q, want dev@example.com", got.ProviderUserID)
	}
	if got.Name != "Dev User" {
		t.Errorf("name = %q, want %q", got.Name, "Dev User")
	}
	if got.Provider != ProviderDeveloper {
		t.Errorf("provider = %q", got.Provider)
	}
}

func TestDeveloperProvider_HandleCallback_NameDefaultsToEmail(t *testing.T) {
	got, err := NewDeveloperProvider().HandleCallback(context.Background(), url.Values{"email": {"a@example.com"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Name != "a@example.com" {
		t.Errorf("name = %q, want email", got.Name)
	}
}

func TestDeveloperProvider_HandleCallback_InvalidEmail(t *testing.T) {
	for _, email := range []string{"", "not-an-email"} {
		_, err := NewDeveloperProvider().HandleCallback(context.Background(), url.Values{"email": {email}})
		assertAuthErrorKind(t, err, model.AuthErrInvalidCredentials)
	}
}
