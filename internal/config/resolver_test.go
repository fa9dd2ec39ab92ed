package config

import "testing"

func TestResolveIMAPServer_KnownProviders(t *testing.T) {
	tests := []struct {
		email string
		want  string
	}{
		{"user@gmail.com", "imap.gmail.com:993"},
		{"user@GMAIL.com", "imap.gmail.com:993"},
		{"user@outlook.com", "outlook.office365.com:993"},
		{"user@yandex.ru", "imap.yandex.ru:993"},
		{"user@icloud.com", "imap.mail.me.com:993"},
	}
	for _, tt := range tests {
		got, err := ResolveIMAPServer(tt.email)
		if err != nil {
			t.Fatalf("ResolveIMAPServer(%q) error: %v", tt.email, err)
		}
		if got != tt.want {
			t.Fatalf("ResolveIMAPServer(%q) = %q, want %q", tt.email, got, tt.want)
		}
	}
}

func TestResolveIMAPServer_InvalidEmail(t *testing.T) {
	if _, err := ResolveIMAPServer("not-an-address"); err == nil {
		t.Fatal("expected an error for a malformed address")
	}
}
