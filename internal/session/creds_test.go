package session

import (
	"testing"
	"time"
)

func TestCredentialsRoundTrip(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	expiry := time.Now().Add(time.Hour).UTC().Truncate(time.Second)
	creds := &Credentials{Token: "tok-1", UserID: "u1", Expiry: expiry}

	if err := SaveCredentials("test", creds); err != nil {
		t.Fatalf("SaveCredentials() error = %v", err)
	}

	loaded, err := LoadCredentials("test")
	if err != nil {
		t.Fatalf("LoadCredentials() error = %v", err)
	}
	if loaded == nil {
		t.Fatal("LoadCredentials() = nil, want credentials")
	}
	if loaded.Token != "tok-1" || loaded.UserID != "u1" {
		t.Errorf("loaded = %+v, want token tok-1 user u1", loaded)
	}
	if !loaded.Expiry.Equal(expiry) {
		t.Errorf("expiry = %v, want %v", loaded.Expiry, expiry)
	}
}

func TestLoadCredentialsMissing(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	loaded, err := LoadCredentials("nope")
	if err != nil {
		t.Fatalf("LoadCredentials() error = %v", err)
	}
	if loaded != nil {
		t.Errorf("LoadCredentials() = %+v, want nil for missing file", loaded)
	}
}

func TestClearCredentials(t *testing.T) {
	t.Setenv("HOME", t.TempDir())

	creds := &Credentials{Token: "t", UserID: "u", Expiry: time.Now()}
	if err := SaveCredentials("test", creds); err != nil {
		t.Fatal(err)
	}
	if err := ClearCredentials("test"); err != nil {
		t.Fatalf("ClearCredentials() error = %v", err)
	}
	loaded, err := LoadCredentials("test")
	if err != nil {
		t.Fatal(err)
	}
	if loaded != nil {
		t.Error("credentials still present after clear")
	}

	// Clearing again is not an error.
	if err := ClearCredentials("test"); err != nil {
		t.Errorf("second ClearCredentials() error = %v", err)
	}
}

func TestCredentialsExpired(t *testing.T) {
	now := time.Now()
	tests := []struct {
		name   string
		expiry time.Time
		want   bool
	}{
		{"future", now.Add(time.Minute), false},
		{"past", now.Add(-time.Minute), true},
		{"exactly now", now, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := &Credentials{Expiry: tt.expiry}
			if got := c.Expired(now); got != tt.want {
				t.Errorf("Expired() = %v, want %v", got, tt.want)
			}
		})
	}
}
