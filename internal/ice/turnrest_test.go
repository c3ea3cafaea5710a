package ice

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"testing"
	"time"
)

func TestMint_DeterministicWithFixedTime(t *testing.T) {
	g, err := newTURNREST(TURNRESTConfig{
		SharedSecret:   "shared-secret",
		TTL:            time.Hour,
		UsernamePrefix: "aero",
		Now:            func() time.Time { return time.Unix(1_700_000_000, 0).UTC() },
	})
	if err != nil {
		t.Fatalf("newTURNREST: %v", err)
	}

	creds, err := g.mint("session123")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	if got, want := creds.Expires.Unix(), int64(1_700_003_600); got != want {
		t.Fatalf("Expires=%d, want %d", got, want)
	}
	wantUsername := "1700003600:aero:session123"
	if creds.Username != wantUsername {
		t.Fatalf("Username=%q, want %q", creds.Username, wantUsername)
	}
	if want := expectedCredential(t, []byte("shared-secret"), wantUsername); creds.Credential != want {
		t.Fatalf("Credential=%q, want %q", creds.Credential, want)
	}
}

func TestMint_CredentialBase64AndHMACSHA1(t *testing.T) {
	g, err := newTURNREST(TURNRESTConfig{
		SharedSecret:   "secret",
		TTL:            time.Second,
		UsernamePrefix: "pfx",
		Now:            func() time.Time { return time.Unix(0, 0).UTC() },
	})
	if err != nil {
		t.Fatalf("newTURNREST: %v", err)
	}

	creds, err := g.mint("sid")
	if err != nil {
		t.Fatalf("mint: %v", err)
	}

	decoded, err := base64.StdEncoding.DecodeString(creds.Credential)
	if err != nil {
		t.Fatalf("DecodeString: %v", err)
	}
	if len(decoded) != sha1.Size {
		t.Fatalf("decoded length=%d, want %d", len(decoded), sha1.Size)
	}
}

func TestMint_RejectsColonInSessionID(t *testing.T) {
	g, err := newTURNREST(TURNRESTConfig{SharedSecret: "s", TTL: time.Minute, UsernamePrefix: "aero"})
	if err != nil {
		t.Fatalf("newTURNREST: %v", err)
	}
	if _, err := g.mint("a:b"); err == nil {
		t.Fatalf("expected error")
	}
	if _, err := g.mint(""); err == nil {
		t.Fatalf("expected error")
	}
}

func TestNewTURNREST_Validates(t *testing.T) {
	cases := []TURNRESTConfig{
		{TTL: time.Minute, UsernamePrefix: "aero"},
		{SharedSecret: "s", UsernamePrefix: "aero"},
		{SharedSecret: "s", TTL: time.Minute},
		{SharedSecret: "s", TTL: time.Minute, UsernamePrefix: "a:b"},
	}
	for _, cfg := range cases {
		if _, err := newTURNREST(cfg); err == nil {
			t.Fatalf("expected error for %+v", cfg)
		}
	}
}

func expectedCredential(t *testing.T, sharedSecret []byte, username string) string {
	t.Helper()
	mac := hmac.New(sha1.New, sharedSecret)
	_, _ = mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
