package origin

import "testing"

func TestNormalizeHeader(t *testing.T) {
	t.Run("normalizes scheme, host and default port", func(t *testing.T) {
		normalized, ok := NormalizeHeader("HTTPS://Example.COM:443")
		if !ok {
			t.Fatalf("expected ok=true")
		}
		if normalized != "https://example.com" {
			t.Fatalf("normalized=%q, want %q", normalized, "https://example.com")
		}
	})

	t.Run("keeps non-default port and trailing slash", func(t *testing.T) {
		normalized, ok := NormalizeHeader("http://localhost:5173/")
		if !ok {
			t.Fatalf("expected ok=true")
		}
		if normalized != "http://localhost:5173" {
			t.Fatalf("normalized=%q, want %q", normalized, "http://localhost:5173")
		}
	})

	t.Run("ipv6 literal", func(t *testing.T) {
		normalized, ok := NormalizeHeader("http://[::1]:8080")
		if !ok {
			t.Fatalf("expected ok=true")
		}
		if normalized != "http://[::1]:8080" {
			t.Fatalf("normalized=%q, want %q", normalized, "http://[::1]:8080")
		}
	})

	t.Run("allows null origin", func(t *testing.T) {
		normalized, ok := NormalizeHeader("null")
		if !ok || normalized != "null" {
			t.Fatalf("normalized=%q ok=%v, want %q true", normalized, ok, "null")
		}
	})

	t.Run("rejects malformed", func(t *testing.T) {
		cases := []string{
			"ftp://example.com",
			"https://example.com/path",
			"https://example.com/?q=1",
			"https://user@example.com",
			"https://example.com/#frag",
			"https://example.com:0",
			"https://example.com:",
			"example.com",
		}
		for _, c := range cases {
			if _, ok := NormalizeHeader(c); ok {
				t.Fatalf("expected ok=false for %q", c)
			}
		}
	})
}

func TestParseAllowList(t *testing.T) {
	got, err := ParseAllowList(" https://App.example.com , *,,http://localhost:5173/")
	if err != nil {
		t.Fatalf("ParseAllowList: %v", err)
	}
	want := []string{"https://app.example.com", "*", "http://localhost:5173"}
	if len(got) != len(want) {
		t.Fatalf("got=%v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("got[%d]=%q, want %q", i, got[i], want[i])
		}
	}

	if _, err := ParseAllowList("not-an-origin"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestPolicy_Allows(t *testing.T) {
	t.Run("empty policy allows everything", func(t *testing.T) {
		p := NewPolicy(nil)
		if _, ok := p.Allows("https://anything.example"); !ok {
			t.Fatalf("expected allowed")
		}
	})

	t.Run("missing origin header is allowed", func(t *testing.T) {
		p := NewPolicy([]string{"https://app.example.com"})
		if _, ok := p.Allows(""); !ok {
			t.Fatalf("expected allowed")
		}
	})

	t.Run("explicit list", func(t *testing.T) {
		p := NewPolicy([]string{"https://app.example.com"})
		normalized, ok := p.Allows("https://APP.example.com:443")
		if !ok || normalized != "https://app.example.com" {
			t.Fatalf("normalized=%q ok=%v", normalized, ok)
		}
		if _, ok := p.Allows("https://evil.example.com"); ok {
			t.Fatalf("expected rejection")
		}
		if _, ok := p.Allows("garbage"); ok {
			t.Fatalf("expected rejection of malformed origin")
		}
	})

	t.Run("wildcard", func(t *testing.T) {
		p := NewPolicy([]string{"https://app.example.com", Wildcard})
		if _, ok := p.Allows("https://other.example.com"); !ok {
			t.Fatalf("expected allowed")
		}
	})
}
