package hostallow

import (
	"net/url"
	"testing"
)

func mustParse(t *testing.T, raw string) *url.URL {
	t.Helper()
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse %q: %v", raw, err)
	}
	return u
}

func TestAllowedHostLiteral(t *testing.T) {
	p := New(Settings{
		Enabled: true,
		Hosts:   []HostRule{{Pattern: "storage.example.com", Allow: true}},
	})

	if !p.AllowedHost("storage.example.com") {
		t.Error("listed host rejected")
	}
	if !p.AllowedHost("STORAGE.EXAMPLE.COM") {
		t.Error("literal match should be case-insensitive")
	}
	if p.AllowedHost("other.example.com") {
		t.Error("unlisted host accepted")
	}
}

func TestAllowedHostRegexFullMatchOnly(t *testing.T) {
	p := New(Settings{
		Enabled: true,
		Hosts:   []HostRule{{Pattern: `10\.0\.0\.\d+`, Allow: true}},
	})

	if !p.AllowedHost("10.0.0.42") {
		t.Error("regex match rejected")
	}
	// A partial match must not count.
	if p.AllowedHost("x10.0.0.42y") {
		t.Error("partial regex match accepted")
	}
}

func TestDenyTakesPrecedence(t *testing.T) {
	p := New(Settings{
		Enabled: true,
		Hosts: []HostRule{
			{Pattern: `.*\.example\.com`, Allow: true},
			{Pattern: `bad\.example\.com`, Allow: false},
		},
	})

	if !p.AllowedHost("good.example.com") {
		t.Error("allowed host rejected")
	}
	if p.AllowedHost("bad.example.com") {
		t.Error("denied host accepted")
	}
}

func TestDisabledRejectsEverything(t *testing.T) {
	p := New(Settings{
		Enabled: false,
		Hosts:   []HostRule{{Pattern: "storage.example.com", Allow: true}},
	})
	if p.AllowedHost("storage.example.com") {
		t.Error("host accepted while remote storage disabled")
	}
}

func TestCompatModePassThrough(t *testing.T) {
	p := New(Settings{Enabled: true, Mode: ModeCompat})

	u := mustParse(t, "https://anything.example.com:9980/wopi/files/1")
	if !p.AllowedAlias(u) {
		t.Error("compat mode must allow every alias")
	}
	if got := p.RewriteAlias(u); got != "/wopi/files/1" {
		t.Errorf("compat RewriteAlias = %q, want unmodified path", got)
	}
}

func TestFirstHostWins(t *testing.T) {
	p := New(Settings{Enabled: true, Mode: ModeGroups})

	first := mustParse(t, "https://one.example.com:443/wopi/files/1")
	other := mustParse(t, "https://two.example.com:443/wopi/files/1")

	if !p.AllowedAlias(first) {
		t.Fatal("first host rejected")
	}
	if !p.AllowedAlias(first) {
		t.Error("first host rejected on second call")
	}
	if p.AllowedAlias(other) {
		t.Error("second host accepted in first-host mode")
	}
}

func TestGroupAliasRewrite(t *testing.T) {
	p := New(Settings{
		Enabled: true,
		Mode:    ModeGroups,
		Groups: []AliasGroup{{
			Host:    "https://real.example.com:9980",
			Allow:   true,
			Aliases: []string{"https://alias.example.com:9980"},
		}},
	})

	alias := mustParse(t, "https://alias.example.com:9980/wopi/files/7")
	if !p.AllowedAlias(alias) {
		t.Fatal("configured alias rejected")
	}
	got := p.RewriteAlias(alias)
	want := "https://real.example.com:9980/wopi/files/7"
	if got != want {
		t.Errorf("RewriteAlias = %q, want %q", got, want)
	}

	// The canonical authority passes through unrewritten.
	real := mustParse(t, "https://real.example.com:9980/wopi/files/7")
	if got := p.RewriteAlias(real); got != want {
		t.Errorf("RewriteAlias(canonical) = %q, want %q", got, want)
	}

	stranger := mustParse(t, "https://stranger.example.com:9980/wopi/files/7")
	if p.AllowedAlias(stranger) {
		t.Error("authority outside the groups accepted")
	}

	if !p.AllowedHost("alias.example.com") {
		t.Error("alias hostname missing from allow list")
	}
}

func TestGroupsIgnoredWithoutGroupsMode(t *testing.T) {
	p := New(Settings{
		Enabled: true,
		Mode:    ModeFirst,
		Groups: []AliasGroup{{
			Host:    "https://real.example.com",
			Allow:   true,
			Aliases: []string{"https://alias.example.com"},
		}},
	})

	// Misconfigured groups must not populate the alias table; first-host
	// behavior applies instead.
	u := mustParse(t, "https://whoever.example.com/wopi/files/1")
	if !p.AllowedAlias(u) {
		t.Error("first host rejected after ignoring misconfigured groups")
	}
}
