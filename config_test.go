package main

import (
	"os"
	"path/filepath"
	"testing"
)

func TestNormalizeLookupKey(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"Développement Personnel", "developpement-personnel"},
		{"Intelligence Artificielle", "intelligence-artificielle"},
		{"Santé & Bien-être", "sante-and-bien-etre"},
		{"  Über-Cool  ", "uber-cool"},
		{"", ""},
	}

	for _, tt := range tests {
		if got := normalizeLookupKey(tt.input); got != tt.want {
			t.Errorf("normalizeLookupKey(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}

func TestSiteRegistryResolve(t *testing.T) {
	registry := SiteRegistry{
		"lesnewsducoach": &SiteConfig{
			SiteLabel: "Les News du Coach",
			Aliases:   []string{"lndc"},
		},
		"thrivethroughtime": &SiteConfig{SiteLabel: "Thrive Through Time"},
	}

	tests := []struct {
		requested string
		wantKey   string
	}{
		{"lesnewsducoach", "lesnewsducoach"},
		{"Les News du Coach", "lesnewsducoach"},
		{"LNDC", "lesnewsducoach"},
		{"thrive through time", "thrivethroughtime"},
		{"unknown-site", ""},
		{"", ""},
	}

	for _, tt := range tests {
		key, cfg := registry.Resolve(tt.requested)
		if key != tt.wantKey {
			t.Errorf("Resolve(%q) key = %q, want %q", tt.requested, key, tt.wantKey)
		}
		if (cfg == nil) != (tt.wantKey == "") {
			t.Errorf("Resolve(%q) config presence mismatch", tt.requested)
		}
	}
}

func TestLoadSiteRegistry(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sites.yaml")
	content := `
mysite:
  base_url: https://example.com
  site_label: My Site
  username_env: MYSITE_USER
  password_env: MYSITE_PASS
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	registry, err := LoadSiteRegistry(path)
	if err != nil {
		t.Fatalf("LoadSiteRegistry: %v", err)
	}
	key, cfg := registry.Resolve("My Site")
	if key != "mysite" || cfg == nil {
		t.Fatalf("site not resolvable by label, key=%q", key)
	}
	if cfg.BaseURL != "https://example.com" {
		t.Errorf("base_url = %q", cfg.BaseURL)
	}
}

func TestLoadSiteRegistryMissingFile(t *testing.T) {
	registry, err := LoadSiteRegistry(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("missing file should not error: %v", err)
	}
	if len(registry) != 0 {
		t.Errorf("expected empty registry, got %d entries", len(registry))
	}
}

func TestResolveCredentials(t *testing.T) {
	t.Setenv("TESTSITE_USER", "alice")
	t.Setenv("TESTSITE_PASS", "s3cret")
	t.Setenv("WORDPRESS_SITE", "")
	t.Setenv("WP_USERNAME", "")
	t.Setenv("WP_APP_PASSWORD", "")

	cfg := &SiteConfig{
		BaseURL:     "https://example.com/",
		UsernameEnv: "TESTSITE_USER",
		PasswordEnv: "TESTSITE_PASS",
	}
	creds, err := ResolveCredentials(cfg)
	if err != nil {
		t.Fatalf("ResolveCredentials: %v", err)
	}
	if creds.BaseURL != "https://example.com" {
		t.Errorf("base URL not trimmed: %q", creds.BaseURL)
	}
	if creds.Username != "alice" || creds.AppPassword != "s3cret" {
		t.Errorf("credentials not read from env: %+v", creds)
	}
}

func TestResolveCredentialsGenericFallback(t *testing.T) {
	t.Setenv("WORDPRESS_SITE", "https://fallback.example.com")
	t.Setenv("WP_USERNAME", "bob")
	t.Setenv("WP_APP_PASSWORD", "pw")

	creds, err := ResolveCredentials(nil)
	if err != nil {
		t.Fatalf("ResolveCredentials: %v", err)
	}
	if creds.BaseURL != "https://fallback.example.com" || creds.Username != "bob" {
		t.Errorf("fallback credentials not used: %+v", creds)
	}
}

func TestResolveCredentialsMissingPassword(t *testing.T) {
	t.Setenv("WORDPRESS_SITE", "https://example.com")
	t.Setenv("WP_USERNAME", "bob")
	t.Setenv("WP_APP_PASSWORD", "")

	if _, err := ResolveCredentials(nil); err == nil {
		t.Fatal("expected error for missing app password")
	}
}

func TestBrandProfileResolution(t *testing.T) {
	dir := t.TempDir()
	profile := `{
  "brand_id": "lesnewsducoach",
  "brand_name": "Les News du Coach",
  "aliases": ["lndc"],
  "illustration_style": {"rendering": "flat vector illustration"}
}`
	if err := os.WriteFile(filepath.Join(dir, "lesnewsducoach.json"), []byte(profile), 0644); err != nil {
		t.Fatal(err)
	}
	// Unparseable files are skipped, not fatal.
	if err := os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{nope"), 0644); err != nil {
		t.Fatal(err)
	}

	profiles := LoadBrandProfiles(dir)

	for _, alias := range []string{"lesnewsducoach", "lndc", "Les News du Coach"} {
		id, p := ResolveBrandProfile(alias, nil, "", profiles)
		if p == nil || id != "lesnewsducoach" {
			t.Errorf("alias %q did not resolve, id=%q", alias, id)
		}
	}

	if _, p := ResolveBrandProfile("unknown", nil, "also-unknown", profiles); p != nil {
		t.Error("unknown aliases should not resolve")
	}
}

func TestPlatformNameFor(t *testing.T) {
	cfg := &SiteConfig{PlatformName: "WordPress", SiteLabel: "My Site"}

	tests := []struct {
		explicit string
		cfg      *SiteConfig
		siteKey  string
		want     string
	}{
		{"Custom", cfg, "mysite", "Custom"},
		{"", cfg, "mysite", "WordPress"},
		{"", &SiteConfig{SiteLabel: "My Site"}, "mysite", "My Site"},
		{"", nil, "mysite", "mysite"},
		{"", nil, "", "WordPress"},
	}

	for _, tt := range tests {
		if got := PlatformNameFor(tt.explicit, tt.cfg, tt.siteKey); got != tt.want {
			t.Errorf("PlatformNameFor(%q) = %q, want %q", tt.explicit, got, tt.want)
		}
	}
}
