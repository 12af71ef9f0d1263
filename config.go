package main

import (
	_ "embed"
	"encoding/json"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

const defaultConfigDir = ".draft-publisher"

// Embedded default site registry, written to .draft-publisher/sites.yaml on
// first run so users have a template to edit.
//
//go:embed config/sites.yaml
var defaultSitesConfig string

// SiteConfig is one entry in the site registry. Credential fields name
// environment variables, never secret values.
type SiteConfig struct {
	BaseURL         string            `yaml:"base_url"`
	UsernameEnv     string            `yaml:"username_env"`
	PasswordEnv     string            `yaml:"password_env"`
	PlatformName    string            `yaml:"platform_name"`
	SiteLabel       string            `yaml:"site_label"`
	DefaultCategory string            `yaml:"default_category"`
	CategoryAliases map[string]string `yaml:"category_aliases"`
	BrandProfile    string            `yaml:"brand_profile"`
	Aliases         []string          `yaml:"aliases"`
}

// SiteRegistry maps normalized site keys to their configuration.
type SiteRegistry map[string]*SiteConfig

// Credentials are the resolved values for one site, checked non-empty
// before any network call is made.
type Credentials struct {
	BaseURL     string
	Username    string
	AppPassword string
}

// Config is the effective configuration for one run, assembled once at
// startup and passed into the publisher. No ambient global state.
type Config struct {
	NotionToken      string
	ArticlesDBID     string
	PublicationsDBID string

	DraftStatusLabel     string
	PublishedStatusLabel string
	PartialStatusLabel   string
	PageSize             int

	Sites           SiteRegistry
	ExplicitSiteKey string // --site flag; empty defers to the record's target site
	DefaultSiteKey  string

	PlatformName   string // --platform-name flag override
	BrandProfileID string // --brand-profile flag override

	BrandProfilesDir string

	OpenAIKey    string
	ImageModel   string
	ImageSize    string
	ImageQuality string

	SkipIllustration bool
	DryRun           bool
}

var (
	siteKeyRe  = regexp.MustCompile(`[^a-z0-9]+`)
	dashRunsRe = regexp.MustCompile(`-{2,}`)
)

// normalizeSiteKey lowercases and dashes a site key or label so that
// "Les News du Coach" and "les-news-du-coach" compare equal.
func normalizeSiteKey(value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	v = siteKeyRe.ReplaceAllString(v, "-")
	return strings.Trim(dashRunsRe.ReplaceAllString(v, "-"), "-")
}

// accentReplacer folds the accented characters that show up in the French
// and Spanish taxonomies this tool targets. Anything outside the table
// falls through to the dash normalizer.
var accentReplacer = strings.NewReplacer(
	"à", "a", "â", "a", "ä", "a", "á", "a", "ã", "a",
	"ç", "c",
	"é", "e", "è", "e", "ê", "e", "ë", "e",
	"î", "i", "ï", "i", "í", "i",
	"ô", "o", "ö", "o", "ó", "o", "õ", "o",
	"ù", "u", "û", "u", "ü", "u", "ú", "u",
	"ñ", "n",
	"œ", "oe", "æ", "ae",
)

// normalizeLookupKey folds case, accents and punctuation into a dashed key
// used for taxonomy and alias lookups.
func normalizeLookupKey(value string) string {
	v := strings.ToLower(strings.TrimSpace(value))
	if v == "" {
		return ""
	}
	v = accentReplacer.Replace(v)
	v = strings.ReplaceAll(v, "&", " and ")
	v = siteKeyRe.ReplaceAllString(v, "-")
	return strings.Trim(dashRunsRe.ReplaceAllString(v, "-"), "-")
}

// LoadSiteRegistry reads the YAML site registry. A missing file yields an
// empty registry, not an error; the resolver reports unknown keys later.
func LoadSiteRegistry(path string) (SiteRegistry, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return SiteRegistry{}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return SiteRegistry{}, nil
		}
		return nil, errors.Wrapf(err, "reading sites config %s", path)
	}

	raw := map[string]*SiteConfig{}
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, errors.Wrapf(err, "parsing sites config %s", path)
	}

	registry := SiteRegistry{}
	for key, cfg := range raw {
		if cfg == nil {
			continue
		}
		registry[normalizeSiteKey(key)] = cfg
	}
	return registry, nil
}

// Resolve finds a site by key, label or alias. Returns the canonical key
// and config, or ("", nil) when nothing matches.
func (r SiteRegistry) Resolve(requested string) (string, *SiteConfig) {
	requested = strings.TrimSpace(requested)
	if requested == "" {
		return "", nil
	}

	normalized := normalizeSiteKey(requested)
	if cfg, ok := r[normalized]; ok {
		return normalized, cfg
	}

	for key, cfg := range r {
		candidates := []string{key, cfg.SiteLabel, cfg.PlatformName}
		candidates = append(candidates, cfg.Aliases...)
		for _, candidate := range candidates {
			if candidate != "" && normalizeSiteKey(candidate) == normalized {
				return key, cfg
			}
		}
	}

	return "", nil
}

// Keys returns the sorted canonical site keys, for error messages.
func (r SiteRegistry) Keys() []string {
	keys := make([]string, 0, len(r))
	for key := range r {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

// ResolveCredentials reads the site's credential environment variables.
// Generic fallbacks keep single-site legacy setups working.
func ResolveCredentials(cfg *SiteConfig) (Credentials, error) {
	creds := Credentials{}
	if cfg != nil {
		creds.BaseURL = strings.TrimSpace(cfg.BaseURL)
		if cfg.UsernameEnv != "" {
			creds.Username = strings.TrimSpace(os.Getenv(cfg.UsernameEnv))
		}
		if cfg.PasswordEnv != "" {
			creds.AppPassword = strings.TrimSpace(os.Getenv(cfg.PasswordEnv))
		}
	}

	if creds.BaseURL == "" {
		creds.BaseURL = strings.TrimSpace(os.Getenv("WORDPRESS_SITE"))
	}
	if creds.Username == "" {
		creds.Username = strings.TrimSpace(os.Getenv("WP_USERNAME"))
	}
	if creds.AppPassword == "" {
		creds.AppPassword = strings.TrimSpace(os.Getenv("WP_APP_PASSWORD"))
	}

	switch {
	case creds.BaseURL == "":
		return creds, errors.New("missing site base URL (set base_url in sites.yaml or WORDPRESS_SITE)")
	case creds.Username == "":
		return creds, errors.Errorf("missing username (set %s or WP_USERNAME)", envName(cfg, "username"))
	case creds.AppPassword == "":
		return creds, errors.Errorf("missing app password (set %s or WP_APP_PASSWORD)", envName(cfg, "password"))
	}
	creds.BaseURL = strings.TrimRight(creds.BaseURL, "/")
	return creds, nil
}

func envName(cfg *SiteConfig, which string) string {
	if cfg == nil {
		return "WP_" + strings.ToUpper(which)
	}
	if which == "username" && cfg.UsernameEnv != "" {
		return cfg.UsernameEnv
	}
	if which == "password" && cfg.PasswordEnv != "" {
		return cfg.PasswordEnv
	}
	return "WP_" + strings.ToUpper(which)
}

// PlatformNameFor picks the platform label recorded in the document store:
// explicit flag, then site config, then the site key itself.
func PlatformNameFor(explicit string, cfg *SiteConfig, siteKey string) string {
	if v := strings.TrimSpace(explicit); v != "" {
		return v
	}
	if cfg != nil {
		for _, v := range []string{cfg.PlatformName, cfg.SiteLabel} {
			if strings.TrimSpace(v) != "" {
				return strings.TrimSpace(v)
			}
		}
	}
	if siteKey != "" {
		return siteKey
	}
	return "WordPress"
}

// IllustrationStyle is the rendering guidance section of a brand profile.
type IllustrationStyle struct {
	Rendering          string   `json:"rendering"`
	EditorialDirection string   `json:"editorial_direction"`
	Composition        string   `json:"composition"`
	Mood               string   `json:"mood"`
	ColorPalette       []string `json:"color_palette"`
	Motifs             []string `json:"motifs"`
	Avoid              []string `json:"avoid"`
}

// BrandProfile steers generated illustrations toward a site's visual
// identity.
type BrandProfile struct {
	BrandID           string             `json:"brand_id"`
	BrandName         string             `json:"brand_name"`
	Aliases           []string           `json:"aliases"`
	IllustrationStyle *IllustrationStyle `json:"illustration_style"`
}

// LoadBrandProfiles indexes every profile JSON in dir by its normalized
// aliases (brand id, brand name, filename stem, declared aliases).
// Unparseable files are skipped; profiles are styling hints, not inputs
// the run should die on.
func LoadBrandProfiles(dir string) map[string]*BrandProfile {
	profiles := map[string]*BrandProfile{}
	dir = strings.TrimSpace(dir)
	if dir == "" {
		return profiles
	}

	matches, err := filepath.Glob(filepath.Join(dir, "*.json"))
	if err != nil {
		return profiles
	}
	sort.Strings(matches)

	for _, path := range matches {
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var profile BrandProfile
		if err := json.Unmarshal(data, &profile); err != nil {
			continue
		}

		stem := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		aliases := append([]string{profile.BrandID, profile.BrandName, stem}, profile.Aliases...)
		for _, raw := range aliases {
			alias := normalizeSiteKey(raw)
			if alias == "" {
				continue
			}
			if _, taken := profiles[alias]; !taken {
				profiles[alias] = &profile
			}
		}
	}

	return profiles
}

// ResolveBrandProfile walks the candidate chain (explicit flag, site
// config, site key) and returns the first profile hit plus its id.
func ResolveBrandProfile(explicit string, cfg *SiteConfig, siteKey string, profiles map[string]*BrandProfile) (string, *BrandProfile) {
	candidates := []string{explicit}
	if cfg != nil {
		candidates = append(candidates, cfg.BrandProfile)
	}
	candidates = append(candidates, siteKey)

	for _, candidate := range candidates {
		alias := normalizeSiteKey(candidate)
		if alias == "" {
			continue
		}
		if profile, ok := profiles[alias]; ok {
			id := strings.TrimSpace(profile.BrandID)
			if id == "" {
				id = alias
			}
			return id, profile
		}
	}
	return "", nil
}

// ensureConfigExists writes the embedded default site registry on first
// run so there is always a file to edit.
func ensureConfigExists() (string, error) {
	if err := os.MkdirAll(defaultConfigDir, 0755); err != nil {
		return "", errors.Wrap(err, "creating config directory")
	}
	sitesPath := filepath.Join(defaultConfigDir, "sites.yaml")
	if _, err := os.Stat(sitesPath); os.IsNotExist(err) {
		if err := os.WriteFile(sitesPath, []byte(defaultSitesConfig), 0644); err != nil {
			return "", errors.Wrap(err, "writing default sites.yaml")
		}
	}
	return sitesPath, nil
}
