// Package sites holds the static site registry: per-site selector lists,
// rate-limit parameters, and user-agent rotation. The registry is data, not
// code; new sites are added by editing sites.yaml.
package sites

import (
	_ "embed"
	"net/url"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed sites.yaml
var registryYAML []byte

// GenericName is the registry entry used when no domain pattern matches.
const GenericName = "generic"

// Selectors holds the ordered CSS selector lists per extracted field. The
// first selector yielding non-empty text wins.
type Selectors struct {
	Title        []string `yaml:"title" json:"title"`
	Price        []string `yaml:"price" json:"price"`
	Availability []string `yaml:"availability" json:"availability"`
	Image        []string `yaml:"image" json:"image"`
}

// RateLimit is the per-site inter-request spacing window in milliseconds.
type RateLimit struct {
	MinMs int `yaml:"min_ms" json:"min_ms"`
	MaxMs int `yaml:"max_ms" json:"max_ms"`
}

// Site is one registry entry.
type Site struct {
	Name           string    `yaml:"name" json:"name"`
	DomainPatterns []string  `yaml:"domain_patterns" json:"domain_patterns"`
	Selectors      Selectors `yaml:"selectors" json:"selectors"`
	PageReady      []string  `yaml:"page_ready" json:"page_ready"`
	RateLimit      RateLimit `yaml:"rate_limit" json:"rate_limit"`
	Currency       string    `yaml:"currency" json:"currency"`
}

// Registry maps hostnames to site entries.
type Registry struct {
	sites   []Site
	generic Site
}

// Load parses the embedded registry.
func Load() (*Registry, error) {
	var doc struct {
		Sites []Site `yaml:"sites"`
	}
	if err := yaml.Unmarshal(registryYAML, &doc); err != nil {
		return nil, eris.Wrap(err, "sites: parse registry")
	}
	return NewRegistry(doc.Sites)
}

// NewRegistry builds a registry from explicit entries. Exactly one entry
// must be named "generic"; it is the fallback for unmatched hosts.
func NewRegistry(entries []Site) (*Registry, error) {
	r := &Registry{}
	for _, s := range entries {
		if s.Name == GenericName {
			r.generic = s
			continue
		}
		r.sites = append(r.sites, s)
	}
	if r.generic.Name == "" {
		return nil, eris.New("sites: registry has no generic entry")
	}
	return r, nil
}

// Match returns the site entry for the URL's hostname, or the generic entry
// when nothing matches or the URL does not parse.
func (r *Registry) Match(rawURL string) Site {
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return r.generic
	}
	host := strings.ToLower(u.Hostname())
	for _, s := range r.sites {
		for _, p := range s.DomainPatterns {
			p = strings.ToLower(p)
			if host == p || strings.HasSuffix(host, "."+p) {
				return s
			}
		}
	}
	return r.generic
}

// Generic returns the fallback entry.
func (r *Registry) Generic() Site {
	return r.generic
}

// All returns every entry including the generic one, generic last.
func (r *Registry) All() []Site {
	out := make([]Site, 0, len(r.sites)+1)
	out = append(out, r.sites...)
	out = append(out, r.generic)
	return out
}
