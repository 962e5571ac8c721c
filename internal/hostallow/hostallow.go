// Package hostallow implements the remote-host authorization policy: an
// allow/deny list with regex fallback, alias-group rewriting of alternate
// authorities to a canonical one, and a first-host compatibility mode.
package hostallow

import (
	"log/slog"
	"net/url"
	"regexp"
	"strings"
	"sync"

	"github.com/quillstore/quillstore/internal/logging"
)

// Alias-group modes.
const (
	// ModeFirst permits only the first authority ever seen.
	ModeFirst = "first"
	// ModeCompat disables alias handling entirely: every alias is allowed
	// and rewriting is a pass-through.
	ModeCompat = "compat"
	// ModeGroups activates the alias table built from group definitions.
	ModeGroups = "groups"
)

// HostRule is one allow/deny entry. Pattern is matched against the target
// host first literally, then as a case-insensitive full-match regex.
type HostRule struct {
	Pattern string
	Allow   bool
}

// AliasGroup maps alternate authorities onto one canonical host URL.
type AliasGroup struct {
	// Host is the canonical host URL of the group.
	Host string
	// Allow adds the canonical host (and each alias host) to the allow or
	// deny list.
	Allow bool
	// Aliases are alternate URLs whose authorities rewrite to Host's.
	Aliases []string
}

// Settings is the parsed policy configuration.
type Settings struct {
	// Enabled gates the whole policy: when false no remote host is allowed.
	Enabled bool
	// Mode selects alias handling; empty defaults to ModeCompat when no
	// groups are configured and is an error otherwise.
	Mode   string
	Hosts  []HostRule
	Groups []AliasGroup
}

// Policy holds the compiled authorization state. It is shared across
// document sessions; one mutex guards all tables and hold times are O(1).
type Policy struct {
	mu sync.Mutex

	enabled bool
	mode    string

	allowed []string
	denied  []string

	// aliasHosts maps alias authority to canonical authority.
	aliasHosts map[string]string
	// allHosts contains every canonical and alias authority from groups.
	allHosts map[string]struct{}
	// firstHost is remembered when no group policy is configured; any
	// other authority is then rejected.
	firstHost string

	log *slog.Logger
}

// New compiles the settings into a Policy.
func New(s Settings) *Policy {
	p := &Policy{
		enabled:    s.Enabled,
		mode:       s.Mode,
		aliasHosts: make(map[string]string),
		allHosts:   make(map[string]struct{}),
		log:        logging.Component("hostallow"),
	}

	for _, rule := range s.Hosts {
		p.AddHost(rule.Pattern, rule.Allow)
	}

	if len(s.Groups) == 0 {
		if p.mode == "" {
			p.mode = ModeCompat
		}
		return p
	}

	if p.mode != ModeGroups {
		// Groups defined without the groups mode: refuse the alias table
		// rather than guessing the intent.
		p.log.Error("alias groups configured but mode is not 'groups'; ignoring groups",
			"mode", p.mode)
		return p
	}

	for _, group := range s.Groups {
		real, err := url.Parse(group.Host)
		if err != nil || real.Host == "" {
			p.log.Warn("skipping alias group with unparsable host", "host", group.Host)
			continue
		}
		p.AddHost(real.Hostname(), group.Allow)
		p.allHosts[real.Host] = struct{}{}

		for _, alias := range group.Aliases {
			aliasURL, err := url.Parse(alias)
			if err != nil || aliasURL.Host == "" {
				p.log.Warn("skipping unparsable alias", "alias", alias)
				continue
			}
			p.aliasHosts[aliasURL.Host] = real.Host
			p.allHosts[aliasURL.Host] = struct{}{}
			p.AddHost(aliasURL.Hostname(), group.Allow)
		}
	}

	return p
}

// AddHost appends a pattern to the allow or deny list.
func (p *Policy) AddHost(pattern string, allow bool) {
	if pattern == "" {
		return
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if allow {
		p.log.Info("adding trusted storage host", "host", pattern)
		p.allowed = append(p.allowed, pattern)
	} else {
		p.log.Info("adding blocked storage host", "host", pattern)
		p.denied = append(p.denied, pattern)
	}
}

// AllowedHost reports whether host passes the allow/deny list. It is false
// whenever remote storage is disabled. Deny entries take precedence.
func (p *Policy) AllowedHost(host string) bool {
	if !p.enabled {
		return false
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if matchList(p.denied, host) {
		return false
	}
	return matchList(p.allowed, host)
}

// AllowedAlias reports whether the locator's authority is acceptable under
// the alias configuration. In compat mode everything is acceptable. With no
// groups configured the first authority seen wins and all others are
// rejected.
func (p *Policy) AllowedAlias(u *url.URL) bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.mode == ModeCompat {
		return true
	}

	authority := u.Host
	if len(p.allHosts) == 0 {
		if p.firstHost == "" {
			p.firstHost = authority
			return true
		}
		if p.firstHost != authority {
			p.log.Error("host rejected, only the first host is allowed",
				"host", authority, "first_host", p.firstHost)
			return false
		}
		return true
	}

	if !matchSet(p.allHosts, authority) {
		p.log.Error("host rejected, not part of the alias group configuration",
			"host", authority)
		return false
	}
	return true
}

// RewriteAlias returns the canonical form of the locator: if its authority
// is an alias, the canonical authority is substituted so the same document
// is never treated as two distinct resources. In compat mode (or when no
// authority remains) only the path is returned.
func (p *Policy) RewriteAlias(u *url.URL) string {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.mode == ModeCompat {
		return u.Path
	}

	rewritten := *u
	if canonical, ok := lookupAlias(p.aliasHosts, u.Host); ok {
		rewritten.Host = canonical
	}
	if rewritten.Host == "" {
		return rewritten.Path
	}
	return rewritten.Scheme + "://" + rewritten.Host + rewritten.Path
}

// matchList reports whether s matches any pattern, literally or as a
// case-insensitive full-match regex. Partial regex matches do not count.
func matchList(patterns []string, s string) bool {
	for _, pattern := range patterns {
		if strings.EqualFold(pattern, s) {
			return true
		}
		re, err := regexp.Compile("(?i)^(?:" + pattern + ")$")
		if err != nil {
			continue
		}
		if re.MatchString(s) {
			return true
		}
	}
	return false
}

// matchSet is matchList over the keys of a set.
func matchSet(set map[string]struct{}, s string) bool {
	if _, ok := set[s]; ok {
		return true
	}
	for pattern := range set {
		if matchList([]string{pattern}, s) {
			return true
		}
	}
	return false
}

// lookupAlias resolves an authority through the alias table, allowing the
// table keys to be regexes like the allow-list entries.
func lookupAlias(aliases map[string]string, authority string) (string, bool) {
	if canonical, ok := aliases[authority]; ok {
		return canonical, true
	}
	for pattern, canonical := range aliases {
		if matchList([]string{pattern}, authority) {
			return canonical, true
		}
	}
	return "", false
}
