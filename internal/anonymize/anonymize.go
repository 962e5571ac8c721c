// Package anonymize provides deterministic, salted redaction of identifying
// strings for logging. Tokens are memoized so the same plaintext always maps
// to the same token within one process lifetime, keeping log lines
// correlatable without exposing user data. Tokens are not stable across
// restarts.
package anonymize

import (
	"fmt"
	"strings"
	"sync"
)

// Anonymizer replaces sensitive strings with cached one-way tokens. All
// methods are safe for concurrent use; a single mutex guards lookup and
// insert, and is never held across I/O.
type Anonymizer struct {
	// Enabled controls whether anonymization is applied. When false all
	// methods pass input through unchanged.
	Enabled bool

	salt uint64

	mu      sync.Mutex
	counter uint64
	tokens  map[string]string
}

// New returns an Anonymizer using the given salt. When enabled is false the
// anonymizer is a pass-through.
func New(enabled bool, salt uint64) *Anonymizer {
	return &Anonymizer{
		Enabled: enabled,
		salt:    salt,
		tokens:  make(map[string]string),
	}
}

// Anonymize returns the token for text, generating and caching one on first
// use. The token format is "#<counter>#<hex(hash)>#": the counter is a
// process-wide monotonic integer assigned at first anonymization, so tokens
// stay locally unique even if hashes collide.
func (a *Anonymizer) Anonymize(text string) string {
	if a == nil || !a.Enabled || text == "" {
		return text
	}

	// The lock covers lookup, hash, and insert as one step, so concurrent
	// first-time calls for the same plaintext agree on one token. The hash
	// loop is a few multiplications and spans no I/O.
	a.mu.Lock()
	defer a.mu.Unlock()
	if token, ok := a.tokens[text]; ok {
		return token
	}
	n := a.counter
	a.counter++

	// Salted 64-bit FNV-1a: the salt is folded in before and after the
	// input bytes so that equal inputs under different salts diverge.
	hash := uint64(0xCBF29CE484222325)
	hash ^= a.salt
	hash *= 0x100000001b3
	for i := 0; i < len(text); i++ {
		hash ^= uint64(text[i])
		hash *= 0x100000001b3
	}
	hash ^= a.salt
	hash *= 0x100000001b3

	token := fmt.Sprintf("#%x#%x#", n, hash)
	a.tokens[text] = token
	return token
}

// Map forces plain to anonymize to token from now on. Used to align a
// host-declared obfuscated identifier with the local identifiers it covers.
// Empty arguments are ignored.
func (a *Anonymizer) Map(plain, token string) {
	if a == nil || plain == "" || token == "" {
		return
	}
	a.mu.Lock()
	a.tokens[plain] = token
	a.mu.Unlock()
}

// Clear resets the token cache. Test teardown use only.
func (a *Anonymizer) Clear() {
	if a == nil {
		return
	}
	a.mu.Lock()
	a.tokens = make(map[string]string)
	a.mu.Unlock()
}

// AnonymizeURL anonymizes only the filename component of a URL or path. The
// directory part, the extension and any query parameters survive, so log
// lines remain navigable.
func (a *Anonymizer) AnonymizeURL(url string) string {
	if a == nil || !a.Enabled {
		return url
	}
	base, filename, ext, params := splitURL(url)
	return base + a.Anonymize(filename) + ext + params
}

// FilenameFromURL returns the filename component of a URL or path, without
// directory, extension, or query parameters.
func FilenameFromURL(url string) string {
	_, filename, _, _ := splitURL(url)
	return filename
}

// splitURL splits a URL or path into the part up to and including the last
// '/', the filename stem, the extension including its '.', and the query
// including its '?'.
func splitURL(url string) (base, filename, ext, params string) {
	rest := url
	if i := strings.IndexByte(rest, '?'); i >= 0 {
		params = rest[i:]
		rest = rest[:i]
	}
	if i := strings.LastIndexByte(rest, '/'); i >= 0 {
		base = rest[:i+1]
		filename = rest[i+1:]
	} else {
		filename = rest
	}
	if i := strings.LastIndexByte(filename, '.'); i >= 0 {
		ext = filename[i:]
		filename = filename[:i]
	}
	return base, filename, ext, params
}
