package storage

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/quillstore/quillstore/internal/anonymize"
	"github.com/quillstore/quillstore/internal/config"
	qerrors "github.com/quillstore/quillstore/internal/errors"
	"github.com/quillstore/quillstore/internal/hostallow"
	"github.com/quillstore/quillstore/internal/logging"
	"github.com/quillstore/quillstore/internal/proof"
)

// Factory resolves document locators to backends, enforcing the host
// authorization policy for remote ones. One factory serves all sessions;
// its HTTP client and server id are shared across backends.
type Factory struct {
	cfg    *config.Config
	policy *hostallow.Policy
	anon   *anonymize.Anonymizer
	signer *proof.Signer

	serverID string
	client   *http.Client
	log      *slog.Logger

	// CreateHook, when set, replaces backend creation entirely. Test seam.
	CreateHook func(u *url.URL, jailRoot, jailPath string) (Backend, error)
}

// NewFactory builds a factory from loaded configuration. signer may be nil.
func NewFactory(cfg *config.Config, policy *hostallow.Policy, anon *anonymize.Anonymizer, signer *proof.Signer) *Factory {
	return &Factory{
		cfg:      cfg,
		policy:   policy,
		anon:     anon,
		signer:   signer,
		serverID: uuid.NewString(),
		client: &http.Client{
			Timeout: time.Duration(cfg.Net.ConnectionTimeoutSecs) * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		log: logging.Component("storage.factory"),
	}
}

// ServerID returns the instance id sent to hosts on every request.
func (f *Factory) ServerID() string { return f.serverID }

// NewLockContext returns a lock context with the configured refresh cadence.
func (f *Factory) NewLockContext() *LockContext {
	return NewLockContext(time.Duration(f.cfg.Storage.Wopi.Locking.RefreshSecs) * time.Second)
}

// Create resolves a locator to a backend. Local paths require filesystem
// storage to be enabled, unless takeOwnership marks the file as ours (e.g.
// a conversion input already moved into our temp dir). Remote locators must
// pass the host authorization policy.
func (f *Factory) Create(ctx context.Context, rawURI, jailRoot, jailPath string, takeOwnership bool) (Backend, error) {
	if rawURI == "" {
		return nil, qerrors.New(qerrors.KindBadRequest, "empty document locator")
	}
	u, err := url.Parse(rawURI)
	if err != nil {
		return nil, qerrors.Wrap(qerrors.KindBadRequest, "invalid document locator", err)
	}

	if f.CreateHook != nil {
		f.log.Info("storage creation hooked")
		return f.CreateHook(u, jailRoot, jailPath)
	}

	switch u.Scheme {
	case "file", "":
		if f.cfg.Storage.Filesystem.Allow || takeOwnership {
			return NewLocalStorage(u, jailRoot, jailPath, f.anon), nil
		}
		f.log.Error("local document access is disabled",
			"uri", f.anon.AnonymizeURL(rawURI))
		return nil, qerrors.New(qerrors.KindBadRequest, "local storage is disabled")

	case "http", "https":
		if !f.cfg.Storage.Wopi.Allow {
			f.log.Error("remote document access is disabled",
				"uri", f.anon.AnonymizeURL(rawURI))
			return nil, qerrors.New(qerrors.KindBadRequest, "remote storage is disabled")
		}
		if !f.hostAllowed(ctx, u) {
			f.log.Error("no acceptable host found",
				"uri", f.anon.AnonymizeURL(rawURI), "host", u.Hostname())
			return nil, qerrors.Newf(qerrors.KindUnauthorized, "host not allowed: %s", u.Hostname())
		}
		return NewWopiStorage(u, jailRoot, jailPath, WopiOptions{
			Client:            f.client,
			Signer:            f.signer,
			ServerID:          f.serverID,
			WatermarkOverride: f.cfg.Storage.WatermarkText,
			ForceSSL:          !f.cfg.Storage.SSL.AsScheme && f.cfg.Storage.SSL.Enable,
			Anonymizer:        f.anon,
		}), nil
	}

	return nil, qerrors.Newf(qerrors.KindBadRequest, "unsupported locator scheme: %s", u.Scheme)
}

// hostAllowed applies the authorization policy to a remote locator.
// Loopback hosts are always admitted; development setups depend on it.
func (f *Factory) hostAllowed(ctx context.Context, u *url.URL) bool {
	host := u.Hostname()
	if isLoopbackHost(ctx, host) {
		f.log.Debug("loopback host admitted", "host", host)
		return true
	}
	if !f.policy.AllowedAlias(u) {
		return false
	}
	if f.policy.AllowedHost(host) {
		return true
	}
	// Compatibility fallback: admit a host when one of its resolved
	// addresses is itself allow-listed. Note this widens the allow-list to
	// every name resolving to an allowed address.
	addrs, err := net.DefaultResolver.LookupHost(ctx, host)
	if err != nil {
		return false
	}
	for _, addr := range addrs {
		if f.policy.AllowedHost(addr) {
			f.log.Warn("host admitted via resolved address",
				"host", host, "address", addr)
			return true
		}
	}
	return false
}

// isLoopbackHost reports whether host names the local machine.
func isLoopbackHost(ctx context.Context, host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	addrs, err := net.DefaultResolver.LookupIPAddr(ctx, host)
	if err != nil {
		return false
	}
	for _, addr := range addrs {
		if addr.IP.IsLoopback() {
			return true
		}
	}
	return false
}
