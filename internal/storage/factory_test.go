package storage

import (
	"context"
	"net/url"
	"testing"

	"github.com/quillstore/quillstore/internal/anonymize"
	"github.com/quillstore/quillstore/internal/config"
	qerrors "github.com/quillstore/quillstore/internal/errors"
	"github.com/quillstore/quillstore/internal/hostallow"
)

func newTestFactory(cfg *config.Config, policy *hostallow.Policy) *Factory {
	if policy == nil {
		policy = hostallow.New(hostallow.Settings{})
	}
	return NewFactory(cfg, policy, anonymize.New(false, 1), nil)
}

func TestFactoryLocalStorage(t *testing.T) {
	cfg := &config.Config{}
	cfg.Storage.Filesystem.Allow = true
	cfg.Net.ConnectionTimeoutSecs = 5
	f := newTestFactory(cfg, nil)

	backend, err := f.Create(context.Background(), "file:///data/docs/report.odt", t.TempDir(), "/user/docs/1", false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if _, ok := backend.(*LocalStorage); !ok {
		t.Fatalf("backend type = %T, want *LocalStorage", backend)
	}
}

func TestFactoryLocalStorageDisabled(t *testing.T) {
	cfg := &config.Config{}
	cfg.Net.ConnectionTimeoutSecs = 5
	f := newTestFactory(cfg, nil)

	_, err := f.Create(context.Background(), "file:///data/docs/report.odt", t.TempDir(), "/user/docs/1", false)
	if !qerrors.IsBadRequest(err) {
		t.Errorf("err = %v, want bad request", err)
	}

	// Taking ownership overrides the filesystem switch; the file is ours.
	if _, err := f.Create(context.Background(), "file:///tmp/convert/input.odt", t.TempDir(), "/user/docs/1", true); err != nil {
		t.Errorf("takeOwnership create failed: %v", err)
	}
}

func TestFactoryRemoteAllowedHost(t *testing.T) {
	cfg := &config.Config{}
	cfg.Storage.Wopi.Allow = true
	cfg.Net.ConnectionTimeoutSecs = 5
	policy := hostallow.New(hostallow.Settings{
		Enabled: true,
		Hosts:   []hostallow.HostRule{{Pattern: "storage.example.com", Allow: true}},
	})
	f := newTestFactory(cfg, policy)

	backend, err := f.Create(context.Background(),
		"https://storage.example.com/wopi/files/1?access_token=secret",
		t.TempDir(), "/user/docs/1", false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	ws, ok := backend.(*WopiStorage)
	if !ok {
		t.Fatalf("backend type = %T, want *WopiStorage", backend)
	}
	if ws.URI().Query().Get("access_token") != "" {
		t.Error("backend locator still carries the access token")
	}
}

func TestFactoryRemoteUnknownHostRejected(t *testing.T) {
	cfg := &config.Config{}
	cfg.Storage.Wopi.Allow = true
	cfg.Net.ConnectionTimeoutSecs = 5
	policy := hostallow.New(hostallow.Settings{
		Enabled: true,
		Hosts:   []hostallow.HostRule{{Pattern: "storage.example.com", Allow: true}},
	})
	f := newTestFactory(cfg, policy)

	_, err := f.Create(context.Background(),
		"https://evil.example.net/wopi/files/1", t.TempDir(), "/user/docs/1", false)
	if !qerrors.IsUnauthorized(err) {
		t.Errorf("err = %v, want unauthorized", err)
	}
}

func TestFactoryLoopbackAlwaysAdmitted(t *testing.T) {
	cfg := &config.Config{}
	cfg.Storage.Wopi.Allow = true
	cfg.Net.ConnectionTimeoutSecs = 5
	f := newTestFactory(cfg, nil) // empty policy: nothing allow-listed

	for _, uri := range []string{
		"http://localhost:9980/wopi/files/1",
		"http://127.0.0.1:9980/wopi/files/1",
	} {
		if _, err := f.Create(context.Background(), uri, t.TempDir(), "/user/docs/1", false); err != nil {
			t.Errorf("loopback locator %s rejected: %v", uri, err)
		}
	}
}

func TestFactoryRemoteDisabled(t *testing.T) {
	cfg := &config.Config{}
	cfg.Net.ConnectionTimeoutSecs = 5
	f := newTestFactory(cfg, nil)

	_, err := f.Create(context.Background(),
		"https://storage.example.com/wopi/files/1", t.TempDir(), "/user/docs/1", false)
	if !qerrors.IsBadRequest(err) {
		t.Errorf("err = %v, want bad request", err)
	}
}

func TestFactoryRejectsBadLocators(t *testing.T) {
	cfg := &config.Config{}
	cfg.Net.ConnectionTimeoutSecs = 5
	f := newTestFactory(cfg, nil)

	for _, uri := range []string{"", "ftp://host/file.odt", "::bad::"} {
		if _, err := f.Create(context.Background(), uri, t.TempDir(), "/user/docs/1", false); !qerrors.IsBadRequest(err) {
			t.Errorf("locator %q: err = %v, want bad request", uri, err)
		}
	}
}

func TestFactoryCreateHook(t *testing.T) {
	cfg := &config.Config{}
	cfg.Net.ConnectionTimeoutSecs = 5
	f := newTestFactory(cfg, nil)

	want := &LocalStorage{}
	f.CreateHook = func(u *url.URL, jailRoot, jailPath string) (Backend, error) {
		return want, nil
	}
	got, err := f.Create(context.Background(), "https://anything/at/all", t.TempDir(), "/user/docs/1", false)
	if err != nil {
		t.Fatal(err)
	}
	if got != Backend(want) {
		t.Error("hook result not returned")
	}
}
