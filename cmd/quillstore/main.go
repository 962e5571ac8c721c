// Package main is the entry point for the QuillStore storage-access tool.
// It resolves a document locator to a storage backend and runs one protocol
// operation against it: metadata fetch, download, upload, lock, or unlock.
// With -op=serve it only exposes the admin endpoints and waits.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/quillstore/quillstore/internal/anonymize"
	"github.com/quillstore/quillstore/internal/config"
	"github.com/quillstore/quillstore/internal/hostallow"
	"github.com/quillstore/quillstore/internal/logging"
	"github.com/quillstore/quillstore/internal/metrics"
	"github.com/quillstore/quillstore/internal/proof"
	"github.com/quillstore/quillstore/internal/storage"
	"github.com/quillstore/quillstore/internal/uid"
)

func main() {
	configPath := flag.String("config", "quillstore.yaml", "path to configuration file")
	op := flag.String("op", "info", "operation: info, get, put, lock, unlock, serve")
	uri := flag.String("uri", "", "document locator (file:// path or WOPI file URL)")
	token := flag.String("token", "", "access token for remote locators")
	file := flag.String("file", "", "local file: download target for get, upload source for put")
	jailRoot := flag.String("jail", "", "jail root directory (default: a temp dir)")
	logLevel := flag.String("log-level", "", "log level: debug, info, warn, error (default: from config)")
	logFormat := flag.String("log-format", "", "log format: text, json (default: from config)")
	adminAddr := flag.String("admin", "", "admin listener address (default: from config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// Command-line flags override config file values.
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}
	if *adminAddr != "" {
		cfg.Admin.Addr = *adminAddr
	}

	logging.Setup(cfg.Logging.Level, cfg.Logging.Format, os.Stderr)
	metrics.Register()

	anon := anonymize.New(cfg.Logging.AnonymizeUserData, cfg.Logging.AnonymizationSalt)
	policy := hostallow.New(hostallow.Settings{
		Enabled: cfg.Storage.Wopi.Allow,
		Mode:    cfg.Storage.Wopi.AliasGroups.Mode,
		Hosts:   hostRules(cfg),
		Groups:  aliasGroups(cfg),
	})
	signer, err := proof.LoadSigner(cfg.Storage.ProofKeyPath, cfg.Storage.OldProofKeyPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load proof keys: %v\n", err)
		os.Exit(1)
	}
	factory := storage.NewFactory(cfg, policy, anon, signer)
	slog.Info("storage layer initialized", "serverId", factory.ServerID())

	var admin *http.Server
	if cfg.Admin.Addr != "" {
		admin = startAdmin(cfg.Admin.Addr)
		defer stopAdmin(admin)
	}

	if *op == "serve" {
		if admin == nil {
			fmt.Fprintf(os.Stderr, "serve needs an admin address (flag -admin or config admin.addr)\n")
			os.Exit(1)
		}
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		return
	}

	if *uri == "" {
		fmt.Fprintf(os.Stderr, "operation %s needs -uri\n", *op)
		os.Exit(1)
	}
	root := *jailRoot
	if root == "" {
		root, err = os.MkdirTemp("", "quillstore-jail-")
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to create jail: %v\n", err)
			os.Exit(1)
		}
		defer os.RemoveAll(root)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	if err := runOperation(ctx, factory, *op, *uri, *token, root, *file); err != nil {
		fmt.Fprintf(os.Stderr, "%s failed: %v\n", *op, err)
		os.Exit(1)
	}
}

// runOperation resolves the locator and executes one protocol operation.
func runOperation(ctx context.Context, factory *storage.Factory, op, uri, token, jailRoot, file string) error {
	auth := storage.Authorization{Token: token}
	jailPath := "/user/docs/" + uid.NewN(8)
	lockCtx := factory.NewLockContext()

	backend, err := factory.Create(ctx, uri, jailRoot, jailPath, false)
	if err != nil {
		return err
	}

	// Metadata first: it is what latches capabilities like locking.
	switch b := backend.(type) {
	case *storage.WopiStorage:
		info, err := b.GetWOPIFileInfo(ctx, auth, lockCtx)
		if err != nil {
			return err
		}
		if op == "info" {
			return printJSON(map[string]any{"file": b.FileInfo(), "wopi": info})
		}
	case *storage.LocalStorage:
		info, err := b.GetLocalFileInfo()
		if err != nil {
			return err
		}
		if op == "info" {
			return printJSON(map[string]any{"file": b.FileInfo(), "local": info})
		}
	}

	switch op {
	case "get":
		local, err := backend.DownloadStorageFileToLocal(ctx, auth, lockCtx, "")
		if err != nil {
			return err
		}
		if file != "" {
			if err := copyOut(local, file); err != nil {
				return err
			}
			local = file
		}
		fmt.Println(local)
		return nil

	case "put":
		if file == "" {
			return fmt.Errorf("put needs -file")
		}
		// The upload reads the staging copy next to the downloaded one.
		if _, err := backend.DownloadStorageFileToLocal(ctx, auth, lockCtx, ""); err != nil {
			return err
		}
		staging := backend.(interface{ RootFilePathToUpload() string })
		if err := copyOut(file, staging.RootFilePathToUpload()); err != nil {
			return err
		}
		backend.SetUserModified(true)
		res := backend.UploadLocalFileToStorage(ctx, auth, lockCtx, "", "", false)
		if res.Result != storage.UploadOK {
			return fmt.Errorf("upload result %s: %s", res.Result, res.Reason)
		}
		return printJSON(res)

	case "lock":
		if err := backend.UpdateLockState(ctx, auth, lockCtx, true); err != nil {
			return err
		}
		return printJSON(lockCtx)

	case "unlock":
		if err := backend.UpdateLockState(ctx, auth, lockCtx, false); err != nil {
			return err
		}
		return printJSON(lockCtx)
	}

	return fmt.Errorf("unknown operation %q", op)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func copyOut(src, dst string) error {
	data, err := os.ReadFile(src)
	if err != nil {
		return err
	}
	return os.WriteFile(dst, data, 0o644)
}

// startAdmin serves /healthz and /metrics on its own listener.
func startAdmin(addr string) *http.Server {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintln(w, "ok")
	})
	r.Handle("/metrics", promhttp.Handler())

	srv := &http.Server{Addr: addr, Handler: r}
	go func() {
		slog.Info("admin listener started", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("admin listener failed", "error", err)
		}
	}()
	return srv
}

func stopAdmin(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
}

// hostRules converts the config allow/deny entries to policy rules.
func hostRules(cfg *config.Config) []hostallow.HostRule {
	rules := make([]hostallow.HostRule, 0, len(cfg.Storage.Wopi.Hosts))
	for _, h := range cfg.Storage.Wopi.Hosts {
		rules = append(rules, hostallow.HostRule{Pattern: h.Pattern, Allow: h.Allow})
	}
	return rules
}

// aliasGroups converts the config alias groups to policy groups.
func aliasGroups(cfg *config.Config) []hostallow.AliasGroup {
	groups := make([]hostallow.AliasGroup, 0, len(cfg.Storage.Wopi.AliasGroups.Groups))
	for _, g := range cfg.Storage.Wopi.AliasGroups.Groups {
		groups = append(groups, hostallow.AliasGroup{Host: g.Host, Allow: g.Allow, Aliases: g.Aliases})
	}
	return groups
}
