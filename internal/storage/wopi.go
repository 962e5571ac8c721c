package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/quillstore/quillstore/internal/anonymize"
	qerrors "github.com/quillstore/quillstore/internal/errors"
	"github.com/quillstore/quillstore/internal/logging"
	"github.com/quillstore/quillstore/internal/metrics"
	"github.com/quillstore/quillstore/internal/proof"
)

// userAgent identifies us to storage hosts.
const userAgent = "QuillStore WOPI Agent 1.0"

// Request headers of the storage protocol dialect we speak.
const (
	headerOverride          = "X-WOPI-Override"
	headerLock              = "X-WOPI-Lock"
	headerLockFailureReason = "X-WOPI-LockFailureReason"
	headerSize              = "X-WOPI-Size"
	headerSuggestedTarget   = "X-WOPI-SuggestedTarget"
	headerRequestedName     = "X-WOPI-RequestedName"
	headerServerID          = "X-COOL-WOPI-ServerId"
	headerIsModifiedByUser  = "X-COOL-WOPI-IsModifiedByUser"
	headerIsAutosave        = "X-COOL-WOPI-IsAutosave"
	headerIsExitSave        = "X-COOL-WOPI-IsExitSave"
	headerExtendedData      = "X-COOL-WOPI-ExtendedData"
	headerTimestamp         = "X-COOL-WOPI-Timestamp"
)

// debugCookieEnv names an environment variable whose value is sent as the
// Cookie header on every storage request. Debugging aid for hosts that key
// sessions off cookies.
const debugCookieEnv = "QUILL_STORAGE_COOKIE"

// maxErrorBodySize bounds how much of an error response body is read for
// logging and error messages.
const maxErrorBodySize = 64 * 1024

// TriState is a host-declared boolean that may also be left unset, in which
// case the client keeps its own default.
type TriState int

const (
	TriUnset TriState = iota
	TriFalse
	TriTrue
)

func triState(v *bool) TriState {
	switch {
	case v == nil:
		return TriUnset
	case *v:
		return TriTrue
	}
	return TriFalse
}

// templateExtensions are filename extensions of template documents. A
// template must not be exported over itself, so export is disabled.
var templateExtensions = map[string]struct{}{
	".stw": {}, ".ott": {}, ".dot": {}, ".dotx": {}, ".dotm": {}, ".otm": {},
	".stc": {}, ".ots": {}, ".xltx": {}, ".xltm": {}, ".sti": {}, ".otp": {},
	".potx": {}, ".potm": {}, ".std": {}, ".otg": {},
}

func isTemplateFile(filename string) bool {
	_, ok := templateExtensions[strings.ToLower(path.Ext(filename))]
	return ok
}

// WopiFileInfo is the parsed CheckFileInfo response: the user's identity and
// the host's capability and UI policy for this document.
type WopiFileInfo struct {
	Size             int64
	UserID           string
	ObfuscatedUserID string
	Username         string
	UserExtraInfo    string
	UserPrivateInfo  string
	WatermarkText    string

	PostMessageOrigin string
	BreadcrumbDocName string
	TemplateSaveAs    string
	TemplateSource    string
	FileURL           string

	UserCanWrite            bool
	UserCanNotWriteRelative bool
	UserCanRename           bool
	SupportsLocks           bool
	SupportsRename          bool

	HidePrintOption         bool
	HideSaveOption          bool
	HideExportOption        bool
	HideUserList            string
	DisablePrint            bool
	DisableExport           bool
	DisableCopy             bool
	DisableInactiveMessages bool
	DownloadAsPostMessage   bool
	EnableOwnerTermination  bool
	EnableInsertRemoteImage bool
	EnableShare             bool

	DisableChangeTrackingShow   TriState
	DisableChangeTrackingRecord TriState
	HideChangeTrackingControls  TriState

	// CallDuration is how long the metadata fetch took, redirects included.
	CallDuration time.Duration
}

// wopiRawFileInfo is the wire shape of the CheckFileInfo body. Pointer
// fields distinguish absent from false.
type wopiRawFileInfo struct {
	BaseFileName     string          `json:"BaseFileName"`
	Size             int64           `json:"Size"`
	OwnerID          string          `json:"OwnerId"`
	LastModifiedTime string          `json:"LastModifiedTime"`
	UserID           string          `json:"UserId"`
	UserFriendlyName string          `json:"UserFriendlyName"`
	ObfuscatedUserID string          `json:"ObfuscatedUserId"`
	UserExtraInfo    json.RawMessage `json:"UserExtraInfo"`
	UserPrivateInfo  json.RawMessage `json:"UserPrivateInfo"`
	WatermarkText    string          `json:"WatermarkText"`

	PostMessageOrigin string `json:"PostMessageOrigin"`
	BreadcrumbDocName string `json:"BreadcrumbDocName"`
	TemplateSaveAs    string `json:"TemplateSaveAs"`
	TemplateSource    string `json:"TemplateSource"`
	FileURL           string `json:"FileUrl"`

	UserCanWrite            bool  `json:"UserCanWrite"`
	UserCanNotWriteRelative *bool `json:"UserCanNotWriteRelative"`
	UserCanRename           bool  `json:"UserCanRename"`
	SupportsLocks           bool  `json:"SupportsLocks"`
	SupportsRename          bool  `json:"SupportsRename"`

	HidePrintOption         bool   `json:"HidePrintOption"`
	HideSaveOption          bool   `json:"HideSaveOption"`
	HideExportOption        bool   `json:"HideExportOption"`
	HideUserList            string `json:"HideUserList"`
	DisablePrint            bool   `json:"DisablePrint"`
	DisableExport           bool   `json:"DisableExport"`
	DisableCopy             bool   `json:"DisableCopy"`
	DisableInactiveMessages bool   `json:"DisableInactiveMessages"`
	DownloadAsPostMessage   bool   `json:"DownloadAsPostMessage"`
	EnableOwnerTermination  bool   `json:"EnableOwnerTermination"`
	EnableInsertRemoteImage bool   `json:"EnableInsertRemoteImage"`
	EnableShare             bool   `json:"EnableShare"`

	DisableChangeTrackingShow   *bool `json:"DisableChangeTrackingShow"`
	DisableChangeTrackingRecord *bool `json:"DisableChangeTrackingRecord"`
	HideChangeTrackingControls  *bool `json:"HideChangeTrackingControls"`
}

// WopiOptions configures a remote backend.
type WopiOptions struct {
	// Client is the HTTP client used for all exchanges. It must not follow
	// redirects itself; the backend follows them with a bounded budget. A
	// nil Client gets a private one with a 30s timeout.
	Client *http.Client
	// Signer adds proof headers to every request; nil disables them.
	Signer *proof.Signer
	// ServerID identifies this server instance to the host.
	ServerID string
	// WatermarkOverride, when non-empty, replaces any host-declared
	// watermark text.
	WatermarkOverride string
	// ForceSSL upgrades http locators to https at request time.
	ForceSSL bool
	// Anonymizer redacts identifying strings in log output; nil or
	// disabled passes them through.
	Anonymizer *anonymize.Anonymizer
}

// WopiStorage talks to a remote document host over the WOPI-style HTTP
// protocol.
type WopiStorage struct {
	docBase

	client            *http.Client
	signer            *proof.Signer
	serverID          string
	watermarkOverride string
	forceSSL          bool
	debugCookie       string

	// fileURL is the host-provided direct download URL, if any.
	fileURL string

	async asyncState
	// saveDurationNanos is the wall time of the last completed upload.
	saveDurationNanos atomic.Int64
}

// NewWopiStorage creates a backend bound to the given locator.
func NewWopiStorage(u *url.URL, jailRoot, jailPath string, opts WopiOptions) *WopiStorage {
	log := logging.Component("storage.wopi")
	client := opts.Client
	if client == nil {
		client = &http.Client{
			Timeout: 30 * time.Second,
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		}
	}
	ws := &WopiStorage{
		docBase:           newDocBase(u, jailRoot, jailPath, opts.Anonymizer, log),
		client:            client,
		signer:            opts.Signer,
		serverID:          opts.ServerID,
		watermarkOverride: opts.WatermarkOverride,
		forceSSL:          opts.ForceSSL,
		debugCookie:       os.Getenv(debugCookieEnv),
	}
	log.Debug("created remote storage backend",
		"uri", ws.anon.AnonymizeURL(ws.uri.String()),
		"jailPath", jailPath)
	return ws
}

// requestURL applies the TLS policy to a request target.
func (ws *WopiStorage) requestURL(u *url.URL) *url.URL {
	target := *u
	if ws.forceSSL && target.Scheme == "http" {
		target.Scheme = "https"
	}
	return &target
}

// initRequest applies the headers every storage exchange carries: identity,
// credentials, and proof of origin.
func (ws *WopiStorage) initRequest(req *http.Request, auth Authorization) {
	req.Header.Set("User-Agent", userAgent)
	auth.AuthorizeRequest(req)
	if ws.serverID != "" {
		req.Header.Set(headerServerID, ws.serverID)
	}
	if ws.debugCookie != "" {
		req.Header.Set("Cookie", ws.debugCookie)
	}
	if headers, err := ws.signer.Headers(auth.Token, req.URL.String(), time.Now()); err != nil {
		ws.log.Warn("cannot sign request", "err", err)
	} else {
		for name, value := range headers {
			req.Header.Set(name, value)
		}
	}
}

func isRedirect(status int) bool {
	switch status {
	case http.StatusMovedPermanently, http.StatusFound,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// GetWOPIFileInfo fetches and parses the document's metadata. Failures are
// fail-closed: a rejected credential, an unexpected status, and a 200 with
// an unparsable body all yield an error, never a partially-trusted
// document. Exhausting the redirect budget stops following but still
// processes the response already in hand.
func (ws *WopiStorage) GetWOPIFileInfo(ctx context.Context, auth Authorization, lockCtx *LockContext) (*WopiFileInfo, error) {
	start := time.Now()
	target := ws.requestURL(ws.uri)
	auth.AuthorizeURI(target)
	uriAnonym := ws.anon.AnonymizeURL(ws.uri.String())
	ws.log.Debug("getting file info", "uri", uriAnonym)

	budget := RedirectionLimit
	var resp *http.Response
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
		if err != nil {
			return nil, qerrors.Wrap(qerrors.KindConnection, "building file info request", err)
		}
		ws.initRequest(req, auth)

		resp, err = ws.client.Do(req)
		if err != nil {
			metrics.OperationsTotal.WithLabelValues("checkfileinfo", qerrors.KindConnection.String()).Inc()
			return nil, qerrors.Wrap(qerrors.KindConnection, "file info request failed", err)
		}

		location := resp.Header.Get("Location")
		if !isRedirect(resp.StatusCode) || location == "" {
			break
		}
		if budget == 0 {
			ws.log.Warn("redirected too many times while fetching file info", "uri", uriAnonym)
			break
		}
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodySize))
		resp.Body.Close()

		next, err := target.Parse(location)
		if err != nil {
			return nil, qerrors.Wrap(qerrors.KindConnection, "invalid redirect location", err)
		}
		ws.setURI(next)
		target = ws.requestURL(next)
		auth.AuthorizeURI(target)
		budget--
		metrics.RedirectsTotal.WithLabelValues("checkfileinfo").Inc()
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 16*1024*1024))
	if err != nil {
		return nil, qerrors.Wrap(qerrors.KindConnection, "reading file info response", err)
	}
	callDuration := time.Since(start)

	if resp.StatusCode != http.StatusOK {
		ws.log.Error("file info request failed",
			"uri", uriAnonym,
			"status", resp.StatusCode,
			"response", string(body))
		if resp.StatusCode == http.StatusForbidden {
			metrics.OperationsTotal.WithLabelValues("checkfileinfo", qerrors.KindUnauthorized.String()).Inc()
			return nil, qerrors.New(qerrors.KindUnauthorized, "access denied to document")
		}
		metrics.OperationsTotal.WithLabelValues("checkfileinfo", qerrors.KindConnection.String()).Inc()
		return nil, qerrors.Newf(qerrors.KindConnection, "file info failed with status %d: %s",
			resp.StatusCode, string(body))
	}

	var raw wopiRawFileInfo
	if err := json.Unmarshal(body, &raw); err != nil {
		// A 200 without a parseable body is never trusted.
		ws.log.Error("cannot parse file info response",
			"uri", uriAnonym, "err", err, "response", string(body))
		metrics.OperationsTotal.WithLabelValues("checkfileinfo", qerrors.KindUnauthorized.String()).Inc()
		return nil, qerrors.New(qerrors.KindUnauthorized, "invalid file info response")
	}

	ws.log.Debug("got file info",
		"uri", uriAnonym,
		"filename", ws.anon.Anonymize(raw.BaseFileName),
		"callDuration", callDuration)

	info := ws.applyFileInfo(&raw, lockCtx)
	info.CallDuration = callDuration
	metrics.OperationsTotal.WithLabelValues("checkfileinfo", "ok").Inc()
	metrics.OperationDuration.WithLabelValues("checkfileinfo").Observe(callDuration.Seconds())
	return info, nil
}

// applyFileInfo captures the parsed metadata on the backend and derives the
// session-facing view.
func (ws *WopiStorage) applyFileInfo(raw *wopiRawFileInfo, lockCtx *LockContext) *WopiFileInfo {
	ws.fileInfo = FileInfo{
		Filename:         raw.BaseFileName,
		OwnerID:          raw.OwnerID,
		LastModifiedTime: raw.LastModifiedTime,
	}
	if ws.anon.Enabled {
		// The URI's trailing segment is the host's own obfuscated file id;
		// reuse it as the token for the real filename.
		ws.anon.Map(anonymize.FilenameFromURL(raw.BaseFileName),
			anonymize.FilenameFromURL(ws.uri.String()))
	}

	username := raw.UserFriendlyName
	if username == "" {
		username = "UnknownUser"
		if raw.UserID != "" {
			username += "_" + raw.UserID
		}
		ws.log.Error("missing user friendly name in file info", "substitute", username)
	}
	if ws.anon.Enabled && raw.ObfuscatedUserID != "" {
		ws.anon.Map(raw.OwnerID, raw.ObfuscatedUserID)
		ws.anon.Map(raw.UserID, raw.ObfuscatedUserID)
		ws.anon.Map(username, raw.ObfuscatedUserID)
	}

	info := &WopiFileInfo{
		Size:             raw.Size,
		UserID:           raw.UserID,
		ObfuscatedUserID: raw.ObfuscatedUserID,
		Username:         username,
		UserExtraInfo:    string(raw.UserExtraInfo),
		UserPrivateInfo:  string(raw.UserPrivateInfo),
		WatermarkText:    raw.WatermarkText,

		PostMessageOrigin: raw.PostMessageOrigin,
		BreadcrumbDocName: raw.BreadcrumbDocName,
		TemplateSaveAs:    raw.TemplateSaveAs,
		TemplateSource:    raw.TemplateSource,
		FileURL:           raw.FileURL,

		UserCanWrite:            raw.UserCanWrite,
		UserCanNotWriteRelative: true,
		UserCanRename:           raw.UserCanRename,
		SupportsLocks:           raw.SupportsLocks,
		SupportsRename:          raw.SupportsRename,

		HidePrintOption:         raw.HidePrintOption,
		HideSaveOption:          raw.HideSaveOption,
		HideExportOption:        raw.HideExportOption,
		HideUserList:            raw.HideUserList,
		DisablePrint:            raw.DisablePrint,
		DisableExport:           raw.DisableExport,
		DisableCopy:             raw.DisableCopy,
		DisableInactiveMessages: raw.DisableInactiveMessages,
		DownloadAsPostMessage:   raw.DownloadAsPostMessage,
		EnableOwnerTermination:  raw.EnableOwnerTermination,
		EnableInsertRemoteImage: raw.EnableInsertRemoteImage,
		EnableShare:             raw.EnableShare,

		DisableChangeTrackingShow:   triState(raw.DisableChangeTrackingShow),
		DisableChangeTrackingRecord: triState(raw.DisableChangeTrackingRecord),
		HideChangeTrackingControls:  triState(raw.HideChangeTrackingControls),
	}
	if raw.UserCanNotWriteRelative != nil {
		info.UserCanNotWriteRelative = *raw.UserCanNotWriteRelative
	}
	if info.HideUserList == "" {
		info.HideUserList = "false"
	}
	if ws.watermarkOverride != "" {
		info.WatermarkText = ws.watermarkOverride
	}
	if isTemplateFile(raw.BaseFileName) {
		// Exporting a template over itself would destroy it.
		info.DisableExport = true
	}
	if info.SupportsLocks && lockCtx != nil {
		lockCtx.InitSupportsLocks()
	}
	ws.fileURL = raw.FileURL
	return info
}

// DownloadStorageFileToLocal fetches the document bytes into the jail. A
// template source, when given, is fetched instead of the document content.
// The host's direct download URL is preferred when declared, falling back
// to the contents endpoint unless the failure was local disk space.
func (ws *WopiStorage) DownloadStorageFileToLocal(ctx context.Context, auth Authorization, _ *LockContext, templateURI string) (string, error) {
	root, err := ws.localRootPath()
	if err != nil {
		return "", qerrors.Wrap(qerrors.KindBadRequest, "cannot create jail directory", err)
	}
	name := ws.fileInfo.Filename
	if !ws.fileInfo.Valid() {
		name = path.Base(ws.uri.Path)
	}
	ws.SetRootFilePath(filepath.Join(root, name))

	if templateURI != "" {
		u, err := url.Parse(templateURI)
		if err != nil {
			return "", qerrors.Wrap(qerrors.KindBadRequest, "invalid template source", err)
		}
		return ws.downloadDocument(ctx, u, auth)
	}

	if ws.fileURL != "" {
		if u, err := url.Parse(ws.fileURL); err == nil {
			local, derr := ws.downloadDocument(ctx, u, auth)
			if derr == nil {
				return local, nil
			}
			if qerrors.IsDiskSpace(derr) {
				return "", derr
			}
			ws.log.Error("direct download failed, falling back to contents endpoint",
				"uri", ws.anon.AnonymizeURL(ws.fileURL), "err", derr)
		}
	}

	contents := *ws.uri
	contents.Path = strings.TrimSuffix(contents.Path, "/") + "/contents"
	return ws.downloadDocument(ctx, &contents, auth)
}

// downloadDocument streams one URL into the jailed file path, following
// redirects up to the budget. Running out of budget is fatal here, unlike
// the metadata fetch.
func (ws *WopiStorage) downloadDocument(ctx context.Context, u *url.URL, auth Authorization) (string, error) {
	start := time.Now()
	target := ws.requestURL(u)
	auth.AuthorizeURI(target)
	uriAnonym := ws.anon.AnonymizeURL(u.String())
	ws.log.Debug("downloading document", "uri", uriAnonym, "to", ws.jailedFilePathAnonym)

	budget := RedirectionLimit
	var resp *http.Response
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), nil)
		if err != nil {
			return "", qerrors.Wrap(qerrors.KindConnection, "building download request", err)
		}
		ws.initRequest(req, auth)

		resp, err = ws.client.Do(req)
		if err != nil {
			metrics.OperationsTotal.WithLabelValues("getfile", qerrors.KindConnection.String()).Inc()
			return "", qerrors.Wrap(qerrors.KindConnection, "download request failed", err)
		}

		location := resp.Header.Get("Location")
		if !isRedirect(resp.StatusCode) || location == "" {
			break
		}
		io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodySize))
		resp.Body.Close()
		if budget == 0 {
			metrics.OperationsTotal.WithLabelValues("getfile", qerrors.KindConnection.String()).Inc()
			return "", qerrors.New(qerrors.KindConnection, "redirected too many times while downloading")
		}
		next, err := target.Parse(location)
		if err != nil {
			return "", qerrors.Wrap(qerrors.KindConnection, "invalid redirect location", err)
		}
		target = ws.requestURL(next)
		budget--
		metrics.RedirectsTotal.WithLabelValues("getfile").Inc()
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))
		ws.log.Error("download failed",
			"uri", uriAnonym, "status", resp.StatusCode, "response", string(body))
		metrics.OperationsTotal.WithLabelValues("getfile", qerrors.KindConnection.String()).Inc()
		return "", qerrors.Newf(qerrors.KindConnection, "download failed with status %d", resp.StatusCode)
	}

	if !checkDiskSpace(ws.jailedFilePath) {
		metrics.OperationsTotal.WithLabelValues("getfile", qerrors.KindDiskSpace.String()).Inc()
		return "", qerrors.New(qerrors.KindDiskSpace, "low disk space while downloading document")
	}

	f, err := os.OpenFile(ws.jailedFilePath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o600)
	if err != nil {
		return "", qerrors.Wrap(qerrors.KindConnection, "cannot create jailed file", err)
	}
	n, err := io.Copy(f, resp.Body)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		os.Remove(ws.jailedFilePath)
		metrics.OperationsTotal.WithLabelValues("getfile", qerrors.KindConnection.String()).Inc()
		return "", qerrors.Wrap(qerrors.KindConnection, "writing document to jail", err)
	}

	ws.downloaded = true
	ws.log.Info("downloaded document",
		"uri", uriAnonym,
		"jailed", ws.jailedFilePathAnonym,
		"size", n,
		"duration", time.Since(start))
	metrics.OperationsTotal.WithLabelValues("getfile", "ok").Inc()
	metrics.OperationDuration.WithLabelValues("getfile").Observe(time.Since(start).Seconds())
	metrics.TransferBytes.WithLabelValues("download").Observe(float64(n))
	return ws.jailedFilePath, nil
}

// UpdateLockState acquires or releases the lease lock. A refused lock is
// non-fatal: the host's reason is recorded on lockCtx and the session keeps
// editing; only the next save surfaces the conflict.
func (ws *WopiStorage) UpdateLockState(ctx context.Context, auth Authorization, lockCtx *LockContext, lock bool) error {
	lockCtx.FailureReason = ""
	if !lockCtx.SupportsLocks {
		return nil
	}

	operation := "unlock"
	override := "UNLOCK"
	if lock {
		operation = "lock"
		override = "LOCK"
	}

	target := ws.requestURL(ws.uri)
	auth.AuthorizeURI(target)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), nil)
	if err != nil {
		return qerrors.Wrap(qerrors.KindConnection, "building "+operation+" request", err)
	}
	ws.initRequest(req, auth)
	req.Header.Set(headerOverride, override)
	req.Header.Set(headerLock, lockCtx.Token)
	if ws.extendedData != "" {
		req.Header.Set(headerExtendedData, ws.extendedData)
	}

	resp, err := ws.client.Do(req)
	if err != nil {
		metrics.OperationsTotal.WithLabelValues(operation, qerrors.KindConnection.String()).Inc()
		return qerrors.Wrap(qerrors.KindConnection, operation+" request failed", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBodySize))

	if resp.StatusCode == http.StatusOK {
		lockCtx.IsLocked = lock
		lockCtx.LastLockTime = time.Now()
		metrics.OperationsTotal.WithLabelValues(operation, "ok").Inc()
		return nil
	}

	lockCtx.FailureReason = resp.Header.Get(headerLockFailureReason)
	ws.log.Warn("lock state change refused",
		"operation", operation,
		"uri", ws.anon.AnonymizeURL(ws.uri.String()),
		"status", resp.StatusCode,
		"reason", lockCtx.FailureReason,
		"response", string(body))
	metrics.OperationsTotal.WithLabelValues(operation, qerrors.KindConnection.String()).Inc()
	return qerrors.Newf(qerrors.KindConnection, "%s failed with status %d: %s",
		operation, resp.StatusCode, lockCtx.FailureReason)
}

// LastSaveDuration returns the wall time of the last completed upload.
func (ws *WopiStorage) LastSaveDuration() time.Duration {
	return time.Duration(ws.saveDurationNanos.Load())
}

// DumpState writes the backend state for diagnostics.
func (ws *WopiStorage) DumpState(w io.Writer) {
	fmt.Fprintf(w, "  uri: %s\n", ws.anon.AnonymizeURL(ws.uri.String()))
	fmt.Fprintf(w, "  filename: %s\n", ws.anon.Anonymize(ws.fileInfo.Filename))
	fmt.Fprintf(w, "  downloaded: %v\n", ws.downloaded)
	fmt.Fprintf(w, "  lastModifiedTime: %s\n", ws.fileInfo.LastModifiedTime)
	fmt.Fprintf(w, "  forceSave: %v\n", ws.forceSave)
	fmt.Fprintf(w, "  lastSaveDuration: %s\n", ws.LastSaveDuration())
	fmt.Fprintf(w, "  asyncUploadState: %d\n", ws.async.state().State)
}
