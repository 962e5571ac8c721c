// Package storage implements the document storage-access layer: it resolves
// a document locator to a concrete backend (local filesystem or a WOPI-style
// HTTP host), downloads the document into a per-session jail directory, and
// uploads modified bytes back, with lease locking and log anonymization.
package storage

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/quillstore/quillstore/internal/anonymize"
)

// RedirectionLimit bounds the number of HTTP redirections followed per
// operation to prevent redirection loops.
const RedirectionLimit = 21

// toUploadSuffix marks the staging copy of the jailed file that the next
// upload reads from.
const toUploadSuffix = ".upload"

// FileInfo holds a file's basic attributes, for local and remote files
// alike. LastModifiedTime is the opaque timestamp exactly as reported by the
// host; it is compared for equality only, never parsed.
type FileInfo struct {
	Filename         string
	OwnerID          string
	LastModifiedTime string
}

// Valid reports whether the info describes an existing file. Zero-byte
// files are valid; the editor opens them as new documents.
func (fi FileInfo) Valid() bool {
	return fi.Filename != ""
}

// UploadResultCode classifies the outcome of an upload.
type UploadResultCode int

const (
	// UploadOK means the host accepted the upload.
	UploadOK UploadResultCode = iota
	// UploadDiskFull means the host rejected the upload for lack of space
	// or a size limit.
	UploadDiskFull
	// UploadUnauthorized means the credential was rejected.
	UploadUnauthorized
	// UploadDocChanged means the document changed in storage behind us.
	UploadDocChanged
	// UploadConflict means the host reported a plain conflict.
	UploadConflict
	// UploadFailed covers every other failure.
	UploadFailed
)

// String returns the canonical name of the result code.
func (c UploadResultCode) String() string {
	switch c {
	case UploadOK:
		return "ok"
	case UploadDiskFull:
		return "diskfull"
	case UploadUnauthorized:
		return "unauthorized"
	case UploadDocChanged:
		return "doc_changed"
	case UploadConflict:
		return "conflict"
	}
	return "failed"
}

// UploadResult is the uniform outcome of an upload request. Reason may be
// shown to clients. SaveAsName and SaveAsURL are populated only for save-as
// and rename outcomes.
type UploadResult struct {
	Result     UploadResultCode
	Reason     string
	SaveAsName string
	SaveAsURL  string
}

// AsyncUploadState is the state of an asynchronous upload request.
type AsyncUploadState int

const (
	// AsyncNone means no async upload is in progress.
	AsyncNone AsyncUploadState = iota
	// AsyncRunning means an async upload request is in flight.
	AsyncRunning
	// AsyncError means the exchange failed before a host verdict existed.
	AsyncError
	// AsyncComplete means the exchange completed, whatever the host said.
	AsyncComplete
)

// AsyncUpload pairs the async state with the mapped upload result.
type AsyncUpload struct {
	State  AsyncUploadState
	Result UploadResult
}

// AsyncUploadCallback delivers the outcome of an accepted asynchronous
// upload. It is invoked exactly once per accepted request, from the
// uploader's goroutine, never the caller's.
type AsyncUploadCallback func(AsyncUpload)

// docChangedStatusCode is the host status code signalling that the document
// changed in storage behind our back (body field COOLStatusCode, or the
// legacy LOOLStatusCode).
const docChangedStatusCode = 1010

// Authorization carries the session credential applied to outgoing
// requests: an access token passed as a query parameter and optionally a
// raw Authorization header value.
type Authorization struct {
	// Token is appended to request URLs as the access_token parameter.
	Token string
	// Header, when non-empty, is sent verbatim as the Authorization header.
	Header string
}

// AuthorizeURI sets the session's access token on the URL, replacing any
// token already present.
func (a Authorization) AuthorizeURI(u *url.URL) {
	if a.Token == "" {
		return
	}
	q := u.Query()
	q.Set("access_token", a.Token)
	u.RawQuery = q.Encode()
}

// AuthorizeRequest applies header-based credentials to the request.
func (a Authorization) AuthorizeRequest(req *http.Request) {
	if a.Header != "" {
		req.Header.Set("Authorization", a.Header)
	}
}

// Backend is the uniform contract over storage variants. A backend instance
// is bound to exactly one locator for its lifetime; the locator only changes
// when an operation follows a redirect, and is re-sanitized then.
type Backend interface {
	// URI returns the sanitized locator the backend is bound to.
	URI() *url.URL

	// FileInfo returns the attributes captured by the last metadata fetch
	// or upload.
	FileInfo() FileInfo

	// IsDownloaded reports whether the working copy exists in the jail.
	IsDownloaded() bool

	// SetForceSave asks the backend to overwrite storage on the next save
	// even if the document changed there.
	SetForceSave(bool)
	// SetUserModified records whether the user modified the document.
	SetUserModified(bool)
	// SetIsAutosave marks the next save as an autosave.
	SetIsAutosave(bool)
	// SetIsExitSave marks the next save as a save-on-exit.
	SetIsExitSave(bool)
	// SetExtendedData sets client-provided data forwarded to the host on
	// upload calls.
	SetExtendedData(string)

	// UpdateLockState acquires (lock=true) or releases the lease lock.
	// A no-op success when lock support was never established. Failures
	// are non-fatal: the reason is recorded on lockCtx and returned.
	UpdateLockState(ctx context.Context, auth Authorization, lockCtx *LockContext, lock bool) error

	// DownloadStorageFileToLocal fetches the document into the jail and
	// returns the local path. templateURI, when non-empty, is fetched
	// instead of the document's own content.
	DownloadStorageFileToLocal(ctx context.Context, auth Authorization, lockCtx *LockContext, templateURI string) (string, error)

	// UploadLocalFileToStorage writes the working copy back to the source,
	// blocking until the exchange completes.
	UploadLocalFileToStorage(ctx context.Context, auth Authorization, lockCtx *LockContext, saveAsPath, saveAsFilename string, isRename bool) UploadResult

	// UploadLocalFileToStorageAsync starts a non-blocking upload. At most
	// one may be in flight per backend; a second request is refused with
	// ErrUploadInFlight without disturbing the pending one. The callback
	// fires exactly once per accepted request.
	UploadLocalFileToStorageAsync(ctx context.Context, auth Authorization, lockCtx *LockContext, saveAsPath, saveAsFilename string, isRename bool, cb AsyncUploadCallback) error

	// QueryAsyncUploadState reports the progress of the async upload.
	QueryAsyncUploadState() AsyncUpload

	// CancelAsyncUpload cancels an active async upload. Backends without
	// cancellation treat this as a no-op; the completion callback remains
	// the single source of truth for the outcome.
	CancelAsyncUpload()
}

// docBase carries the state shared by all backends: the sanitized locator,
// the jail placement of the working copy, and the save flags.
type docBase struct {
	uri      *url.URL
	jailRoot string
	jailPath string

	jailedFilePath       string
	jailedFilePathAnonym string

	fileInfo   FileInfo
	downloaded bool

	forceSave    bool
	userModified bool
	autosave     bool
	exitSave     bool
	extendedData string

	anon *anonymize.Anonymizer
	log  *slog.Logger
}

func newDocBase(u *url.URL, jailRoot, jailPath string, anon *anonymize.Anonymizer, log *slog.Logger) docBase {
	if anon == nil {
		anon = anonymize.New(false, 0)
	}
	b := docBase{
		jailRoot: jailRoot,
		jailPath: jailPath,
		fileInfo: FileInfo{OwnerID: "quill"},
		anon:     anon,
		log:      log,
	}
	b.setURI(u)
	return b
}

// URI returns the sanitized locator.
func (b *docBase) URI() *url.URL { return b.uri }

// setURI replaces the locator, e.g. after following a redirect. The new
// locator is sanitized like the original one.
func (b *docBase) setURI(u *url.URL) {
	b.uri = sanitizeURI(u)
}

// sanitizeURI strips the credential token from a locator so it can be
// logged, stored, and compared safely. The parameter is kept with an empty
// value; it is not added when absent.
func sanitizeURI(u *url.URL) *url.URL {
	clean := *u
	q := clean.Query()
	if _, ok := q["access_token"]; ok {
		q.Set("access_token", "")
		clean.RawQuery = q.Encode()
	}
	return &clean
}

// FileInfo returns the captured file attributes.
func (b *docBase) FileInfo() FileInfo { return b.fileInfo }

// FileExtension returns the extension of the captured filename, without the
// leading dot.
func (b *docBase) FileExtension() string {
	return strings.TrimPrefix(path.Ext(b.fileInfo.Filename), ".")
}

// RootFilePath returns the jailed path of the working copy.
func (b *docBase) RootFilePath() string { return b.jailedFilePath }

// RootFilePathAnonym returns the jailed path with the filename anonymized,
// for logging.
func (b *docBase) RootFilePathAnonym() string { return b.jailedFilePathAnonym }

// RootFilePathToUpload returns the staging path uploads read from.
func (b *docBase) RootFilePathToUpload() string { return b.jailedFilePath + toUploadSuffix }

// SetRootFilePath overrides the jailed path, for conversions that re-write
// the file under another name in the same directory.
func (b *docBase) SetRootFilePath(newPath string) {
	b.jailedFilePath = newPath
	b.jailedFilePathAnonym = b.anon.AnonymizeURL(newPath)
}

// IsDownloaded reports whether the working copy exists in the jail.
func (b *docBase) IsDownloaded() bool { return b.downloaded }

func (b *docBase) SetForceSave(v bool)       { b.forceSave = v }
func (b *docBase) SetUserModified(v bool)    { b.userModified = v }
func (b *docBase) SetIsAutosave(v bool)      { b.autosave = v }
func (b *docBase) SetIsExitSave(v bool)      { b.exitSave = v }
func (b *docBase) SetExtendedData(ed string) { b.extendedData = ed }

// localRootPath returns (and creates) the jail directory the working copy
// lives in: <jailRoot>/<jailPath>.
func (b *docBase) localRootPath() (string, error) {
	local := strings.TrimPrefix(b.jailPath, "/")
	root := filepath.Join(b.jailRoot, local)
	if err := os.MkdirAll(root, 0o700); err != nil {
		return "", err
	}
	return root, nil
}
