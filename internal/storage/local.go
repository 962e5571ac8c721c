package storage

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync/atomic"

	"github.com/quillstore/quillstore/internal/anonymize"
	qerrors "github.com/quillstore/quillstore/internal/errors"
	"github.com/quillstore/quillstore/internal/logging"
)

// lastLocalStorageID numbers local sessions so each gets a distinct
// synthetic user identity.
var lastLocalStorageID atomic.Uint32

// LocalFileInfo is the synthetic session identity for a document served
// straight from the local filesystem.
type LocalFileInfo struct {
	UserID   string
	Username string
}

// LocalStorage serves a document from a path on the local filesystem. The
// working copy is hard-linked into the jail when possible and copied when
// not; uploads copy the modified bytes back over the source file.
type LocalStorage struct {
	docBase

	async asyncState

	// isTemporaryFile marks documents under the system temp dir; those are
	// moved into the jail and their origin cleaned up, since nothing else
	// owns them.
	isTemporaryFile bool
	// isCopy records that the jail holds a copy rather than a hard link,
	// so the upload must write bytes back.
	isCopy bool
}

// NewLocalStorage creates a backend for a file:// or pathless locator.
func NewLocalStorage(u *url.URL, jailRoot, jailPath string, anon *anonymize.Anonymizer) *LocalStorage {
	log := logging.Component("storage.local")
	ls := &LocalStorage{
		docBase:         newDocBase(u, jailRoot, jailPath, anon, log),
		isTemporaryFile: strings.HasPrefix(u.Path, os.TempDir()+"/"),
	}
	log.Debug("created local storage backend",
		"uri", anon.AnonymizeURL(ls.uri.String()),
		"jailPath", jailPath,
		"temporary", ls.isTemporaryFile)
	return ls
}

// GetLocalFileInfo stats the source file, captures its attributes, and
// returns a fresh synthetic identity for the session.
func (ls *LocalStorage) GetLocalFileInfo() (*LocalFileInfo, error) {
	info, err := os.Stat(ls.uri.Path)
	if err != nil {
		return nil, qerrors.Wrap(qerrors.KindBadRequest, "cannot stat local file", err)
	}
	if info.IsDir() {
		return nil, qerrors.Newf(qerrors.KindBadRequest, "path is a directory: %s", ls.anon.AnonymizeURL(ls.uri.Path))
	}

	ls.fileInfo = FileInfo{
		Filename:         path.Base(ls.uri.Path),
		OwnerID:          "LocalOwner",
		LastModifiedTime: iso8601Frac(info.ModTime()),
	}

	id := lastLocalStorageID.Add(1)
	return &LocalFileInfo{
		UserID:   fmt.Sprintf("LocalUser%d", id),
		Username: fmt.Sprintf("LocalUser#%03d", id),
	}, nil
}

// UpdateLockState is a no-op: the local filesystem has no lease locks.
func (ls *LocalStorage) UpdateLockState(context.Context, Authorization, *LockContext, bool) error {
	return nil
}

// DownloadStorageFileToLocal places the document in the jail: temp-owned
// files are moved, others hard-linked, and copied when linking fails (e.g.
// across filesystems).
func (ls *LocalStorage) DownloadStorageFileToLocal(_ context.Context, _ Authorization, _ *LockContext, templateURI string) (string, error) {
	if templateURI != "" {
		return "", qerrors.New(qerrors.KindBadRequest, "local storage does not support templates")
	}

	root, err := ls.localRootPath()
	if err != nil {
		return "", qerrors.Wrap(qerrors.KindBadRequest, "cannot create jail directory", err)
	}
	src := ls.uri.Path
	ls.SetRootFilePath(filepath.Join(root, path.Base(src)))

	if !fileExists(src) {
		return "", qerrors.Newf(qerrors.KindBadRequest, "no such file: %s", ls.anon.AnonymizeURL(src))
	}
	if !checkDiskSpace(ls.jailedFilePath) {
		return "", qerrors.New(qerrors.KindDiskSpace, "low disk space while downloading document")
	}

	if ls.isTemporaryFile {
		// We own temp files outright; move and tidy the origin directory.
		if err := os.Rename(src, ls.jailedFilePath); err != nil {
			ls.log.Debug("moving temporary file failed, will link or copy",
				"from", ls.anon.AnonymizeURL(src), "err", err)
		} else {
			dir := filepath.Dir(src)
			if isEmptyDirectory(dir) {
				os.Remove(dir)
			}
		}
	}

	if !fileExists(ls.jailedFilePath) {
		if err := os.Link(src, ls.jailedFilePath); err != nil {
			ls.log.Info("hard linking into jail failed, copying",
				"from", ls.anon.AnonymizeURL(src),
				"to", ls.jailedFilePathAnonym,
				"err", err)
		}
	}
	if !fileExists(ls.jailedFilePath) {
		if err := copyFileTo(src, ls.jailedFilePath); err != nil {
			return "", qerrors.Wrap(qerrors.KindBadRequest, "cannot copy file into jail", err)
		}
		ls.isCopy = true
	}

	ls.downloaded = true
	ls.log.Info("put document in jail",
		"uri", ls.anon.AnonymizeURL(ls.uri.String()),
		"jailed", ls.jailedFilePathAnonym,
		"isCopy", ls.isCopy)
	return ls.jailedFilePath, nil
}

// UploadLocalFileToStorage copies the modified bytes back over the source
// file when the jail holds a copy; with a hard link the source already has
// them. The captured modified time is refreshed either way.
func (ls *LocalStorage) UploadLocalFileToStorage(_ context.Context, _ Authorization, _ *LockContext, saveAsPath, saveAsFilename string, _ bool) UploadResult {
	if saveAsPath != "" || saveAsFilename != "" {
		return UploadResult{Result: UploadFailed, Reason: "local storage does not support save-as"}
	}

	staging := ls.RootFilePathToUpload()
	if ls.isCopy && fileExists(staging) {
		ls.log.Info("copying in-jail document back to storage",
			"from", ls.anon.AnonymizeURL(staging),
			"to", ls.anon.AnonymizeURL(ls.uri.Path))
		if err := copyFileTo(staging, ls.uri.Path); err != nil {
			ls.log.Error("copying back to storage failed", "err", err)
			return UploadResult{Result: UploadFailed, Reason: "Internal error."}
		}
	}

	info, err := os.Stat(ls.uri.Path)
	if err != nil {
		ls.log.Error("cannot stat uploaded file", "err", err)
		return UploadResult{Result: UploadFailed, Reason: "Internal error."}
	}
	ls.fileInfo.LastModifiedTime = iso8601Frac(info.ModTime())
	return UploadResult{Result: UploadOK}
}

// UploadLocalFileToStorageAsync performs the (cheap) local upload on a
// separate goroutine so the contract matches the remote backend.
func (ls *LocalStorage) UploadLocalFileToStorageAsync(ctx context.Context, auth Authorization, lockCtx *LockContext, saveAsPath, saveAsFilename string, isRename bool, cb AsyncUploadCallback) error {
	if !ls.async.tryStart(nil) {
		return ErrUploadInFlight
	}
	go func() {
		res := ls.UploadLocalFileToStorage(ctx, auth, lockCtx, saveAsPath, saveAsFilename, isRename)
		outcome := AsyncUpload{State: AsyncComplete, Result: res}
		ls.async.finish(outcome)
		cb(outcome)
	}()
	return nil
}

// QueryAsyncUploadState reports the progress of the async upload.
func (ls *LocalStorage) QueryAsyncUploadState() AsyncUpload {
	return ls.async.state()
}

// CancelAsyncUpload is a no-op; local uploads are not cancellable.
func (ls *LocalStorage) CancelAsyncUpload() {}
