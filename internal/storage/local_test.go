package storage

import (
	"context"
	"net/url"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/quillstore/quillstore/internal/anonymize"
	qerrors "github.com/quillstore/quillstore/internal/errors"
)

func newLocalBackend(t *testing.T, srcPath string) *LocalStorage {
	t.Helper()
	return NewLocalStorage(
		&url.URL{Scheme: "file", Path: srcPath},
		t.TempDir(), "/user/docs/1",
		anonymize.New(false, 1),
	)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", path, err)
	}
}

func TestLocalFileInfo(t *testing.T) {
	src := filepath.Join(t.TempDir(), "report.odt")
	writeFile(t, src, "document body")

	ls := newLocalBackend(t, src)
	info, err := ls.GetLocalFileInfo()
	if err != nil {
		t.Fatalf("GetLocalFileInfo: %v", err)
	}
	if info.UserID == "" || info.Username == "" {
		t.Errorf("synthetic identity incomplete: %+v", info)
	}

	fi := ls.FileInfo()
	if fi.Filename != "report.odt" {
		t.Errorf("filename = %q, want report.odt", fi.Filename)
	}
	if fi.OwnerID != "LocalOwner" {
		t.Errorf("owner = %q, want LocalOwner", fi.OwnerID)
	}
	if fi.LastModifiedTime == "" {
		t.Error("missing last modified time")
	}

	other := newLocalBackend(t, src)
	otherInfo, err := other.GetLocalFileInfo()
	if err != nil {
		t.Fatalf("GetLocalFileInfo: %v", err)
	}
	if otherInfo.UserID == info.UserID {
		t.Errorf("sessions share a synthetic user id: %q", info.UserID)
	}
}

func TestLocalFileInfoMissingFile(t *testing.T) {
	ls := newLocalBackend(t, filepath.Join(t.TempDir(), "gone.odt"))
	if _, err := ls.GetLocalFileInfo(); !qerrors.IsBadRequest(err) {
		t.Errorf("err = %v, want bad request", err)
	}
}

func TestLocalDownloadLinksIntoJail(t *testing.T) {
	src := filepath.Join(t.TempDir(), "notes.txt")
	writeFile(t, src, "hello")

	ls := newLocalBackend(t, src)
	local, err := ls.DownloadStorageFileToLocal(context.Background(), Authorization{}, nil, "")
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	got, err := os.ReadFile(local)
	if err != nil {
		t.Fatalf("reading jailed file: %v", err)
	}
	if string(got) != "hello" {
		t.Errorf("jailed content = %q", got)
	}
	if !ls.IsDownloaded() {
		t.Error("backend not marked downloaded")
	}
	if _, err := os.Stat(src); err != nil {
		t.Error("source file should survive a non-temporary download")
	}
}

func TestLocalDownloadMovesTemporaryFile(t *testing.T) {
	// Files under the system temp dir are ours; the download moves them
	// and removes the emptied parent.
	parent, err := os.MkdirTemp("", "quillstore-test-")
	if err != nil {
		t.Fatal(err)
	}
	src := filepath.Join(parent, "convert.docx")
	writeFile(t, src, "temp doc")

	ls := newLocalBackend(t, src)
	if !ls.isTemporaryFile {
		t.Fatal("file under temp dir not classified as temporary")
	}
	if _, err := ls.DownloadStorageFileToLocal(context.Background(), Authorization{}, nil, ""); err != nil {
		t.Fatalf("download: %v", err)
	}
	if _, err := os.Stat(src); !os.IsNotExist(err) {
		os.RemoveAll(parent)
		t.Error("temporary source should have been moved away")
	}
	if _, err := os.Stat(parent); !os.IsNotExist(err) {
		os.RemoveAll(parent)
		t.Error("emptied parent directory should have been removed")
	}
}

func TestLocalDownloadMissingFile(t *testing.T) {
	ls := newLocalBackend(t, filepath.Join(t.TempDir(), "gone.odt"))
	if _, err := ls.DownloadStorageFileToLocal(context.Background(), Authorization{}, nil, ""); !qerrors.IsBadRequest(err) {
		t.Errorf("err = %v, want bad request", err)
	}
}

func TestLocalUploadCopiesBack(t *testing.T) {
	src := filepath.Join(t.TempDir(), "draft.txt")
	writeFile(t, src, "v1")

	ls := newLocalBackend(t, src)
	if _, err := ls.DownloadStorageFileToLocal(context.Background(), Authorization{}, nil, ""); err != nil {
		t.Fatalf("download: %v", err)
	}

	// Force the copy path; a hard link would make the write-back implicit.
	ls.isCopy = true
	writeFile(t, ls.RootFilePathToUpload(), "v2")

	res := ls.UploadLocalFileToStorage(context.Background(), Authorization{}, nil, "", "", false)
	if res.Result != UploadOK {
		t.Fatalf("upload result = %v (%s)", res.Result, res.Reason)
	}
	got, err := os.ReadFile(src)
	if err != nil {
		t.Fatal(err)
	}
	if string(got) != "v2" {
		t.Errorf("source content = %q, want v2", got)
	}
	if ls.FileInfo().LastModifiedTime == "" {
		t.Error("modified time not refreshed after upload")
	}
}

func TestLocalAsyncUploadCompletes(t *testing.T) {
	src := filepath.Join(t.TempDir(), "draft.txt")
	writeFile(t, src, "v1")

	ls := newLocalBackend(t, src)
	if _, err := ls.DownloadStorageFileToLocal(context.Background(), Authorization{}, nil, ""); err != nil {
		t.Fatalf("download: %v", err)
	}

	done := make(chan AsyncUpload, 1)
	err := ls.UploadLocalFileToStorageAsync(context.Background(), Authorization{}, nil, "", "", false, func(a AsyncUpload) {
		done <- a
	})
	if err != nil {
		t.Fatalf("async upload refused: %v", err)
	}

	select {
	case outcome := <-done:
		if outcome.State != AsyncComplete || outcome.Result.Result != UploadOK {
			t.Errorf("outcome = %+v", outcome)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("async upload callback never fired")
	}
	if got := ls.QueryAsyncUploadState(); got.State != AsyncComplete {
		t.Errorf("state after completion = %v", got.State)
	}
}
