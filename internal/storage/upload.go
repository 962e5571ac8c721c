package storage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	qerrors "github.com/quillstore/quillstore/internal/errors"
	"github.com/quillstore/quillstore/internal/metrics"
)

// ErrUploadInFlight is returned when an async upload is requested while
// another one is still running on the same backend. The pending upload is
// left undisturbed and the refused request gets no callback.
var ErrUploadInFlight = errors.New("another upload is already in flight")

// asyncState is the single-flight guard for asynchronous uploads. It also
// remembers the last outcome for state queries.
type asyncState struct {
	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	last    AsyncUpload
}

// tryStart claims the in-flight slot. Returns false when already claimed.
func (s *asyncState) tryStart(cancel context.CancelFunc) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return false
	}
	s.running = true
	s.cancel = cancel
	s.last = AsyncUpload{State: AsyncRunning}
	return true
}

// finish releases the slot and records the outcome.
func (s *asyncState) finish(outcome AsyncUpload) {
	s.mu.Lock()
	s.running = false
	s.cancel = nil
	s.last = outcome
	s.mu.Unlock()
}

func (s *asyncState) state() AsyncUpload {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last
}

func (s *asyncState) cancelActive() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
}

// uploadDetails is everything an upload exchange needs, captured up front
// so redirected attempts can rebuild the request.
type uploadDetails struct {
	filePath       string
	filePathAnonym string
	size           int64
	target         url.URL
	isSaveAs       bool
	isRename       bool
	proposedName   string
}

// resolveUpload decides what to upload and where. Save-as reads from the
// given path; a normal save reads from the staging copy.
func (ws *WopiStorage) resolveUpload(auth Authorization, saveAsPath, saveAsFilename string, isRename bool) (*uploadDetails, error) {
	d := &uploadDetails{
		isSaveAs:     saveAsPath != "" && !isRename,
		isRename:     isRename,
		proposedName: saveAsFilename,
	}
	d.filePath = saveAsPath
	if d.filePath == "" {
		d.filePath = ws.RootFilePathToUpload()
	}
	d.filePathAnonym = ws.anon.AnonymizeURL(d.filePath)

	st, err := os.Stat(d.filePath)
	if err != nil {
		return nil, err
	}
	d.size = st.Size()

	target := ws.requestURL(ws.uri)
	if !d.isSaveAs && !d.isRename {
		// Normal save goes to the contents endpoint; save-as and rename
		// are operations on the file resource itself.
		contents := *target
		contents.Path = contents.Path + "/contents"
		target = &contents
	}
	auth.AuthorizeURI(target)
	d.target = *target
	return d, nil
}

// buildUploadRequest creates one upload attempt against target. The file is
// re-opened per attempt so a redirected exchange re-reads from the start.
func (ws *WopiStorage) buildUploadRequest(ctx context.Context, target *url.URL, auth Authorization, lockCtx *LockContext, d *uploadDetails) (*http.Request, error) {
	f, err := os.Open(d.filePath)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.String(), f)
	if err != nil {
		f.Close()
		return nil, err
	}
	req.ContentLength = d.size
	req.Header.Set("Content-Type", "application/octet-stream")
	ws.initRequest(req, auth)

	switch {
	case d.isRename:
		req.Header.Set(headerOverride, "RENAME_FILE")
		req.Header.Set(headerRequestedName, suggestedTarget(d.proposedName, ws.FileExtension()))
	case d.isSaveAs:
		req.Header.Set(headerOverride, "PUT_RELATIVE")
		req.Header.Set(headerSize, strconv.FormatInt(d.size, 10))
		req.Header.Set(headerSuggestedTarget, suggestedTarget(d.proposedName, ws.FileExtension()))
	default:
		req.Header.Set(headerOverride, "PUT")
		if lockCtx != nil && lockCtx.SupportsLocks && lockCtx.IsLocked {
			req.Header.Set(headerLock, lockCtx.Token)
		}
		if !ws.forceSave && ws.fileInfo.LastModifiedTime != "" {
			// Lets the host detect that the document changed behind us.
			req.Header.Set(headerTimestamp, ws.fileInfo.LastModifiedTime)
		}
	}

	req.Header.Set(headerIsModifiedByUser, strconv.FormatBool(ws.userModified))
	req.Header.Set(headerIsAutosave, strconv.FormatBool(ws.autosave))
	if ws.exitSave {
		req.Header.Set(headerIsExitSave, "true")
		// Hint the host to not keep the socket open for a dying session.
		req.Header.Set("Connection", "close")
	}
	if ws.extendedData != "" {
		req.Header.Set(headerExtendedData, ws.extendedData)
	}
	return req, nil
}

// suggestedTarget encodes the proposed filename for the wire; with no
// proposal the ".ext" form asks the host to pick a name with our extension.
func suggestedTarget(proposedName, extension string) string {
	if proposedName == "" {
		return "." + extension
	}
	return encodeUTF7(proposedName)
}

// wopiPutResponse is the wire shape of a successful upload response. The
// status-code fields only appear on conflicts.
type wopiPutResponse struct {
	Name             string `json:"Name"`
	URL              string `json:"Url"`
	LastModifiedTime string `json:"LastModifiedTime"`
	COOLStatusCode   int    `json:"COOLStatusCode"`
	LOOLStatusCode   int    `json:"LOOLStatusCode"`
}

// uploadToStorage performs one full upload exchange, redirects included.
// A returned error means the exchange never produced a host verdict; the
// UploadResult is still filled with the closest mapping for callers that
// cannot propagate errors.
func (ws *WopiStorage) uploadToStorage(ctx context.Context, auth Authorization, lockCtx *LockContext, saveAsPath, saveAsFilename string, isRename bool) (UploadResult, error) {
	d, err := ws.resolveUpload(auth, saveAsPath, saveAsFilename, isRename)
	if err != nil {
		ws.log.Error("cannot prepare upload", "err", err)
		return UploadResult{Result: UploadFailed, Reason: "Internal error."}, err
	}
	ws.log.Debug("uploading document",
		"uri", ws.anon.AnonymizeURL(ws.uri.String()),
		"from", d.filePathAnonym,
		"size", d.size,
		"saveAs", d.isSaveAs,
		"rename", d.isRename)

	target := d.target
	budget := RedirectionLimit
	for {
		req, err := ws.buildUploadRequest(ctx, &target, auth, lockCtx, d)
		if err != nil {
			ws.log.Error("cannot build upload request", "err", err)
			return UploadResult{Result: UploadFailed, Reason: "Internal error."}, err
		}
		resp, err := ws.client.Do(req)
		if err != nil {
			ws.log.Error("upload request failed", "uri", ws.anon.AnonymizeURL(target.String()), "err", err)
			return UploadResult{Result: UploadFailed, Reason: "Upload to storage failed."},
				qerrors.Wrap(qerrors.KindConnection, "upload request failed", err)
		}

		location := resp.Header.Get("Location")
		if isRedirect(resp.StatusCode) && location != "" {
			io.Copy(io.Discard, io.LimitReader(resp.Body, maxErrorBodySize))
			resp.Body.Close()
			if budget == 0 {
				err := qerrors.New(qerrors.KindConnection, "redirected too many times while uploading")
				return UploadResult{Result: UploadFailed, Reason: "Upload to storage failed."}, err
			}
			next, perr := target.Parse(location)
			if perr != nil {
				return UploadResult{Result: UploadFailed, Reason: "Upload to storage failed."},
					qerrors.Wrap(qerrors.KindConnection, "invalid redirect location", perr)
			}
			target = *next
			budget--
			metrics.RedirectsTotal.WithLabelValues("putfile").Inc()
			continue
		}

		body, rerr := io.ReadAll(io.LimitReader(resp.Body, 16*1024*1024))
		resp.Body.Close()
		if rerr != nil {
			return UploadResult{Result: UploadFailed, Reason: "Upload to storage failed."},
				qerrors.Wrap(qerrors.KindConnection, "reading upload response", rerr)
		}
		metrics.TransferBytes.WithLabelValues("upload").Observe(float64(d.size))
		return ws.handleUploadResponse(d, resp.StatusCode, body), nil
	}
}

// handleUploadResponse maps the host's verdict to the uniform result. The
// mapping is deliberately total: every status lands on a result code.
func (ws *WopiStorage) handleUploadResponse(d *uploadDetails, status int, body []byte) UploadResult {
	switch status {
	case http.StatusOK:
		var parsed wopiPutResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			// Success status with garbage body; trusting it could lose the
			// document, so treat as a failed save.
			violation := qerrors.Wrap(qerrors.KindProtocolViolation,
				"upload response with status 200 has no parseable body", err)
			ws.log.Error("upload protocol violation",
				"uri", ws.anon.AnonymizeURL(ws.uri.String()),
				"err", violation, "response", string(body))
			metrics.OperationsTotal.WithLabelValues(
				uploadOperation(d.isSaveAs, d.isRename),
				qerrors.KindProtocolViolation.String()).Inc()
			return UploadResult{Result: UploadFailed, Reason: "Invalid response from storage."}
		}
		res := UploadResult{Result: UploadOK}
		if parsed.LastModifiedTime != "" {
			ws.fileInfo.LastModifiedTime = parsed.LastModifiedTime
		}
		if d.isSaveAs || d.isRename {
			res.SaveAsName = parsed.Name
			res.SaveAsURL = parsed.URL
		}
		ws.forceSave = false
		ws.log.Debug("uploaded document", "uri", ws.anon.AnonymizeURL(ws.uri.String()))
		return res

	case http.StatusRequestEntityTooLarge, http.StatusInsufficientStorage:
		return UploadResult{Result: UploadDiskFull, Reason: "Out of storage space."}

	case http.StatusUnauthorized, http.StatusForbidden:
		return UploadResult{Result: UploadUnauthorized, Reason: "Invalid or expired access token."}

	case http.StatusConflict:
		var parsed wopiPutResponse
		// Body may be empty or non-JSON; a plain conflict then.
		_ = json.Unmarshal(body, &parsed)
		if parsed.COOLStatusCode == docChangedStatusCode || parsed.LOOLStatusCode == docChangedStatusCode {
			ws.log.Warn("document changed in storage during upload",
				"uri", ws.anon.AnonymizeURL(ws.uri.String()))
			return UploadResult{Result: UploadDocChanged, Reason: "Document changed in storage."}
		}
		return UploadResult{Result: UploadConflict, Reason: "Conflict while uploading."}
	}

	ws.log.Error("upload failed",
		"uri", ws.anon.AnonymizeURL(ws.uri.String()),
		"status", status,
		"response", string(body))
	return UploadResult{Result: UploadFailed, Reason: http.StatusText(status)}
}

// UploadLocalFileToStorage writes the working copy back to the host,
// blocking until the exchange completes.
func (ws *WopiStorage) UploadLocalFileToStorage(ctx context.Context, auth Authorization, lockCtx *LockContext, saveAsPath, saveAsFilename string, isRename bool) UploadResult {
	start := time.Now()
	res, _ := ws.uploadToStorage(ctx, auth, lockCtx, saveAsPath, saveAsFilename, isRename)
	ws.saveDurationNanos.Store(int64(time.Since(start)))
	metrics.UploadResultsTotal.WithLabelValues(res.Result.String()).Inc()
	metrics.OperationDuration.WithLabelValues(uploadOperation(saveAsPath != "" && !isRename, isRename)).Observe(time.Since(start).Seconds())
	return res
}

// UploadLocalFileToStorageAsync starts a non-blocking upload. A second
// request while one runs is refused with ErrUploadInFlight; the pending
// upload and its callback are untouched.
func (ws *WopiStorage) UploadLocalFileToStorageAsync(ctx context.Context, auth Authorization, lockCtx *LockContext, saveAsPath, saveAsFilename string, isRename bool, cb AsyncUploadCallback) error {
	uploadCtx, cancel := context.WithCancel(ctx)
	if !ws.async.tryStart(cancel) {
		cancel()
		ws.log.Warn("upload already in flight, refusing",
			"uri", ws.anon.AnonymizeURL(ws.uri.String()))
		return ErrUploadInFlight
	}

	metrics.AsyncUploadsInFlight.Inc()
	go func() {
		defer metrics.AsyncUploadsInFlight.Dec()
		defer cancel()

		start := time.Now()
		res, err := ws.uploadToStorage(uploadCtx, auth, lockCtx, saveAsPath, saveAsFilename, isRename)
		ws.saveDurationNanos.Store(int64(time.Since(start)))
		metrics.UploadResultsTotal.WithLabelValues(res.Result.String()).Inc()

		outcome := AsyncUpload{State: AsyncComplete, Result: res}
		if err != nil {
			// No host verdict was reached.
			outcome.State = AsyncError
		}
		ws.async.finish(outcome)
		cb(outcome)
	}()
	return nil
}

// QueryAsyncUploadState reports the progress of the async upload.
func (ws *WopiStorage) QueryAsyncUploadState() AsyncUpload {
	return ws.async.state()
}

// CancelAsyncUpload aborts the in-flight exchange, if any. The callback
// still fires, with the cancellation mapped as an error outcome.
func (ws *WopiStorage) CancelAsyncUpload() {
	ws.async.cancelActive()
}

func uploadOperation(isSaveAs, isRename bool) string {
	switch {
	case isRename:
		return "renamefile"
	case isSaveAs:
		return "putrelativefile"
	}
	return "putfile"
}
