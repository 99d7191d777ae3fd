package api

import (
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path"
	"strings"

	"github.com/pdfchat/rolebroker/broker"
)

const (
	messageSessionRequired = "Session ID is required"
	messageSessionExpired  = "Session not found or expired"
	messageBucketRequired  = "Bucket name is required"

	// uploadMemory is how much of a multipart upload is buffered in memory
	// before spilling to temporary files.
	uploadMemory = 8 << 20
)

// objectStoreFor resolves a session to an ObjectStore signed with its
// credentials. It writes the error response and returns false on failure.
func (a *API) objectStoreFor(w http.ResponseWriter, sessionID string) (ObjectStore, bool) {
	if a.objectStores == nil {
		writeError(w, http.StatusServiceUnavailable, "File storage is not enabled")
		return nil, false
	}
	if sessionID == "" {
		writeError(w, http.StatusBadRequest, messageSessionRequired)
		return nil, false
	}
	creds, ok := a.broker.SessionCredentials(sessionID)
	if !ok {
		writeError(w, http.StatusUnauthorized, messageSessionExpired)
		return nil, false
	}
	return a.objectStores(creds), true
}

// writeUpstreamError logs err and sends its sanitized form.
func writeUpstreamError(w http.ResponseWriter, op string, err error) {
	slog.Error("object store call failed", "op", op, "error", err)
	writeError(w, http.StatusBadGateway, broker.SanitizeError(err))
}

// CreateBucket handles POST /s3/create-bucket.
func (a *API) CreateBucket(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[SessionRequest](w, r, maxJSONBodySize)
	if !ok {
		return
	}
	store, ok := a.objectStoreFor(w, req.SessionID)
	if !ok {
		return
	}

	bucket := fmt.Sprintf("chatio-%d", a.now().UnixMilli())
	if err := store.CreateBucket(r.Context(), bucket); err != nil {
		writeUpstreamError(w, "create_bucket", err)
		return
	}
	a.audit.log(AuditBucketCreated, r, auditRecord{Session: broker.Fingerprint(req.SessionID), Detail: bucket})
	writeJSON(w, http.StatusOK, CreateBucketResponse{Success: true, BucketName: bucket})
}

// ListFiles handles POST /s3/list-files.
func (a *API) ListFiles(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[BucketRequest](w, r, maxJSONBodySize)
	if !ok {
		return
	}
	store, ok := a.objectStoreFor(w, req.SessionID)
	if !ok {
		return
	}
	if req.BucketName == "" {
		writeError(w, http.StatusBadRequest, messageBucketRequired)
		return
	}

	files, err := store.ListObjects(r.Context(), req.BucketName)
	if err != nil {
		writeUpstreamError(w, "list_objects", err)
		return
	}
	if files == nil {
		files = []string{}
	}
	writeJSON(w, http.StatusOK, ListFilesResponse{Success: true, Files: files})
}

// UploadFile handles POST /s3/upload-file (multipart/form-data with fields
// sessionId and bucketName and a file part named "file").
func (a *API) UploadFile(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize+maxJSONBodySize)
	if err := r.ParseMultipartForm(uploadMemory); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "File too large")
			return
		}
		writeError(w, http.StatusBadRequest, "invalid multipart form")
		return
	}
	defer r.MultipartForm.RemoveAll()

	sessionID := r.FormValue("sessionId")
	store, ok := a.objectStoreFor(w, sessionID)
	if !ok {
		return
	}
	bucket := r.FormValue("bucketName")
	file, header, err := r.FormFile("file")
	if bucket == "" || err != nil {
		writeError(w, http.StatusBadRequest, "Bucket name and file required")
		return
	}
	defer file.Close()
	if header.Size > maxUploadSize {
		writeError(w, http.StatusRequestEntityTooLarge, "File too large")
		return
	}

	name := path.Base(strings.ReplaceAll(header.Filename, "\\", "/"))
	if name == "." || name == "/" {
		writeError(w, http.StatusBadRequest, "Bucket name and file required")
		return
	}
	if err := store.PutObject(r.Context(), bucket, name, file, header.Size, header.Header.Get("Content-Type")); err != nil {
		writeUpstreamError(w, "put_object", err)
		return
	}
	a.audit.log(AuditObjectUploaded, r, auditRecord{Session: broker.Fingerprint(sessionID), Detail: bucket + "/" + name})
	writeJSON(w, http.StatusOK, UploadFileResponse{Success: true, FileName: name})
}

// DeleteFile handles POST /s3/delete-file.
func (a *API) DeleteFile(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[FileRequest](w, r, maxJSONBodySize)
	if !ok {
		return
	}
	store, ok := a.objectStoreFor(w, req.SessionID)
	if !ok {
		return
	}
	if req.BucketName == "" || req.FileName == "" {
		writeError(w, http.StatusBadRequest, "Bucket name and file name required")
		return
	}

	if err := store.DeleteObject(r.Context(), req.BucketName, req.FileName); err != nil {
		writeUpstreamError(w, "delete_object", err)
		return
	}
	a.audit.log(AuditObjectDeleted, r, auditRecord{
		Session: broker.Fingerprint(req.SessionID),
		Detail:  req.BucketName + "/" + req.FileName,
	})
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}

// DeleteBucket handles POST /s3/delete-bucket. Every object is deleted
// first, since S3 refuses to delete a non-empty bucket.
func (a *API) DeleteBucket(w http.ResponseWriter, r *http.Request) {
	req, ok := decodeJSON[BucketRequest](w, r, maxJSONBodySize)
	if !ok {
		return
	}
	store, ok := a.objectStoreFor(w, req.SessionID)
	if !ok {
		return
	}
	if req.BucketName == "" {
		writeError(w, http.StatusBadRequest, messageBucketRequired)
		return
	}

	keys, err := store.ListObjects(r.Context(), req.BucketName)
	if err != nil {
		writeUpstreamError(w, "list_objects", err)
		return
	}
	for _, key := range keys {
		if err := store.DeleteObject(r.Context(), req.BucketName, key); err != nil {
			writeUpstreamError(w, "delete_object", err)
			return
		}
	}
	if err := store.DeleteBucket(r.Context(), req.BucketName); err != nil {
		writeUpstreamError(w, "delete_bucket", err)
		return
	}
	a.audit.log(AuditBucketDeleted, r, auditRecord{Session: broker.Fingerprint(req.SessionID), Detail: req.BucketName})
	writeJSON(w, http.StatusOK, SuccessResponse{Success: true})
}
