package api

import "github.com/pdfchat/rolebroker/broker"

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// AssumeRoleRequest is the JSON body for POST /auth/assume-role.
type AssumeRoleRequest struct {
	RoleARN string `json:"roleArn"`
}

// AssumeRoleResponse is returned from POST /auth/assume-role.
type AssumeRoleResponse struct {
	Success   bool   `json:"success"`
	SessionID string `json:"sessionId"`
	ExpiresAt string `json:"expiresAt"`
}

// LogoutRequest is the JSON body for POST /auth/logout.
type LogoutRequest struct {
	SessionID string `json:"sessionId"`
}

// MessageResponse is a success response carrying a human-readable message.
type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// StatusResponse is returned from GET /auth/status.
type StatusResponse struct {
	Success    bool         `json:"success"`
	CacheStats broker.Stats `json:"cacheStats"`
	ServerTime string       `json:"serverTime"`
}

// AuditLogResponse is returned from GET /auth/audit. Entries are oldest
// first; Head is the chain hash over the newest entry.
type AuditLogResponse struct {
	Success bool                 `json:"success"`
	Entries []AuditEntryResponse `json:"entries"`
	Head    string               `json:"head"`
}

// AuditEntryResponse is one link of the audit chain.
type AuditEntryResponse struct {
	ID         string `json:"id"`
	Event      string `json:"event"`
	RoleARN    string `json:"role_arn,omitempty"`
	Session    string `json:"session,omitempty"`
	RemoteAddr string `json:"remote_addr,omitempty"`
	Detail     string `json:"detail,omitempty"`
	CreatedAt  string `json:"created_at"`
	PrevHash   string `json:"prev_hash"`
}

// SessionRequest is the JSON body for S3 calls that only need a session.
type SessionRequest struct {
	SessionID string `json:"sessionId"`
}

// BucketRequest is the JSON body for S3 calls scoped to a bucket.
type BucketRequest struct {
	SessionID  string `json:"sessionId"`
	BucketName string `json:"bucketName"`
}

// FileRequest is the JSON body for POST /s3/delete-file.
type FileRequest struct {
	SessionID  string `json:"sessionId"`
	BucketName string `json:"bucketName"`
	FileName   string `json:"fileName"`
}

// CreateBucketResponse is returned from POST /s3/create-bucket.
type CreateBucketResponse struct {
	Success    bool   `json:"success"`
	BucketName string `json:"bucketName"`
}

// ListFilesResponse is returned from POST /s3/list-files.
type ListFilesResponse struct {
	Success bool     `json:"success"`
	Files   []string `json:"files"`
}

// UploadFileResponse is returned from POST /s3/upload-file.
type UploadFileResponse struct {
	Success  bool   `json:"success"`
	FileName string `json:"fileName"`
}

// SuccessResponse is returned by calls with nothing else to report.
type SuccessResponse struct {
	Success bool `json:"success"`
}

// RootResponse is returned from GET /.
type RootResponse struct {
	Message string `json:"message"`
}

// HealthResponse is returned from GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	Timestamp   string `json:"timestamp"`
	Environment string `json:"environment"`
}
