package api_test

import (
	"bytes"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pdfchat/rolebroker/api"
	"github.com/pdfchat/rolebroker/aws/mocks"
	"github.com/pdfchat/rolebroker/broker"
)

func uploadFile(t *testing.T, url string, fields map[string]string, fileName, contentType string, content []byte) *http.Response {
	t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	if fileName != "" {
		h := make(textproto.MIMEHeader)
		h.Set("Content-Disposition", `form-data; name="file"; filename="`+fileName+`"`)
		h.Set("Content-Type", contentType)
		part, err := mw.CreatePart(h)
		require.NoError(t, err)
		_, err = part.Write(content)
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	req, err := http.NewRequestWithContext(t.Context(), http.MethodPost, url, &body)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestFileProxyLifecycle(t *testing.T) {
	env := setupServer(t)
	session := assumeRole(t, env)
	base := env.srv.URL + "/api/s3"

	resp := doJSON(t, http.MethodPost, base+"/create-bucket", api.SessionRequest{SessionID: session.SessionID})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	created := decode[api.CreateBucketResponse](t, resp)
	assert.True(t, created.Success)
	assert.Regexp(t, `^chatio-\d{13}$`, created.BucketName)

	// The store is signed with the session's credentials.
	creds := env.storeCreds()
	assert.Equal(t, "ASIATESTKEY", creds.AccessKeyID)
	assert.Equal(t, "super-secret-session-token", creds.SessionToken)

	resp = uploadFile(t, base+"/upload-file",
		map[string]string{"sessionId": session.SessionID, "bucketName": created.BucketName},
		"report.pdf", "application/pdf", []byte("%PDF-1.7"))
	require.Equal(t, http.StatusOK, resp.StatusCode)
	uploaded := decode[api.UploadFileResponse](t, resp)
	assert.Equal(t, "report.pdf", uploaded.FileName)
	assert.Equal(t, "application/pdf", env.store.LastContentType)
	assert.Equal(t, []byte("%PDF-1.7"), env.store.Buckets[created.BucketName]["report.pdf"])

	resp = doJSON(t, http.MethodPost, base+"/list-files", api.BucketRequest{SessionID: session.SessionID, BucketName: created.BucketName})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"report.pdf"}, decode[api.ListFilesResponse](t, resp).Files)

	resp = doJSON(t, http.MethodPost, base+"/delete-file", api.FileRequest{
		SessionID: session.SessionID, BucketName: created.BucketName, FileName: "report.pdf",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[api.SuccessResponse](t, resp).Success)

	resp = doJSON(t, http.MethodPost, base+"/list-files", api.BucketRequest{SessionID: session.SessionID, BucketName: created.BucketName})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	files := decode[api.ListFilesResponse](t, resp).Files
	assert.NotNil(t, files)
	assert.Empty(t, files)
}

func TestDeleteBucketEmptiesItFirst(t *testing.T) {
	env := setupServer(t)
	session := assumeRole(t, env)
	env.store.Buckets["chatio-1"] = map[string][]byte{"a.pdf": nil, "b.pdf": nil}

	resp := doJSON(t, http.MethodPost, env.srv.URL+"/api/s3/delete-bucket",
		api.BucketRequest{SessionID: session.SessionID, BucketName: "chatio-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotContains(t, env.store.Buckets, "chatio-1")
}

func TestFileProxyRequiresLiveSession(t *testing.T) {
	env := setupServer(t)
	base := env.srv.URL + "/api/s3"

	resp := doJSON(t, http.MethodPost, base+"/create-bucket", api.SessionRequest{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Session ID is required", decode[api.ErrorResponse](t, resp).Error)

	resp = doJSON(t, http.MethodPost, base+"/list-files", api.BucketRequest{SessionID: "no-such-session", BucketName: "b"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	out := decode[api.ErrorResponse](t, resp)
	assert.False(t, out.Success)
	assert.Equal(t, "Session not found or expired", out.Error)

	resp = uploadFile(t, base+"/upload-file", map[string]string{"sessionId": "no-such-session", "bucketName": "b"},
		"x.pdf", "application/pdf", []byte("x"))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	// A cleared session no longer reaches the store.
	session := assumeRole(t, env)
	doJSON(t, http.MethodPost, env.srv.URL+"/api/auth/logout", api.LogoutRequest{SessionID: session.SessionID})
	resp = doJSON(t, http.MethodPost, base+"/create-bucket", api.SessionRequest{SessionID: session.SessionID})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Empty(t, env.store.Buckets)
}

func TestFileProxyMissingFields(t *testing.T) {
	env := setupServer(t)
	session := assumeRole(t, env)
	base := env.srv.URL + "/api/s3"

	resp := doJSON(t, http.MethodPost, base+"/list-files", api.BucketRequest{SessionID: session.SessionID})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Equal(t, "Bucket name is required", decode[api.ErrorResponse](t, resp).Error)

	resp = doJSON(t, http.MethodPost, base+"/delete-file", api.FileRequest{SessionID: session.SessionID, BucketName: "b"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doJSON(t, http.MethodPost, base+"/delete-bucket", api.BucketRequest{SessionID: session.SessionID})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = uploadFile(t, base+"/upload-file", map[string]string{"sessionId": session.SessionID, "bucketName": "b"}, "", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = doRaw(t, base+"/upload-file", `{"sessionId":"x"}`)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestFileProxyUpstreamErrorIsSanitized(t *testing.T) {
	env := setupServer(t)
	session := assumeRole(t, env)
	env.store.Err = &smithy.GenericAPIError{
		Code:    "AccessDenied",
		Message: "User: arn:aws:sts::123456789012:assumed-role/ChatPDFAccess/s is not authorized to perform: s3:CreateBucket",
	}

	resp := doJSON(t, http.MethodPost, env.srv.URL+"/api/s3/create-bucket", api.SessionRequest{SessionID: session.SessionID})
	assert.Equal(t, http.StatusBadGateway, resp.StatusCode)
	out := decode[api.ErrorResponse](t, resp)
	assert.False(t, out.Success)
	assert.NotRegexp(t, `\d{12}`, out.Error)
	assert.NotContains(t, out.Error, "arn:aws")
}

func TestFileProxyDisabled(t *testing.T) {
	cache := broker.NewCache(broker.WithSweepInterval(0))
	t.Cleanup(cache.Close)
	svc := broker.NewService(&mocks.Provider{}, cache, broker.WithLogger(quietLogger()))
	a, err := api.New(svc, api.WithLogger(quietLogger()))
	require.NoError(t, err)
	t.Cleanup(a.Close)

	req := httptest.NewRequest(http.MethodPost, "/s3/create-bucket", strings.NewReader(`{"sessionId":"abc"}`))
	rec := httptest.NewRecorder()
	a.Router().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
