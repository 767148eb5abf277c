package api

import (
	"bytes"
	"encoding/json"
	"fmt"
	"image/png"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/foldervault/foldervault/internal/auth"
	"github.com/foldervault/foldervault/internal/blobstore"
	"github.com/foldervault/foldervault/internal/engine"
	"github.com/foldervault/foldervault/internal/logging/audit"
	"github.com/foldervault/foldervault/internal/metastore"
	"github.com/foldervault/foldervault/internal/metrics"
	"github.com/foldervault/foldervault/pkg/proto"
)

const testSecret = "0123456789abcdef0123456789abcdef"

type testEnv struct {
	ts     *httptest.Server
	eng    *engine.Engine
	signer *auth.Signer
	token  string
}

type envOption func(*Options)

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()

	apiSigner, err := auth.NewSigner(testSecret, auth.AudienceAPI)
	require.NoError(t, err)
	blobSigner, err := auth.NewSigner(testSecret, auth.AudienceBlob)
	require.NoError(t, err)

	ts := httptest.NewServer(nil)
	t.Cleanup(ts.Close)

	blobs, err := blobstore.NewLocal(blobstore.LocalOptions{
		Dir:       t.TempDir(),
		Compress:  true,
		PublicURL: ts.URL,
		Signer:    blobSigner,
	})
	require.NoError(t, err)

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	eng := engine.New(metastore.NewMemory(), blobs, zerolog.Nop(), engine.WithMetrics(m), engine.WithDownloadTTL(time.Hour))

	o := Options{
		CompressionLevel: 6,
		BlobLinks:        blobs,
		Metrics:          promhttp.HandlerFor(reg, promhttp.HandlerOpts{}),
	}
	for _, opt := range opts {
		opt(&o)
	}
	ts.Config.Handler = New(eng, apiSigner, zerolog.Nop(), o)

	token, err := apiSigner.Sign("alice", time.Hour)
	require.NoError(t, err)

	return &testEnv{ts: ts, eng: eng, signer: apiSigner, token: token}
}

func (e *testEnv) do(t *testing.T, method, path string, body io.Reader, contentType string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(method, e.ts.URL+path, body)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+e.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := e.ts.Client().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func (e *testEnv) doJSON(t *testing.T, method, path string, in any) *http.Response {
	t.Helper()
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		require.NoError(t, err)
		body = bytes.NewReader(b)
	}
	return e.do(t, method, path, body, "application/json")
}

type uploadFile struct {
	path    string
	content string
}

func (e *testEnv) upload(t *testing.T, folderID string, files ...uploadFile) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, f := range files {
		w, err := mw.CreateFormFile("files", f.path[strings.LastIndex(f.path, "/")+1:])
		require.NoError(t, err)
		_, err = io.WriteString(w, f.content)
		require.NoError(t, err)
	}
	for _, f := range files {
		require.NoError(t, mw.WriteField("paths", f.path))
	}
	if folderID != "" {
		require.NoError(t, mw.WriteField("folderId", folderID))
	}
	require.NoError(t, mw.Close())
	return e.do(t, http.MethodPost, "/api/files/upload", &buf, mw.FormDataContentType())
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func (e *testEnv) createFolder(t *testing.T, name, parentID string) proto.Item {
	t.Helper()
	resp := e.doJSON(t, http.MethodPost, "/api/folders", proto.CreateFolderRequest{Name: name, ParentID: parentID})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[proto.ItemResponse](t, resp).Item
}

func TestHealthNeedsNoToken(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.ts.Client().Get(env.ts.URL + "/health")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

func TestAuthRequired(t *testing.T) {
	env := newTestEnv(t)

	t.Run("missing token", func(t *testing.T) {
		resp, err := env.ts.Client().Get(env.ts.URL + "/api/files")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
		body := decode[proto.ErrorResponse](t, resp)
		assert.False(t, body.Success)
		assert.Equal(t, "Unauthenticated", body.Kind)
	})

	t.Run("bad token", func(t *testing.T) {
		req, err := http.NewRequest(http.MethodGet, env.ts.URL+"/api/files", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer not-a-token")
		resp, err := env.ts.Client().Do(req)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("blob audience token rejected", func(t *testing.T) {
		blobSigner, err := auth.NewSigner(testSecret, auth.AudienceBlob)
		require.NoError(t, err)
		token, err := blobSigner.Sign("alice", time.Hour)
		require.NoError(t, err)

		req, err := http.NewRequest(http.MethodGet, env.ts.URL+"/api/files", nil)
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+token)
		resp, err := env.ts.Client().Do(req)
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})
}

func TestUploadCreatesFoldersFromPaths(t *testing.T) {
	env := newTestEnv(t)

	resp := env.upload(t, "",
		uploadFile{path: "docs/a.txt", content: "alpha"},
		uploadFile{path: "docs/b.txt", content: "beta"},
		uploadFile{path: "top.txt", content: "top"},
	)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	body := decode[proto.UploadResponse](t, resp)
	assert.True(t, body.Success)
	assert.Len(t, body.Files, 3)
	assert.Empty(t, body.Failed)
	assert.Equal(t, 1, body.FoldersCreated)

	list := decode[proto.ListResponse](t, env.do(t, http.MethodGet, "/api/files", nil, ""))
	require.Len(t, list.Items, 2)
	assert.Equal(t, "docs", list.Items[0].Name)
	assert.Equal(t, "folder", list.Items[0].Type)
	assert.Equal(t, "top.txt", list.Items[1].Name)

	docs := list.Items[0].ID
	children := decode[proto.ListResponse](t, env.do(t, http.MethodGet, "/api/files?folderId="+docs, nil, ""))
	require.Len(t, children.Items, 2)
	assert.Equal(t, "a.txt", children.Items[0].Name)
	assert.Equal(t, int64(5), children.Items[0].Size)
	assert.NotEmpty(t, children.Items[0].Checksum)
	require.NotNil(t, children.Items[0].ParentID)
	assert.Equal(t, docs, *children.Items[0].ParentID)
}

func TestUploadPartialFailure(t *testing.T) {
	env := newTestEnv(t)

	resp := env.upload(t, "",
		uploadFile{path: "ok.txt", content: "fine"},
		uploadFile{path: "../escape.txt", content: "nope"},
	)
	require.Equal(t, http.StatusMultiStatus, resp.StatusCode)
	body := decode[proto.UploadResponse](t, resp)
	assert.False(t, body.Success)
	require.Len(t, body.Files, 1)
	assert.Equal(t, "ok.txt", body.Files[0].Name)
	require.Len(t, body.Failed, 1)
	assert.Equal(t, "../escape.txt", body.Failed[0].Path)
	assert.Equal(t, "InvalidArgument", body.Failed[0].Kind)
}

func TestUploadPathCountMismatch(t *testing.T) {
	env := newTestEnv(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, name := range []string{"a.txt", "b.txt"} {
		w, err := mw.CreateFormFile("files", name)
		require.NoError(t, err)
		_, err = io.WriteString(w, name)
		require.NoError(t, err)
	}
	require.NoError(t, mw.WriteField("paths", "docs/a.txt"))
	require.NoError(t, mw.Close())

	resp := env.do(t, http.MethodPost, "/api/files/upload", &buf, mw.FormDataContentType())
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[proto.ErrorResponse](t, resp)
	assert.Equal(t, "InvalidArgument", body.Kind)

	list := decode[proto.ListResponse](t, env.do(t, http.MethodGet, "/api/files", nil, ""))
	assert.Empty(t, list.Items)
}

func TestUploadPartialFailureIsAudited(t *testing.T) {
	var logs bytes.Buffer
	env := newTestEnv(t, func(o *Options) { o.Audit = audit.NewLogger(zerolog.New(&logs)) })

	resp := env.upload(t, "",
		uploadFile{path: "ok.txt", content: "fine"},
		uploadFile{path: "../escape.txt", content: "nope"},
	)
	require.Equal(t, http.StatusMultiStatus, resp.StatusCode)

	var entry map[string]any
	for _, line := range strings.Split(strings.TrimSpace(logs.String()), "\n") {
		var e map[string]any
		require.NoError(t, json.Unmarshal([]byte(line), &e))
		if e["operation"] == "upload" {
			entry = e
		}
	}
	require.NotNil(t, entry, "no upload audit event in %q", logs.String())
	assert.Equal(t, audit.ResultFailed, entry["result"])
	assert.Contains(t, entry["details"], "1 created, 1 failed")
}

func TestUploadAllFailed(t *testing.T) {
	env := newTestEnv(t)

	resp := env.upload(t, "", uploadFile{path: "../escape.txt", content: "nope"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	body := decode[proto.UploadResponse](t, resp)
	assert.Empty(t, body.Files)
	assert.Len(t, body.Failed, 1)
}

func TestUploadIntoMissingFolder(t *testing.T) {
	env := newTestEnv(t)

	resp := env.upload(t, "no-such-folder", uploadFile{path: "a.txt", content: "a"})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	body := decode[proto.ErrorResponse](t, resp)
	assert.Equal(t, "NotFound", body.Kind)
}

func TestUploadWithoutFiles(t *testing.T) {
	env := newTestEnv(t)

	resp := env.upload(t, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestUploadTooLarge(t *testing.T) {
	env := newTestEnv(t, func(o *Options) { o.MaxRequestBytes = 64 })

	resp := env.upload(t, "", uploadFile{path: "big.bin", content: strings.Repeat("x", 4096)})
	assert.Equal(t, http.StatusRequestEntityTooLarge, resp.StatusCode)
	body := decode[proto.ErrorResponse](t, resp)
	assert.Equal(t, "RequestTooLarge", body.Kind)
}

func TestFolderTrashRestoreDelete(t *testing.T) {
	env := newTestEnv(t)

	root := env.createFolder(t, "projects", "")
	child := env.createFolder(t, "2024", root.ID)
	resp := env.upload(t, child.ID, uploadFile{path: "plan.md", content: "# plan"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	// Deleting an active folder is refused.
	resp = env.doJSON(t, http.MethodDelete, "/api/folders/"+root.ID, nil)
	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)

	resp = env.doJSON(t, http.MethodPatch, "/api/folders/"+root.ID+"/trash", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tree := decode[proto.TreeResponse](t, resp)
	assert.Equal(t, 2, tree.Folders)
	assert.Equal(t, 1, tree.Files)

	trash := decode[proto.ListResponse](t, env.do(t, http.MethodGet, "/api/files/trash", nil, ""))
	assert.Len(t, trash.Items, 3)
	active := decode[proto.ListResponse](t, env.do(t, http.MethodGet, "/api/files", nil, ""))
	assert.Empty(t, active.Items)

	resp = env.doJSON(t, http.MethodPatch, "/api/folders/"+root.ID+"/restore", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	tree = decode[proto.TreeResponse](t, resp)
	assert.Equal(t, 2, tree.Folders)
	assert.Equal(t, 1, tree.Files)

	env.doJSON(t, http.MethodPatch, "/api/folders/"+root.ID+"/trash", nil)
	resp = env.doJSON(t, http.MethodDelete, "/api/folders/"+root.ID, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	del := decode[proto.DeleteResponse](t, resp)
	assert.Equal(t, 2, del.Folders)
	assert.Equal(t, 1, del.Files)
	assert.Equal(t, int64(6), del.Bytes)

	trash = decode[proto.ListResponse](t, env.do(t, http.MethodGet, "/api/files/trash", nil, ""))
	assert.Empty(t, trash.Items)
}

func TestFileLifecycle(t *testing.T) {
	env := newTestEnv(t)

	up := decode[proto.UploadResponse](t, env.upload(t, "", uploadFile{path: "notes.txt", content: "hello"}))
	require.Len(t, up.Files, 1)
	id := up.Files[0].ID

	resp := env.doJSON(t, http.MethodPatch, "/api/files/"+id+"/rename", proto.RenameRequest{Name: "renamed.txt"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "renamed.txt", decode[proto.ItemResponse](t, resp).Item.Name)

	resp = env.doJSON(t, http.MethodPatch, "/api/files/"+id+"/star", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[proto.ItemResponse](t, resp).Item.Starred)

	starred := decode[proto.ListResponse](t, env.do(t, http.MethodGet, "/api/files/starred", nil, ""))
	assert.Len(t, starred.Items, 1)

	search := decode[proto.ListResponse](t, env.do(t, http.MethodGet, "/api/files/search?q=RENAMED", nil, ""))
	assert.Len(t, search.Items, 1)

	recent := decode[proto.ListResponse](t, env.do(t, http.MethodGet, "/api/files/recent", nil, ""))
	assert.Len(t, recent.Items, 1)

	resp = env.doJSON(t, http.MethodDelete, "/api/files/"+id, nil)
	assert.Equal(t, http.StatusPreconditionFailed, resp.StatusCode)

	resp = env.doJSON(t, http.MethodPatch, "/api/files/"+id+"/trash", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[proto.ItemResponse](t, resp).Item.Trashed)

	resp = env.doJSON(t, http.MethodPatch, "/api/files/"+id+"/restore", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, decode[proto.ItemResponse](t, resp).Item.Trashed)

	env.doJSON(t, http.MethodPatch, "/api/files/"+id+"/trash", nil)
	resp = env.doJSON(t, http.MethodDelete, "/api/files/"+id, nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	del := decode[proto.DeleteResponse](t, resp)
	assert.Equal(t, 1, del.Files)
	assert.Equal(t, int64(5), del.Bytes)

	resp = env.doJSON(t, http.MethodPatch, "/api/files/"+id+"/restore", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestRenameFolderValidation(t *testing.T) {
	env := newTestEnv(t)
	folder := env.createFolder(t, "old", "")

	resp := env.doJSON(t, http.MethodPatch, "/api/folders/"+folder.ID+"/rename", proto.RenameRequest{Name: "  "})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp = env.doJSON(t, http.MethodPatch, "/api/folders/"+folder.ID+"/rename", proto.RenameRequest{Name: "new"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "new", decode[proto.ItemResponse](t, resp).Item.Name)

	resp = env.do(t, http.MethodPatch, "/api/folders/"+folder.ID+"/rename", strings.NewReader("{"), "application/json")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOwnersAreIsolated(t *testing.T) {
	env := newTestEnv(t)
	folder := env.createFolder(t, "private", "")

	bob, err := env.signer.Sign("bob", time.Hour)
	require.NoError(t, err)
	env.token = bob

	resp := env.doJSON(t, http.MethodPatch, "/api/folders/"+folder.ID+"/trash", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	list := decode[proto.ListResponse](t, env.do(t, http.MethodGet, "/api/files", nil, ""))
	assert.Empty(t, list.Items)
}

func TestErrorDetail(t *testing.T) {
	t.Run("development", func(t *testing.T) {
		env := newTestEnv(t)
		resp := env.doJSON(t, http.MethodPatch, "/api/folders/missing/trash", nil)
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
		body := decode[proto.ErrorResponse](t, resp)
		assert.False(t, body.Success)
		assert.NotEmpty(t, body.Message)
		assert.NotEmpty(t, body.Detail)
	})

	t.Run("production", func(t *testing.T) {
		env := newTestEnv(t, func(o *Options) { o.Production = true })
		resp := env.doJSON(t, http.MethodPatch, "/api/folders/missing/trash", nil)
		require.Equal(t, http.StatusNotFound, resp.StatusCode)
		body := decode[proto.ErrorResponse](t, resp)
		assert.NotEmpty(t, body.Message)
		assert.Empty(t, body.Detail)
	})
}

func TestDownloadFolderZip(t *testing.T) {
	env := newTestEnv(t)

	resp := env.upload(t, "",
		uploadFile{path: "album/cover.txt", content: "cover"},
		uploadFile{path: "album/tracks/one.txt", content: "track one"},
		uploadFile{path: "album/tracks/two.txt", content: "track two"},
	)
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	list := decode[proto.ListResponse](t, env.do(t, http.MethodGet, "/api/files", nil, ""))
	require.Len(t, list.Items, 1)
	album := list.Items[0].ID

	// A trashed file is left out of the archive.
	search := decode[proto.ListResponse](t, env.do(t, http.MethodGet, "/api/files/search?q=two", nil, ""))
	require.Len(t, search.Items, 1)
	env.doJSON(t, http.MethodPatch, "/api/files/"+search.Items[0].ID+"/trash", nil)

	resp = env.do(t, http.MethodGet, "/api/folders/"+album+"/download", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "application/zip", resp.Header.Get("Content-Type"))
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "album.zip")

	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)

	got := make(map[string]string)
	for _, f := range zr.File {
		rc, err := f.Open()
		require.NoError(t, err)
		b, err := io.ReadAll(rc)
		require.NoError(t, err)
		_ = rc.Close()
		got[f.Name] = string(b)
	}
	assert.Equal(t, map[string]string{
		"cover.txt":      "cover",
		"tracks/one.txt": "track one",
	}, got)
}

func TestDownloadMissingFolder(t *testing.T) {
	env := newTestEnv(t)

	resp := env.do(t, http.MethodGet, "/api/folders/missing/download", nil, "")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Equal(t, "application/json", resp.Header.Get("Content-Type"))
}

func TestDownloadLink(t *testing.T) {
	env := newTestEnv(t)

	up := decode[proto.UploadResponse](t, env.upload(t, "", uploadFile{path: "report.json", content: `{"quarter":3}`}))
	require.Len(t, up.Files, 1)

	resp := env.do(t, http.MethodGet, "/api/files/"+up.Files[0].ID+"/download", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	link := decode[proto.DownloadResponse](t, resp)
	require.True(t, strings.HasPrefix(link.URL, env.ts.URL+"/api/blobs/"), link.URL)
	assert.True(t, link.ExpiresAt.After(time.Now()))

	// The link works without a bearer token.
	blob, err := env.ts.Client().Get(link.URL)
	require.NoError(t, err)
	defer func() { _ = blob.Body.Close() }()
	require.Equal(t, http.StatusOK, blob.StatusCode)
	content, err := io.ReadAll(blob.Body)
	require.NoError(t, err)
	assert.Equal(t, `{"quarter":3}`, string(content))
	assert.Contains(t, blob.Header.Get("Content-Type"), "application/json")
	assert.Contains(t, blob.Header.Get("Content-Disposition"), `filename=report.json`)

	bad, err := env.ts.Client().Get(env.ts.URL + "/api/blobs/garbage")
	require.NoError(t, err)
	defer func() { _ = bad.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, bad.StatusCode)
}

func TestBlobLinkWithApiTokenRejected(t *testing.T) {
	env := newTestEnv(t)

	resp, err := env.ts.Client().Get(env.ts.URL + "/api/blobs/" + env.token)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestDownloadQR(t *testing.T) {
	env := newTestEnv(t)

	up := decode[proto.UploadResponse](t, env.upload(t, "", uploadFile{path: "photo.txt", content: "pixels"}))
	require.Len(t, up.Files, 1)

	resp := env.do(t, http.MethodGet, "/api/files/"+up.Files[0].ID+"/qr?size=128", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	img, err := png.Decode(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, 128, img.Bounds().Dx())

	resp = env.do(t, http.MethodGet, "/api/files/"+up.Files[0].ID+"/qr?size=5", nil, "")
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestStorageUsage(t *testing.T) {
	env := newTestEnv(t)

	env.upload(t, "",
		uploadFile{path: "a.bin", content: strings.Repeat("a", 1500)},
		uploadFile{path: "b.bin", content: strings.Repeat("b", 500)},
	)

	resp := env.do(t, http.MethodGet, "/api/stats/storage", nil, "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body := decode[proto.StorageResponse](t, resp)
	assert.Equal(t, int64(2000), body.UsedBytes)
	assert.Equal(t, "2.0 kB", body.UsedHuman)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t)
	env.upload(t, "", uploadFile{path: "a.txt", content: "a"})

	resp, err := env.ts.Client().Get(env.ts.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	b, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(b), fmt.Sprintf("foldervault_operations_total{operation=%q,result=%q} 1", "upload", "ok"))
}

func TestDownloadName(t *testing.T) {
	assert.Equal(t, "report.txt", downloadName("alice/0b9f5a3e-2a4f-4c55-9d51-4a5b3f0f6c11-report.txt"))
	assert.Equal(t, "plain.txt", downloadName("alice/plain.txt"))
	assert.Equal(t, "not-a-uuid-at-all-but-long-enough-xx-name", downloadName("alice/not-a-uuid-at-all-but-long-enough-xx-name"))
}
