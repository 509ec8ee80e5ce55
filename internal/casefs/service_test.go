package casefs_test

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"casefs/internal/blobstore"
	"casefs/internal/casefs"
	"casefs/internal/model"
	"casefs/internal/testutil"
)

const owner = "owner-1"

type fixture struct {
	svc    *casefs.Service
	db     *testutil.FaultyDatabase
	mem    *blobstore.MemoryStore
	blobs  *testutil.RecordingBlobStore
	clock  *testutil.StubClock
	policy casefs.Policy
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		db:     testutil.NewFaultyDatabase(testutil.NewTestDatabase(t)),
		mem:    testutil.NewTestBlobStore(),
		clock:  testutil.FixedClock(),
		policy: casefs.DefaultPolicy(),
	}
	f.policy.AllowedTypes = append(f.policy.AllowedTypes, "text/plain")
	f.blobs = testutil.NewRecordingBlobStore(f.mem)
	f.svc = casefs.NewService(f.db, f.blobs, f.policy, casefs.NewNopLogger(), f.clock, testutil.NewStubIDGenerator())
	return f
}

func (f *fixture) upload(t *testing.T, dir, name, mimeType, content string) *model.File {
	t.Helper()
	f.clock.Advance(time.Millisecond)
	file, err := f.svc.Upload(context.Background(), casefs.UploadRequest{
		OwnerID:      owner,
		Path:         dir,
		OriginalName: name,
		MimeType:     mimeType,
		Size:         int64(len(content)),
		Body:         strings.NewReader(content),
	})
	require.NoError(t, err)
	return file
}

func (f *fixture) mkdir(t *testing.T, parent, name string) *model.Folder {
	t.Helper()
	folder, err := f.svc.CreateFolder(context.Background(), owner, parent, name)
	require.NoError(t, err)
	return folder
}

func assertKind(t *testing.T, err error, kind string) {
	t.Helper()
	require.Error(t, err)
	assert.Equal(t, kind, casefs.Classify(err), "error: %v", err)
}

func TestCreateFolder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	cases := f.mkdir(t, "", "cases")
	assert.Equal(t, "", cases.Path)
	assert.Equal(t, "cases", cases.ChildPath())
	assert.False(t, cases.ParentID.Valid)

	smith := f.mkdir(t, "/cases/", "  Smith  ")
	assert.Equal(t, "Smith", smith.Name)
	assert.Equal(t, "cases", smith.Path)
	assert.Equal(t, cases.ID, smith.ParentID.String)

	_, err := f.svc.CreateFolder(ctx, owner, "cases", "Smith")
	assertKind(t, err, casefs.KindConflict)

	// Names are case-sensitive.
	f.mkdir(t, "cases", "smith")

	_, err = f.svc.CreateFolder(ctx, owner, "missing", "x")
	assertKind(t, err, casefs.KindNotFound)

	for _, bad := range []string{"", "   ", "a/b", "..", "50%"} {
		_, err = f.svc.CreateFolder(ctx, owner, "", bad)
		assertKind(t, err, casefs.KindValidation)
	}

	// Same name at a different level is fine.
	f.mkdir(t, "cases/Smith", "cases")
}

func TestUploadListDelete(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mkdir(t, "", "cases")

	file := f.upload(t, "cases", "Brief.pdf", "application/pdf", "%PDF-1.4 brief")
	assert.Equal(t, "cases", file.Path)
	assert.Equal(t, "Brief.pdf", file.OriginalName)
	assert.True(t, strings.HasPrefix(file.StorageKey, owner+"/cases/"), file.StorageKey)
	assert.True(t, strings.HasSuffix(file.StorageKey, "-brief.pdf"), file.StorageKey)
	assert.Len(t, file.Checksum, 64)
	assert.True(t, f.mem.Has(file.StorageKey))

	listing, err := f.svc.List(ctx, owner, "cases")
	require.NoError(t, err)
	require.Len(t, listing.Files, 1)
	assert.Equal(t, file.ID, listing.Files[0].ID)
	assert.True(t, listing.Files[0].CanPreview)

	var buf bytes.Buffer
	_, err = f.svc.Fetch(ctx, owner, file.ID, &buf)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 brief", buf.String())

	require.NoError(t, f.svc.Delete(ctx, owner, file.ID))
	assert.False(t, f.mem.Has(file.StorageKey))

	listing, err = f.svc.List(ctx, owner, "cases")
	require.NoError(t, err)
	assert.Empty(t, listing.Files)

	_, err = f.svc.Download(ctx, owner, file.ID)
	assertKind(t, err, casefs.KindNotFound)
	assertKind(t, f.svc.Delete(ctx, owner, file.ID), casefs.KindNotFound)
}

func TestUpload_ReportScenario(t *testing.T) {
	f := newFixture(t)
	f.mkdir(t, "", "cases")

	content := strings.Repeat("x", 2*1024*1024)
	file := f.upload(t, "cases", "report.pdf", "application/pdf", content)
	assert.Equal(t, int64(2*1024*1024), file.Size)

	stats, err := f.svc.Stats(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, int64(2*1024*1024), stats.TotalStorage)
	assert.Equal(t, "2 MB", stats.ReadableStorage)
	assert.Equal(t, int64(1), stats.FilesCount)
	assert.Equal(t, int64(1), stats.FoldersCount)
	assert.Equal(t, int64(2), stats.TotalItems)

	ctx := context.Background()
	listing, err := f.svc.List(ctx, owner, "cases")
	require.NoError(t, err)
	require.Len(t, listing.Files, 1)
	assert.True(t, listing.Files[0].CanPreview)

	found, err := f.svc.Search(ctx, owner, "report")
	require.NoError(t, err)
	require.Len(t, found.Files, 1)
	assert.Equal(t, file.ID, found.Files[0].ID)

	require.NoError(t, f.svc.Delete(ctx, owner, file.ID))
	listing, err = f.svc.List(ctx, owner, "cases")
	require.NoError(t, err)
	assert.Empty(t, listing.Files)
}

func TestUpload_Validation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	tests := []struct {
		name string
		req  casefs.UploadRequest
	}{
		{"too large", casefs.UploadRequest{OriginalName: "big.pdf", MimeType: "application/pdf", Size: casefs.DefaultMaxUploadSize + 1}},
		{"type not allowed", casefs.UploadRequest{OriginalName: "a.exe", MimeType: "application/x-msdownload", Size: 1}},
		{"no name", casefs.UploadRequest{OriginalName: "  ", MimeType: "application/pdf", Size: 1}},
		{"name with separator", casefs.UploadRequest{OriginalName: "a/b.pdf", MimeType: "application/pdf", Size: 1}},
		{"negative size", casefs.UploadRequest{OriginalName: "a.pdf", MimeType: "application/pdf", Size: -1}},
		{"no body", casefs.UploadRequest{OriginalName: "a.pdf", MimeType: "application/pdf", Size: 1}},
		{"bad path", casefs.UploadRequest{Path: "a/../b", OriginalName: "a.pdf", MimeType: "application/pdf", Size: 1, Body: strings.NewReader("x")}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.req.OwnerID = owner
			_, err := f.svc.Upload(ctx, tt.req)
			assertKind(t, err, casefs.KindValidation)
		})
	}
	assert.Equal(t, 0, f.blobs.TotalCalls())
	assert.Equal(t, 0, f.mem.Len())

	_, err := f.svc.Upload(ctx, casefs.UploadRequest{
		OwnerID: owner, Path: "nowhere", OriginalName: "a.pdf", MimeType: "application/pdf",
		Size: 1, Body: strings.NewReader("x"),
	})
	assertKind(t, err, casefs.KindNotFound)
	assert.Equal(t, 0, f.blobs.TotalCalls())
}

func TestUpload_SizeMismatchStoresNothing(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Upload(context.Background(), casefs.UploadRequest{
		OwnerID: owner, OriginalName: "a.pdf", MimeType: "application/pdf",
		Size: 10, Body: strings.NewReader("short"),
	})
	assertKind(t, err, casefs.KindUpstream)
	assert.Equal(t, 0, f.mem.Len())

	stats, err := f.svc.Stats(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.FilesCount)
}

func TestUpload_CompensatesFailedInsert(t *testing.T) {
	f := newFixture(t)
	f.db.FailInsertFile(errors.New("disk full"))

	_, err := f.svc.Upload(context.Background(), casefs.UploadRequest{
		OwnerID: owner, OriginalName: "a.pdf", MimeType: "application/pdf",
		Size: 3, Body: strings.NewReader("abc"),
	})
	assertKind(t, err, casefs.KindUpstream)
	assert.Contains(t, err.Error(), "disk full")

	assert.Equal(t, 1, f.blobs.Calls("Put"))
	assert.Equal(t, 1, f.blobs.Calls("Delete"))
	assert.Equal(t, 0, f.mem.Len())

	listing, err := f.svc.List(context.Background(), owner, "")
	require.NoError(t, err)
	assert.Empty(t, listing.Files)
}

func TestUpload_FailedCompensationKeepsOriginalError(t *testing.T) {
	f := newFixture(t)
	f.db.FailInsertFile(errors.New("disk full"))
	f.blobs.Fail("Delete", errors.New("bucket unreachable"))

	_, err := f.svc.Upload(context.Background(), casefs.UploadRequest{
		OwnerID: owner, OriginalName: "a.pdf", MimeType: "application/pdf",
		Size: 3, Body: strings.NewReader("abc"),
	})
	assertKind(t, err, casefs.KindUpstream)
	assert.Contains(t, err.Error(), "disk full")
	assert.NotContains(t, err.Error(), "bucket unreachable")

	// The orphan is left for Reconcile.
	assert.Equal(t, 1, f.mem.Len())
}

func TestUpload_BlobFailureWritesNoRow(t *testing.T) {
	f := newFixture(t)
	f.blobs.Fail("Put", errors.New("timeout"))

	_, err := f.svc.Upload(context.Background(), casefs.UploadRequest{
		OwnerID: owner, OriginalName: "a.pdf", MimeType: "application/pdf",
		Size: 3, Body: strings.NewReader("abc"),
	})
	assertKind(t, err, casefs.KindUpstream)

	stats, err := f.svc.Stats(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, int64(0), stats.FilesCount)
}

func TestDelete_BlobFailureKeepsRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	file := f.upload(t, "", "a.pdf", "application/pdf", "abc")

	f.blobs.Fail("Delete", errors.New("timeout"))
	assertKind(t, f.svc.Delete(ctx, owner, file.ID), casefs.KindUpstream)

	_, err := f.svc.FileDetails(ctx, owner, file.ID)
	require.NoError(t, err)
	assert.True(t, f.mem.Has(file.StorageKey))
}

func TestDelete_MissingBlobStillDeletesRow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	file := f.upload(t, "", "a.pdf", "application/pdf", "abc")
	require.NoError(t, f.mem.Delete(ctx, file.StorageKey))

	require.NoError(t, f.svc.Delete(ctx, owner, file.ID))
	_, err := f.svc.FileDetails(ctx, owner, file.ID)
	assertKind(t, err, casefs.KindNotFound)
}

func TestDeleteFolder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := f.mkdir(t, "", "cases")
	f.mkdir(t, "cases", "smith")
	a := f.upload(t, "cases", "a.pdf", "application/pdf", "aaa")
	b := f.upload(t, "cases/smith", "b.png", "image/png", "bbbb")
	keep := f.upload(t, "", "keep.pdf", "application/pdf", "k")

	report, err := f.svc.DeleteFolder(ctx, owner, cases.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, report.FilesDeleted)
	assert.Equal(t, 2, report.FoldersDeleted)
	assert.Empty(t, report.OrphanedKeys)

	assert.False(t, f.mem.Has(a.StorageKey))
	assert.False(t, f.mem.Has(b.StorageKey))
	assert.True(t, f.mem.Has(keep.StorageKey))
	for _, id := range []string{a.ID, b.ID} {
		_, err := f.svc.Download(ctx, owner, id)
		assertKind(t, err, casefs.KindNotFound)
	}

	stats, err := f.svc.Stats(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.FilesCount)
	assert.Equal(t, int64(0), stats.FoldersCount)

	_, err = f.svc.List(ctx, owner, "cases/smith")
	assertKind(t, err, casefs.KindNotFound)

	_, err = f.svc.DeleteFolder(ctx, owner, cases.ID)
	assertKind(t, err, casefs.KindNotFound)
}

func TestDeleteFolder_BlobFailureOrphans(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := f.mkdir(t, "", "cases")
	a := f.upload(t, "cases", "a.pdf", "application/pdf", "aaa")

	f.blobs.Fail("Delete", errors.New("timeout"))
	report, err := f.svc.DeleteFolder(ctx, owner, cases.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{a.StorageKey}, report.OrphanedKeys)
	assert.Equal(t, 1, report.FilesDeleted)

	f.blobs.Fail("Delete", nil)
	rec, err := f.svc.Reconcile(ctx, casefs.ReconcileOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{a.StorageKey}, rec.DeletedBlobs)
	assert.Equal(t, 0, f.mem.Len())
}

func TestDeleteFolder_RowFailureKeepsFolder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := f.mkdir(t, "", "cases")
	f.upload(t, "cases", "a.pdf", "application/pdf", "aaa")
	stuck := f.upload(t, "cases", "b.pdf", "application/pdf", "bbb")

	f.db.FailDeleteFile(errors.New("locked"), stuck.ID)
	report, err := f.svc.DeleteFolder(ctx, owner, cases.ID)
	assertKind(t, err, casefs.KindUpstream)
	require.NotNil(t, report)
	assert.Equal(t, 1, report.FilesDeleted)
	assert.Equal(t, 0, report.FoldersDeleted)

	listing, err := f.svc.List(ctx, owner, "cases")
	require.NoError(t, err)
	require.Len(t, listing.Files, 1)
	assert.Equal(t, stuck.ID, listing.Files[0].ID)
}

func TestRenameFolder_PathsFollow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := f.mkdir(t, "", "cases")
	f.mkdir(t, "cases", "smith")
	f.mkdir(t, "", "archive")
	file := f.upload(t, "cases/smith", "a.pdf", "application/pdf", "a")

	renamed, err := f.svc.RenameFolder(ctx, owner, cases.ID, "matters")
	require.NoError(t, err)
	assert.Equal(t, "matters", renamed.Name)

	listing, err := f.svc.List(ctx, owner, "matters/smith")
	require.NoError(t, err)
	require.Len(t, listing.Files, 1)
	assert.Equal(t, "matters/smith", listing.Files[0].Path)

	_, err = f.svc.List(ctx, owner, "cases/smith")
	assertKind(t, err, casefs.KindNotFound)

	// The storage key is not rewritten.
	details, err := f.svc.FileDetails(ctx, owner, file.ID)
	require.NoError(t, err)
	assert.Equal(t, file.StorageKey, details.StorageKey)

	_, err = f.svc.RenameFolder(ctx, owner, cases.ID, "archive")
	assertKind(t, err, casefs.KindConflict)
	_, err = f.svc.RenameFolder(ctx, owner, cases.ID, "a/b")
	assertKind(t, err, casefs.KindValidation)
	_, err = f.svc.RenameFolder(ctx, owner, "nope", "x")
	assertKind(t, err, casefs.KindNotFound)

	same, err := f.svc.RenameFolder(ctx, owner, cases.ID, "matters")
	require.NoError(t, err)
	assert.Equal(t, "matters", same.Name)
}

func TestBreadcrumb(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mkdir(t, "", "cases")
	f.mkdir(t, "cases", "smith")

	crumbs, err := f.svc.Breadcrumb(ctx, owner, "/cases/smith/")
	require.NoError(t, err)
	assert.Equal(t, []casefs.Crumb{
		{Name: "Home", Path: ""},
		{Name: "cases", Path: "cases"},
		{Name: "smith", Path: "cases/smith"},
	}, crumbs)

	crumbs, err = f.svc.Breadcrumb(ctx, owner, "cases/ghost/deeper")
	require.NoError(t, err)
	assert.Equal(t, []casefs.Crumb{
		{Name: "Home", Path: ""},
		{Name: "cases", Path: "cases"},
		{Name: "ghost", Path: "cases/ghost"},
		{Name: "deeper", Path: "cases/ghost/deeper"},
	}, crumbs)

	crumbs, err = f.svc.Breadcrumb(ctx, owner, "")
	require.NoError(t, err)
	assert.Equal(t, []casefs.Crumb{{Name: "Home", Path: ""}}, crumbs)

	_, err = f.svc.Breadcrumb(ctx, owner, "a/../b")
	assertKind(t, err, casefs.KindValidation)
}

func TestRenameFile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	file := f.upload(t, "", "draft.pdf", "application/pdf", "a")
	f.clock.Advance(time.Minute)

	renamed, err := f.svc.Rename(ctx, owner, file.ID, " Final.pdf ")
	require.NoError(t, err)
	assert.Equal(t, "Final.pdf", renamed.OriginalName)
	assert.Equal(t, file.StorageKey, renamed.StorageKey)
	assert.True(t, renamed.UpdatedAt.After(file.UpdatedAt))

	// Display names may repeat.
	other := f.upload(t, "", "other.pdf", "application/pdf", "b")
	_, err = f.svc.Rename(ctx, owner, other.ID, "Final.pdf")
	require.NoError(t, err)

	_, err = f.svc.Rename(ctx, owner, file.ID, "")
	assertKind(t, err, casefs.KindValidation)
	_, err = f.svc.Rename(ctx, owner, "missing", "x.pdf")
	assertKind(t, err, casefs.KindNotFound)
}

func TestCopy(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mkdir(t, "", "cases")
	f.mkdir(t, "", "archive")
	file := f.upload(t, "cases", "a.pdf", "application/pdf", "content")

	_, err := f.svc.Copy(ctx, owner, file.ID, "cases")
	assertKind(t, err, casefs.KindConflict)

	copied, err := f.svc.Copy(ctx, owner, file.ID, "archive")
	require.NoError(t, err)
	assert.NotEqual(t, file.ID, copied.ID)
	assert.Equal(t, "archive", copied.Path)
	assert.Equal(t, file.Filename, copied.Filename)
	assert.Equal(t, file.Checksum, copied.Checksum)
	assert.Equal(t, owner+"/archive/"+file.Filename, copied.StorageKey)
	assert.True(t, f.mem.Has(file.StorageKey))
	assert.True(t, f.mem.Has(copied.StorageKey))

	_, err = f.svc.Copy(ctx, owner, file.ID, "archive")
	assertKind(t, err, casefs.KindConflict)

	_, err = f.svc.Copy(ctx, owner, file.ID, "missing")
	assertKind(t, err, casefs.KindNotFound)

	stats, err := f.svc.Stats(ctx, owner)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.FilesCount)
	assert.Equal(t, int64(14), stats.TotalStorage)
}

func TestMove(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mkdir(t, "", "cases")
	f.mkdir(t, "", "archive")
	file := f.upload(t, "cases", "a.pdf", "application/pdf", "content")
	oldKey := file.StorageKey

	same, err := f.svc.Move(ctx, owner, file.ID, "/cases/")
	require.NoError(t, err)
	assert.Equal(t, oldKey, same.StorageKey)
	assert.Equal(t, 0, f.blobs.Calls("Copy"))

	moved, err := f.svc.Move(ctx, owner, file.ID, "archive")
	require.NoError(t, err)
	assert.Equal(t, file.ID, moved.ID)
	assert.Equal(t, "archive", moved.Path)
	assert.Equal(t, owner+"/archive/"+file.Filename, moved.StorageKey)
	assert.False(t, f.mem.Has(oldKey))
	assert.True(t, f.mem.Has(moved.StorageKey))

	details, err := f.svc.FileDetails(ctx, owner, file.ID)
	require.NoError(t, err)
	assert.Equal(t, moved.StorageKey, details.StorageKey)
	assert.Equal(t, "archive", details.Path)

	root, err := f.svc.Move(ctx, owner, file.ID, "")
	require.NoError(t, err)
	assert.Equal(t, "", root.Path)
	assert.Equal(t, owner+"/"+file.Filename, root.StorageKey)
}

func TestMove_Conflict(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mkdir(t, "", "archive")
	file := f.upload(t, "", "a.pdf", "application/pdf", "content")
	_, err := f.svc.Copy(ctx, owner, file.ID, "archive")
	require.NoError(t, err)

	_, err = f.svc.Move(ctx, owner, file.ID, "archive")
	assertKind(t, err, casefs.KindConflict)
	assert.True(t, f.mem.Has(file.StorageKey))
}

func TestMove_OldBlobDeleteFailureIsTolerated(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mkdir(t, "", "archive")
	file := f.upload(t, "", "a.pdf", "application/pdf", "content")

	f.blobs.Fail("Delete", errors.New("timeout"))
	moved, err := f.svc.Move(ctx, owner, file.ID, "archive")
	require.NoError(t, err)
	assert.True(t, f.mem.Has(file.StorageKey))
	assert.True(t, f.mem.Has(moved.StorageKey))

	f.blobs.Fail("Delete", nil)
	rec, err := f.svc.Reconcile(ctx, casefs.ReconcileOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{file.StorageKey}, rec.DeletedBlobs)
}

func TestDownload(t *testing.T) {
	f := newFixture(t)
	file := f.upload(t, "", "Smith Brief.pdf", "application/pdf", "abc")

	link, err := f.svc.Download(context.Background(), owner, file.ID)
	require.NoError(t, err)
	assert.Equal(t, "Smith Brief.pdf", link.Filename)
	assert.Equal(t, f.clock.Now().Add(f.policy.DownloadTTL), link.ExpiresAt)

	u, err := url.Parse(link.URL)
	require.NoError(t, err)
	assert.Equal(t, "1", u.Query().Get("download"))
	assert.Equal(t, "Smith Brief.pdf", u.Query().Get("filename"))

	signer := blobstore.NewURLSigner(testutil.TestSigningSecret, testutil.TestBlobBaseURL)
	assert.NoError(t, signer.Verify(file.StorageKey, u.Query(), time.Now()))
}

func TestPreview(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	pdf := f.upload(t, "", "a.pdf", "application/pdf", "pdf")
	png := f.upload(t, "", "b.png", "image/png", "png")
	txt := f.upload(t, "", "c.txt", "text/plain", "txt")

	doc, err := f.svc.Preview(ctx, owner, pdf.ID)
	require.NoError(t, err)
	assert.Equal(t, casefs.PreviewDocument, doc.Kind)
	require.True(t, strings.HasPrefix(doc.URL, casefs.DefaultViewerURL), doc.URL)
	signed, err := url.QueryUnescape(strings.TrimPrefix(doc.URL, casefs.DefaultViewerURL))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(signed, testutil.TestBlobBaseURL+"/"), signed)
	assert.Contains(t, doc.DownloadURL, "download=1")

	img, err := f.svc.Preview(ctx, owner, png.ID)
	require.NoError(t, err)
	assert.Equal(t, casefs.PreviewDirect, img.Kind)
	assert.True(t, strings.HasPrefix(img.URL, testutil.TestBlobBaseURL+"/"), img.URL)
	assert.NotContains(t, img.URL, "download=1")

	_, err = f.svc.Preview(ctx, owner, txt.ID)
	assertKind(t, err, casefs.KindValidation)

	listing, err := f.svc.List(ctx, owner, "")
	require.NoError(t, err)
	preview := map[string]bool{}
	for _, e := range listing.Files {
		preview[e.OriginalName] = e.CanPreview
	}
	assert.Equal(t, map[string]bool{"a.pdf": true, "b.png": true, "c.txt": false}, preview)
}

func TestListOrdering(t *testing.T) {
	f := newFixture(t)
	f.mkdir(t, "", "zeta")
	f.mkdir(t, "", "alpha")
	first := f.upload(t, "", "first.pdf", "application/pdf", "1")
	second := f.upload(t, "", "second.pdf", "application/pdf", "2")

	listing, err := f.svc.List(context.Background(), owner, "/")
	require.NoError(t, err)
	require.Len(t, listing.Folders, 2)
	assert.Equal(t, "alpha", listing.Folders[0].Name)
	assert.Equal(t, "zeta", listing.Folders[1].Name)
	require.Len(t, listing.Files, 2)
	assert.Equal(t, second.ID, listing.Files[0].ID)
	assert.Equal(t, first.ID, listing.Files[1].ID)
}

func TestSearch(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mkdir(t, "", "Smith matter")
	f.upload(t, "Smith matter", "smith-brief.pdf", "application/pdf", "a")
	f.upload(t, "", "jones.pdf", "application/pdf", "b")

	res, err := f.svc.Search(ctx, owner, "SMITH")
	require.NoError(t, err)
	assert.Len(t, res.Files, 1)
	assert.Len(t, res.Folders, 1)

	items := res.Items()
	require.Len(t, items, 2)
	assert.Equal(t, casefs.ItemFolder, items[0].Type)
	assert.Equal(t, "Smith matter", items[0].Name)
	assert.Equal(t, casefs.ItemFile, items[1].Type)
	assert.Equal(t, "Smith matter", items[1].Path)

	res, err = f.svc.Search(ctx, owner, "100%")
	require.NoError(t, err)
	assert.Empty(t, res.Items())

	_, err = f.svc.Search(ctx, owner, "   ")
	assertKind(t, err, casefs.KindValidation)
}

func TestFolderDetails(t *testing.T) {
	f := newFixture(t)
	cases := f.mkdir(t, "", "cases")
	f.mkdir(t, "cases", "a")
	f.mkdir(t, "cases/a", "deep")
	f.upload(t, "cases", "x.pdf", "application/pdf", "x")
	f.upload(t, "cases/a", "y.pdf", "application/pdf", "y")

	details, err := f.svc.FolderDetails(context.Background(), owner, cases.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), details.FileCount)
	assert.Equal(t, int64(1), details.FolderCount)
	assert.Equal(t, int64(2), details.TotalItems)
}

func TestStats(t *testing.T) {
	f := newFixture(t)
	f.mkdir(t, "", "a")
	f.mkdir(t, "", "b")
	for i, n := range []int{100, 200, 300} {
		f.upload(t, "a", []string{"x.pdf", "y.pdf", "z.pdf"}[i], "application/pdf", strings.Repeat("z", n))
	}

	stats, err := f.svc.Stats(context.Background(), owner)
	require.NoError(t, err)
	assert.Equal(t, casefs.Stats{
		TotalStorage:    600,
		ReadableStorage: "600 Bytes",
		FilesCount:      3,
		FoldersCount:    2,
		TotalItems:      5,
	}, *stats)

	empty, err := f.svc.Stats(context.Background(), "someone-else")
	require.NoError(t, err)
	assert.Equal(t, "0 Bytes", empty.ReadableStorage)
	assert.Equal(t, int64(0), empty.TotalItems)
}

func TestOwnerIsolation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	folder := f.mkdir(t, "", "cases")
	file := f.upload(t, "cases", "a.pdf", "application/pdf", "a")

	const intruder = "owner-2"
	_, err := f.svc.FileDetails(ctx, intruder, file.ID)
	assertKind(t, err, casefs.KindNotFound)
	_, err = f.svc.Download(ctx, intruder, file.ID)
	assertKind(t, err, casefs.KindNotFound)
	assertKind(t, f.svc.Delete(ctx, intruder, file.ID), casefs.KindNotFound)
	_, err = f.svc.DeleteFolder(ctx, intruder, folder.ID)
	assertKind(t, err, casefs.KindNotFound)
	_, err = f.svc.List(ctx, intruder, "cases")
	assertKind(t, err, casefs.KindNotFound)

	res, err := f.svc.Search(ctx, intruder, "a")
	require.NoError(t, err)
	assert.Empty(t, res.Items())

	// The same folder name is free for another owner.
	_, err = f.svc.CreateFolder(ctx, intruder, "", "cases")
	require.NoError(t, err)
}

func TestRequiresOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	calls := map[string]func() error{
		"CreateFolder": func() error { _, err := f.svc.CreateFolder(ctx, "", "", "x"); return err },
		"List":         func() error { _, err := f.svc.List(ctx, "", ""); return err },
		"Upload": func() error {
			_, err := f.svc.Upload(ctx, casefs.UploadRequest{OriginalName: "a.pdf", MimeType: "application/pdf", Size: 1, Body: strings.NewReader("x")})
			return err
		},
		"Delete":       func() error { return f.svc.Delete(ctx, "", "id") },
		"Search":       func() error { _, err := f.svc.Search(ctx, "", "x"); return err },
		"Stats":        func() error { _, err := f.svc.Stats(ctx, ""); return err },
		"ListActivity": func() error { _, err := f.svc.ListActivity(ctx, "", 0, 0); return err },
		"Breadcrumb":   func() error { _, err := f.svc.Breadcrumb(ctx, "", ""); return err },
	}
	for name, call := range calls {
		err := call()
		assert.Equal(t, casefs.KindAuth, casefs.Classify(err), "%s: %v", name, err)
	}
	assert.Equal(t, 0, f.blobs.TotalCalls())
}

func TestActivityLog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.mkdir(t, "", "cases")
	file := f.upload(t, "cases", "a.pdf", "application/pdf", "a")
	f.clock.Advance(time.Second)
	_, err := f.svc.Rename(ctx, owner, file.ID, "b.pdf")
	require.NoError(t, err)
	f.clock.Advance(time.Second)
	require.NoError(t, f.svc.Delete(ctx, owner, file.ID))

	page, err := f.svc.ListActivity(ctx, owner, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(4), page.Total)
	assert.Equal(t, casefs.DefaultActivityLimit, page.Limit)
	require.Len(t, page.Activities, 4)

	types := make([]string, 0, len(page.Activities))
	for _, a := range page.Activities {
		types = append(types, a.ActivityType)
	}
	assert.Equal(t, []string{casefs.ActivityDelete, casefs.ActivityRename, casefs.ActivityUpload, casefs.ActivityCreate}, types)
	assert.JSONEq(t, `{"from":"a.pdf","to":"b.pdf"}`, page.Activities[1].Details)

	page, err = f.svc.ListActivity(ctx, owner, 2, 1)
	require.NoError(t, err)
	require.Len(t, page.Activities, 2)
	assert.Equal(t, casefs.ActivityRename, page.Activities[0].ActivityType)

	page, err = f.svc.ListActivity(ctx, owner, 1000, 0)
	require.NoError(t, err)
	assert.Equal(t, casefs.MaxActivityLimit, page.Limit)

	_, err = f.svc.ListActivity(ctx, owner, 10, -1)
	assertKind(t, err, casefs.KindValidation)
}

func TestActivityFailureDoesNotFailOperation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.db.FailInsertActivity(errors.New("activity table locked"))

	f.mkdir(t, "", "cases")
	f.upload(t, "cases", "a.pdf", "application/pdf", "a")

	page, err := f.svc.ListActivity(ctx, owner, 0, 0)
	require.NoError(t, err)
	assert.Equal(t, int64(0), page.Total)

	f.svc.LogActivity(ctx, owner, casefs.ActivityCreate, casefs.ItemFolder, "x", nil)
}

func TestExportFolder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := f.mkdir(t, "", "case")
	f.mkdir(t, "case", "sub")
	f.upload(t, "case", "a.pdf", "application/pdf", "first")
	f.upload(t, "case", "a.pdf", "application/pdf", "second")
	f.upload(t, "case", "sub", "text/plain", "plain")
	f.upload(t, "case/sub", "b.png", "image/png", "png")
	f.upload(t, "", "outside.pdf", "application/pdf", "nope")

	var buf bytes.Buffer
	archive, err := f.svc.ExportFolder(ctx, owner, cases.ID, &buf)
	require.NoError(t, err)
	assert.Equal(t, "case.zip", archive.Filename)
	assert.Equal(t, 4, archive.Entries)
	assert.Equal(t, int64(len("first")+len("second")+len("plain")+len("png")), archive.Bytes)

	zr, err := zip.NewReader(bytes.NewReader(buf.Bytes()), int64(buf.Len()))
	require.NoError(t, err)
	contents := map[string]string{}
	for _, entry := range zr.File {
		rc, err := entry.Open()
		require.NoError(t, err)
		data, err := io.ReadAll(rc)
		rc.Close()
		require.NoError(t, err)
		contents[entry.Name] = string(data)
	}

	names := make([]string, 0, len(contents))
	for name := range contents {
		names = append(names, name)
	}
	sort.Strings(names)
	assert.Equal(t, []string{"a (1).pdf", "a.pdf", "sub (1)", "sub/", "sub/b.png"}, names)
	// Newest first: the later upload keeps the plain name.
	assert.Equal(t, "second", contents["a.pdf"])
	assert.Equal(t, "first", contents["a (1).pdf"])
	assert.Equal(t, "plain", contents["sub (1)"])
	assert.Equal(t, "png", contents["sub/b.png"])
}

func TestExportFolder_MissingBlobAborts(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	cases := f.mkdir(t, "", "case")
	file := f.upload(t, "case", "a.pdf", "application/pdf", "a")
	require.NoError(t, f.mem.Delete(ctx, file.StorageKey))

	_, err := f.svc.ExportFolder(ctx, owner, cases.ID, io.Discard)
	assertKind(t, err, casefs.KindUpstream)

	_, err = f.svc.ExportFolder(ctx, owner, "missing", io.Discard)
	assertKind(t, err, casefs.KindNotFound)
}

func TestFetch_MissingBlob(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	file := f.upload(t, "", "a.pdf", "application/pdf", "a")
	require.NoError(t, f.mem.Delete(ctx, file.StorageKey))

	_, err := f.svc.Fetch(ctx, owner, file.ID, io.Discard)
	assertKind(t, err, casefs.KindNotFound)
}

func TestReconcile(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	kept := f.upload(t, "", "kept.pdf", "application/pdf", "k")
	gone := f.upload(t, "", "gone.pdf", "application/pdf", "g")
	require.NoError(t, f.mem.Delete(ctx, gone.StorageKey))

	orphan := owner + "/stray.bin"
	fresh := owner + "/fresh.bin"
	require.NoError(t, f.mem.Put(ctx, orphan, strings.NewReader("o"), 1, "application/octet-stream"))
	require.NoError(t, f.mem.Put(ctx, fresh, strings.NewReader("f"), 1, "application/octet-stream"))
	f.mem.SetModifiedAt(orphan, f.clock.Now().Add(-2*time.Hour))
	f.mem.SetModifiedAt(fresh, f.clock.Now().Add(-time.Minute))
	f.mem.SetModifiedAt(kept.StorageKey, f.clock.Now().Add(-2*time.Hour))

	opts := casefs.ReconcileOptions{GracePeriod: time.Hour, DryRun: true}
	dry, err := f.svc.Reconcile(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, 3, dry.Scanned)
	assert.Equal(t, []string{orphan}, dry.OrphanedBlobs)
	assert.Empty(t, dry.DeletedBlobs)
	assert.Equal(t, []string{gone.StorageKey}, dry.MissingBlobs)
	assert.True(t, f.mem.Has(orphan))

	opts.DryRun = false
	report, err := f.svc.Reconcile(ctx, opts)
	require.NoError(t, err)
	assert.Equal(t, []string{orphan}, report.DeletedBlobs)
	assert.False(t, f.mem.Has(orphan))
	assert.True(t, f.mem.Has(fresh))
	assert.True(t, f.mem.Has(kept.StorageKey))

	// Without a grace period the fresh blob goes too.
	report, err = f.svc.Reconcile(ctx, casefs.ReconcileOptions{})
	require.NoError(t, err)
	assert.Equal(t, []string{fresh}, report.DeletedBlobs)
	assert.Equal(t, 0, report.Failures)

	// Rows under another prefix are out of scope.
	report, err = f.svc.Reconcile(ctx, casefs.ReconcileOptions{Prefix: "owner-2/"})
	require.NoError(t, err)
	assert.Equal(t, 0, report.Scanned)
	assert.Empty(t, report.MissingBlobs)
}

func TestReconcile_DeleteFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.mem.Put(ctx, "x/orphan", strings.NewReader("o"), 1, "text/plain"))

	f.blobs.Fail("Delete", errors.New("timeout"))
	report, err := f.svc.Reconcile(ctx, casefs.ReconcileOptions{})
	require.NoError(t, err)
	assert.Equal(t, 1, report.Failures)
	assert.Equal(t, []string{"x/orphan"}, report.OrphanedBlobs)
	assert.Empty(t, report.DeletedBlobs)

	f.blobs.Fail("List", errors.New("timeout"))
	_, err = f.svc.Reconcile(ctx, casefs.ReconcileOptions{})
	assertKind(t, err, casefs.KindUpstream)
}

func TestUpload_RootOnFileSystemStore(t *testing.T) {
	store, err := blobstore.NewFileSystemStore("local", t.TempDir(),
		blobstore.NewURLSigner(testutil.TestSigningSecret, testutil.TestBlobBaseURL), "")
	require.NoError(t, err)
	svc := casefs.NewService(testutil.NewTestDatabase(t), store, casefs.DefaultPolicy(),
		casefs.NewNopLogger(), testutil.FixedClock(), testutil.NewStubIDGenerator())
	ctx := context.Background()

	content := "%PDF-1.4 report"
	file, err := svc.Upload(ctx, casefs.UploadRequest{
		OwnerID: owner, Path: "", OriginalName: "report.pdf", MimeType: "application/pdf",
		Size: int64(len(content)), Body: strings.NewReader(content),
	})
	require.NoError(t, err)
	assert.Equal(t, owner+"/"+file.Filename, file.StorageKey)

	var buf bytes.Buffer
	_, err = svc.Fetch(ctx, owner, file.ID, &buf)
	require.NoError(t, err)
	assert.Equal(t, content, buf.String())

	_, err = svc.CreateFolder(ctx, owner, "", "archive")
	require.NoError(t, err)
	moved, err := svc.Move(ctx, owner, file.ID, "archive")
	require.NoError(t, err)
	assert.Equal(t, owner+"/archive/"+file.Filename, moved.StorageKey)

	copied, err := svc.Copy(ctx, owner, moved.ID, "")
	require.NoError(t, err)
	assert.Equal(t, owner+"/"+file.Filename, copied.StorageKey)

	buf.Reset()
	_, err = svc.Fetch(ctx, owner, copied.ID, &buf)
	require.NoError(t, err)
	assert.Equal(t, content, buf.String())
}

// gatedBlobStore holds calls to one method until n callers have finished
// the underlying call, so concurrent operations overlap deterministically.
type gatedBlobStore struct {
	casefs.BlobStore
	method string
	gate   sync.WaitGroup
}

func newGatedBlobStore(store casefs.BlobStore, method string, n int) *gatedBlobStore {
	g := &gatedBlobStore{BlobStore: store, method: method}
	g.gate.Add(n)
	return g
}

func (g *gatedBlobStore) wait(method string) {
	if method != g.method {
		return
	}
	g.gate.Done()
	g.gate.Wait()
}

func (g *gatedBlobStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	err := g.BlobStore.Put(ctx, key, r, size, contentType)
	g.wait("Put")
	return err
}

func (g *gatedBlobStore) Copy(ctx context.Context, srcKey, dstKey string) error {
	err := g.BlobStore.Copy(ctx, srcKey, dstKey)
	g.wait("Copy")
	return err
}

func TestUpload_SameNameSameMillisecond(t *testing.T) {
	mem := testutil.NewTestBlobStore()
	svc := casefs.NewService(testutil.NewTestDatabase(t), newGatedBlobStore(mem, "Put", 2),
		casefs.DefaultPolicy(), casefs.NewNopLogger(), testutil.FixedClock(), testutil.NewStubIDGenerator())
	ctx := context.Background()

	contents := []string{"first", "second"}
	files := make([]*model.File, len(contents))
	errs := make([]error, len(contents))
	var wg sync.WaitGroup
	for i, content := range contents {
		wg.Add(1)
		go func() {
			defer wg.Done()
			files[i], errs[i] = svc.Upload(ctx, casefs.UploadRequest{
				OwnerID: owner, OriginalName: "a.pdf", MimeType: "application/pdf",
				Size: int64(len(content)), Body: strings.NewReader(content),
			})
		}()
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])
	assert.NotEqual(t, files[0].StorageKey, files[1].StorageKey)
	for i, file := range files {
		var buf bytes.Buffer
		_, err := svc.Fetch(ctx, owner, file.ID, &buf)
		require.NoError(t, err)
		assert.Equal(t, contents[i], buf.String())
	}
}

func TestCopy_ConcurrentConflictKeepsWinnerBlob(t *testing.T) {
	mem := testutil.NewTestBlobStore()
	blobs := testutil.NewRecordingBlobStore(newGatedBlobStore(mem, "Copy", 2))
	svc := casefs.NewService(testutil.NewTestDatabase(t), blobs,
		casefs.DefaultPolicy(), casefs.NewNopLogger(), testutil.FixedClock(), testutil.NewStubIDGenerator())
	ctx := context.Background()

	_, err := svc.CreateFolder(ctx, owner, "", "archive")
	require.NoError(t, err)
	source, err := svc.Upload(ctx, casefs.UploadRequest{
		OwnerID: owner, OriginalName: "a.pdf", MimeType: "application/pdf",
		Size: 3, Body: strings.NewReader("abc"),
	})
	require.NoError(t, err)

	copies := make([]*model.File, 2)
	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range copies {
		wg.Add(1)
		go func() {
			defer wg.Done()
			copies[i], errs[i] = svc.Copy(ctx, owner, source.ID, "archive")
		}()
	}
	wg.Wait()

	winner, loser := 0, 1
	if errs[0] != nil {
		winner, loser = 1, 0
	}
	require.NoError(t, errs[winner])
	assertKind(t, errs[loser], casefs.KindConflict)
	assert.Equal(t, 0, blobs.Calls("Delete"))

	var buf bytes.Buffer
	_, err = svc.Fetch(ctx, owner, copies[winner].ID, &buf)
	require.NoError(t, err)
	assert.Equal(t, "abc", buf.String())
}

func TestUpload_ConflictOnInsertKeepsBlob(t *testing.T) {
	f := newFixture(t)
	f.db.FailInsertFile(fmt.Errorf("inserting file: %w", casefs.ErrConflict))

	_, err := f.svc.Upload(context.Background(), casefs.UploadRequest{
		OwnerID: owner, OriginalName: "a.pdf", MimeType: "application/pdf",
		Size: 3, Body: strings.NewReader("abc"),
	})
	assertKind(t, err, casefs.KindConflict)
	assert.Equal(t, 0, f.blobs.Calls("Delete"))
	assert.Equal(t, 1, f.mem.Len())
}
