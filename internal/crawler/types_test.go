package crawler

import (
	"archive/zip"
	"bytes"
	"context"
	"net/http"
	"net/url"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestRecordKey(t *testing.T) {
	t.Parallel()

	withID := Record{SourceID: "abc", Title: "x"}
	require.Equal(t, "abc", withID.Key())

	a := Record{Title: "Computing Machinery", Year: "1950", Authors: []string{"A. Turing"}}
	b := a
	b.Description = "different description"
	require.Equal(t, a.Key(), b.Key())
	require.Len(t, a.Key(), 34)
	require.Equal(t, "h:", a.Key()[:2])

	c := a
	c.Year = "1951"
	require.NotEqual(t, a.Key(), c.Key())
}

func TestRecordValid(t *testing.T) {
	t.Parallel()

	require.True(t, Record{Title: "t", Authors: []string{"a"}}.Valid())
	require.False(t, Record{Title: " ", Authors: []string{"a"}}.Valid())
	require.False(t, Record{Title: "t"}.Valid())
}

func TestFetchRequestFullURL(t *testing.T) {
	t.Parallel()

	req := FetchRequest{
		URL:   "https://scholar.example/scholar?hl=de",
		Query: url.Values{"q": {`"jsmith"`}, "hl": {"en"}},
	}
	full, err := req.FullURL()
	require.NoError(t, err)

	parsed, err := url.Parse(full)
	require.NoError(t, err)
	require.Equal(t, "en", parsed.Query().Get("hl"))
	require.Equal(t, `"jsmith"`, parsed.Query().Get("q"))
}

func TestCrawlStateRememberCookies(t *testing.T) {
	t.Parallel()

	state := NewCrawlState()
	require.Equal(t, 1, state.Page)
	state.RememberCookies([]*http.Cookie{{Name: "NID", Value: "1"}, {Name: "GSP", Value: "a"}})
	state.RememberCookies([]*http.Cookie{{Name: "NID", Value: "2"}})

	require.Len(t, state.Cookies, 2)
	require.Equal(t, "2", state.Cookies[0].Value)
}

func TestWorkspaceArchive(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	ws, err := NewWorkspace(root, "scholar", "prof/1", nil)
	require.NoError(t, err)
	require.DirExists(t, ws.Dir())

	_, err = ws.SaveAttempt(context.Background(), "page-1.html", []byte("<html>1</html>"))
	require.NoError(t, err)
	_, err = ws.SaveAttempt(context.Background(), "page-2.html", []byte("<html>2</html>"))
	require.NoError(t, err)

	blobs := newFakeBlobStore()
	at := time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC)
	uri, err := ws.Archive(context.Background(), blobs, at)
	require.NoError(t, err)
	require.Equal(t, "mem://scholar-prof_1-20240301T123000Z.zip", uri)
	require.NoDirExists(t, ws.Dir())

	data := blobs.objects["scholar-prof_1-20240301T123000Z.zip"]
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 2)
	require.Equal(t, "page-1.html", zr.File[0].Name)
}

func TestWorkspaceRecreatesLeftovers(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	first, err := NewWorkspace(root, "scholar", "p1", nil)
	require.NoError(t, err)
	_, err = first.SaveAttempt(context.Background(), "stale.html", []byte("old"))
	require.NoError(t, err)

	second, err := NewWorkspace(root, "scholar", "p1", nil)
	require.NoError(t, err)
	entries, err := os.ReadDir(second.Dir())
	require.NoError(t, err)
	require.Empty(t, entries)

	second.Discard()
	require.NoDirExists(t, second.Dir())
}

func TestRetryDelayWithinRange(t *testing.T) {
	t.Parallel()

	policy := DefaultFetchPolicy()
	for range 50 {
		d := policy.RetryDelay()
		require.GreaterOrEqual(t, d, 6*time.Second)
		require.LessOrEqual(t, d, 10*time.Second)
		require.Zero(t, d%time.Second)
	}
}

func TestRunLocks(t *testing.T) {
	t.Parallel()

	locks := NewRunLocks()
	release, ok := locks.TryAcquire("p1")
	require.True(t, ok)
	_, ok = locks.TryAcquire("p1")
	require.False(t, ok)
	_, ok = locks.TryAcquire("p2")
	require.True(t, ok)

	release()
	release()
	require.False(t, locks.Active("p1"))
	_, ok = locks.TryAcquire("p1")
	require.True(t, ok)
}

func TestRegistry(t *testing.T) {
	t.Parallel()

	r := NewRegistry()
	r.Register("lines", func() Provider { return &lineProvider{} })

	p, err := r.New("lines")
	require.NoError(t, err)
	require.Equal(t, "lines", p.Tag())

	_, err = r.New("bing")
	require.ErrorIs(t, err, ErrUnknownProvider)
	require.Equal(t, []string{"lines"}, r.Tags())
}
