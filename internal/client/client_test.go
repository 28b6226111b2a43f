package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conneroisu/flowtree/internal/flow"
	"github.com/conneroisu/flowtree/internal/logging"
)

// fakeFlows is a minimal flows endpoint: ETag-conditional GET, revision
// optimistically locked POST.
type fakeFlows struct {
	mu       sync.Mutex
	document string
	rev      int
	fetches  int
	pushes   int
	conflict bool
	fail5xx  int
}

func (f *fakeFlows) etag() string { return fmt.Sprintf(`"rev-%d"`, f.rev) }

func (f *fakeFlows) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		defer f.mu.Unlock()

		if f.fail5xx > 0 {
			f.fail5xx--
			w.WriteHeader(http.StatusInternalServerError)
			return
		}

		switch r.Method {
		case http.MethodGet:
			f.fetches++
			if r.Header.Get("If-None-Match") == f.etag() {
				w.WriteHeader(http.StatusNotModified)
				return
			}
			w.Header().Set("ETag", f.etag())
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"flows":%s,"rev":"%d"}`, f.document, f.rev)

		case http.MethodPost:
			f.pushes++
			if f.conflict || r.URL.Query().Get("rev") != fmt.Sprint(f.rev) {
				w.WriteHeader(http.StatusConflict)
				return
			}
			var body struct {
				Flows json.RawMessage `json:"flows"`
			}
			json.NewDecoder(r.Body).Decode(&body)
			f.document = string(body.Flows)
			f.rev++
			w.Header().Set("Content-Type", "application/json")
			fmt.Fprintf(w, `{"rev":"%d"}`, f.rev)
		}
	})
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c := New(url, Credential{Type: "none"}, Options{Timeout: 5 * time.Second}, logging.NewNop())
	c.sleep = func(context.Context, time.Duration) error { return nil }
	return c
}

func TestFetchCachesETag(t *testing.T) {
	f := &fakeFlows{document: `[{"id":"n1","type":"inject"}]`, rev: 1}
	srv := httptest.NewServer(f.handler())
	defer srv.Close()

	c := newTestClient(t, srv.URL)

	first := c.Fetch(context.Background(), false)
	require.Equal(t, FetchFresh, first.Status)
	assert.Equal(t, "1", first.Revision)
	assert.Equal(t, `"rev-1"`, first.ETag)
	require.Len(t, first.Document, 1)

	// Second poll sends If-None-Match and sees 304.
	second := c.Fetch(context.Background(), false)
	assert.Equal(t, FetchUnchanged, second.Status)

	// force skips the conditional header.
	third := c.Fetch(context.Background(), true)
	assert.Equal(t, FetchFresh, third.Status)
}

func TestPushAdvancesRevisionAndClearsETag(t *testing.T) {
	f := &fakeFlows{document: `[]`, rev: 1}
	srv := httptest.NewServer(f.handler())
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	fr := c.Fetch(context.Background(), false)
	require.Equal(t, FetchFresh, fr.Status)
	require.NotEmpty(t, c.ETag())

	doc, err := flow.Parse([]byte(`[{"id":"n1","type":"inject"}]`))
	require.NoError(t, err)

	pr := c.Push(context.Background(), doc, fr.Revision)
	require.Equal(t, PushOk, pr.Status)
	assert.Equal(t, "2", pr.NewRevision)
	// Any successful push clears the cached ETag.
	assert.Empty(t, c.ETag())

	// Next fetch is unconditional and sees the new state.
	next := c.Fetch(context.Background(), false)
	assert.Equal(t, FetchFresh, next.Status)
	assert.Equal(t, "2", next.Revision)
}

func TestPushRevisionsMonotonic(t *testing.T) {
	f := &fakeFlows{document: `[]`, rev: 1}
	srv := httptest.NewServer(f.handler())
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	doc, err := flow.Parse([]byte(`[{"id":"n1","type":"inject"}]`))
	require.NoError(t, err)

	rev := "1"
	var revisions []string
	for i := 0; i < 5; i++ {
		pr := c.Push(context.Background(), doc, rev)
		require.Equal(t, PushOk, pr.Status)
		rev = pr.NewRevision
		revisions = append(revisions, rev)
	}
	assert.Equal(t, []string{"2", "3", "4", "5", "6"}, revisions)
}

func TestPushStaleRevisionConflicts(t *testing.T) {
	f := &fakeFlows{document: `[]`, rev: 3}
	srv := httptest.NewServer(f.handler())
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	doc, err := flow.Parse([]byte(`[]`))
	require.NoError(t, err)

	pr := c.Push(context.Background(), doc, "2")
	assert.Equal(t, PushConflict, pr.Status)
	require.Error(t, pr.Err)
}

func TestTransientFailuresRetryThenSucceed(t *testing.T) {
	f := &fakeFlows{document: `[]`, rev: 1, fail5xx: 2}
	srv := httptest.NewServer(f.handler())
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	fr := c.Fetch(context.Background(), false)
	assert.Equal(t, FetchFresh, fr.Status)
}

func TestTransientFailuresExhaustCap(t *testing.T) {
	f := &fakeFlows{document: `[]`, rev: 1, fail5xx: 100}
	srv := httptest.NewServer(f.handler())
	defer srv.Close()

	c := newTestClient(t, srv.URL)
	fr := c.Fetch(context.Background(), false)
	assert.Equal(t, FetchError, fr.Status)
	require.Error(t, fr.Err)
}

func TestClientRateLimitRefusal(t *testing.T) {
	f := &fakeFlows{document: `[]`, rev: 1}
	srv := httptest.NewServer(f.handler())
	defer srv.Close()

	c := New(srv.URL, Credential{Type: "none"}, Options{PerMinute: 2, Per10Minutes: 2}, logging.NewNop())
	doc, err := flow.Parse([]byte(`[]`))
	require.NoError(t, err)

	rev := "1"
	pr := c.Push(context.Background(), doc, rev)
	require.Equal(t, PushOk, pr.Status)
	rev = pr.NewRevision
	pr = c.Push(context.Background(), doc, rev)
	require.Equal(t, PushOk, pr.Status)

	pr = c.Push(context.Background(), doc, pr.NewRevision)
	assert.Equal(t, PushRateLimited, pr.Status)
	// The server never saw the refused request.
	assert.Equal(t, 2, f.pushes)
}

func TestAuthorizationHeaders(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `[]`)
	}))
	defer srv.Close()

	c := New(srv.URL, Credential{Type: "bearer", Token: "sekrit"}, Options{}, logging.NewNop())
	c.Fetch(context.Background(), false)
	assert.Equal(t, "Bearer sekrit", gotAuth)

	c = New(srv.URL, Credential{Type: "basic", Username: "u", Password: "p"}, Options{}, logging.NewNop())
	c.Fetch(context.Background(), false)
	assert.Contains(t, gotAuth, "Basic ")
}

func TestDecodeFlowsBodyShapes(t *testing.T) {
	doc, rev, err := decodeFlowsBody([]byte(`[{"id":"n1","type":"inject"}]`))
	require.NoError(t, err)
	assert.Equal(t, "", rev)
	require.Len(t, doc, 1)

	doc, rev, err = decodeFlowsBody([]byte(`{"flows":[{"id":"n1","type":"inject"}],"rev":"abc"}`))
	require.NoError(t, err)
	assert.Equal(t, "abc", rev)
	require.Len(t, doc, 1)
}
