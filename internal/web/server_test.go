package web

import (
	"bytes"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/PuerkitoBio/goquery"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"colmerge/internal/session"
	"colmerge/internal/settings"
)

type client struct {
	t   *testing.T
	srv *httptest.Server
	c   *http.Client
}

func newClient(t *testing.T, store settings.Store) *client {
	t.Helper()
	m := session.NewManager(func() (*session.Session, error) {
		return session.New(session.Options{Store: store})
	})
	srv := httptest.NewServer(New(m).Handler())
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	return &client{t: t, srv: srv, c: &http.Client{Jar: jar}}
}

func (c *client) get(path string) *http.Response {
	c.t.Helper()
	resp, err := c.c.Get(c.srv.URL + path)
	require.NoError(c.t, err)
	return resp
}

func (c *client) postForm(path string, form url.Values) *http.Response {
	c.t.Helper()
	resp, err := c.c.PostForm(c.srv.URL+path, form)
	require.NoError(c.t, err)
	return resp
}

func (c *client) upload(files map[string]string, order ...string) *http.Response {
	c.t.Helper()
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	for _, name := range order {
		fw, err := mw.CreateFormFile("files", name)
		require.NoError(c.t, err)
		_, err = io.WriteString(fw, files[name])
		require.NoError(c.t, err)
	}
	require.NoError(c.t, mw.Close())

	resp, err := c.c.Post(c.srv.URL+"/upload", mw.FormDataContentType(), &body)
	require.NoError(c.t, err)
	return resp
}

func doc(t *testing.T, resp *http.Response) *goquery.Document {
	t.Helper()
	defer resp.Body.Close()
	d, err := goquery.NewDocumentFromReader(resp.Body)
	require.NoError(t, err)
	return d
}

func hasSessionCookie(resp *http.Response) bool {
	for _, ck := range resp.Cookies() {
		if ck.Name == CookieName && ck.Value != "" {
			return true
		}
	}
	return false
}

func TestIndex_RendersControlsWithoutSession(t *testing.T) {
	c := newClient(t, nil)
	resp := c.get("/")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.False(t, hasSessionCookie(resp), "viewing the page must not start a session")

	d := doc(t, resp)
	assert.Equal(t, 1, d.Find(`textarea[name="schema"]`).Length())
	assert.Equal(t, 1, d.Find(`input[type="file"][name="files"]`).Length())
	assert.Equal(t, 1, d.Find(`form[action="/reset"]`).Length())
	assert.Equal(t, 1, d.Find(`form[action="/merge"]`).Length())
	assert.Equal(t, 1, d.Find(`form[action="/save"]`).Length())
}

func TestFlow_SchemaUploadMapMerge(t *testing.T) {
	c := newClient(t, nil)

	d := doc(t, c.postForm("/schema", url.Values{"schema": {"Name\n\nEmail\n"}}))
	assert.Equal(t, "Name\nEmail", d.Find(`textarea[name="schema"]`).Text())

	var big strings.Builder
	big.WriteString("full_name,mail\n")
	for i := 0; i < 15; i++ {
		fmt.Fprintf(&big, "n%d,m%d\n", i, i)
	}
	d = doc(t, c.upload(map[string]string{"a.csv": big.String(), "b.csv": "name\nGrace\n"}, "a.csv", "b.csv"))

	sections := d.Find("section.table")
	require.Equal(t, 2, sections.Length())
	a := sections.First()
	assert.Equal(t, "a.csv", a.AttrOr("data-table", ""))
	assert.Equal(t, 10, a.Find("table.preview tr").Length()-1, "preview must be capped at 10 rows")
	assert.Equal(t, "15 rows", a.Find("p.rows").Text())

	sel := a.Find(`select[name="col:Name"]`)
	require.Equal(t, 1, sel.Length())
	assert.Equal(t, "None", sel.Find("option[selected]").Text())
	assert.Equal(t, 3, sel.Find("option").Length())

	c.postForm("/mapping", url.Values{"table": {"a.csv"}, "col:Name": {"=full_name"}, "col:Email": {"=mail"}}).Body.Close()
	d = doc(t, c.postForm("/mapping", url.Values{"table": {"b.csv"}, "col:Name": {"=name"}}))

	a = d.Find(`section.table[data-table="a.csv"]`)
	assert.Equal(t, "=full_name", a.Find(`select[name="col:Name"] option[selected]`).AttrOr("value", "?"))
	b := d.Find(`section.table[data-table="b.csv"]`)
	assert.Equal(t, "", b.Find(`select[name="col:Email"] option[selected]`).AttrOr("value", "?"))

	resp := c.postForm("/merge", nil)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), `filename="merged.csv"`)
	assert.True(t, strings.HasPrefix(resp.Header.Get("Content-Type"), "text/csv"))

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(body)), "\n")
	assert.Equal(t, "Name,Email", lines[0])
	assert.Equal(t, "n0,m0", lines[1])
	assert.Equal(t, "Grace,", lines[len(lines)-1])
	assert.Len(t, lines, 1+15+1)
}

func TestMerge_PreconditionRendersError(t *testing.T) {
	c := newClient(t, nil)
	resp := c.postForm("/merge", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	d := doc(t, resp)
	assert.Contains(t, d.Find("p.error").Text(), "target schema is empty")
}

func TestUpload_FailureIsolatedAndReported(t *testing.T) {
	c := newClient(t, nil)
	d := doc(t, c.upload(map[string]string{"ok.csv": "a\n1\n", "bad.csv": "a\n1,2\n"}, "ok.csv", "bad.csv"))

	assert.Contains(t, d.Find("p.error").Text(), "bad.csv")
	assert.Equal(t, 1, d.Find("section.table").Length())
}

func TestSaveAndRememberedMappingAcrossSessions(t *testing.T) {
	store := &settings.MemoryStore{}
	first := newClient(t, store)
	first.postForm("/schema", url.Values{"schema": {"Name"}}).Body.Close()
	first.upload(map[string]string{"people.csv": "full_name\nAda\n"}, "people.csv").Body.Close()
	first.postForm("/mapping", url.Values{"table": {"people.csv"}, "col:Name": {"=full_name"}}).Body.Close()

	d := doc(t, first.postForm("/save", nil))
	assert.Equal(t, "Settings saved.", d.Find("p.notice").Text())
	assert.Equal(t, 1, store.Saves)

	second := newClient(t, store)
	d = doc(t, second.get("/"))
	assert.Equal(t, "Name", d.Find(`textarea[name="schema"]`).Text())
	assert.Equal(t, 0, d.Find("section.table").Length())

	d = doc(t, second.upload(map[string]string{"people.csv": "full_name\nBob\n"}, "people.csv"))
	assert.Equal(t, "=full_name", d.Find(`select[name="col:Name"] option[selected]`).AttrOr("value", "?"))
}

func TestReset_ClearsSelections(t *testing.T) {
	c := newClient(t, nil)
	c.postForm("/schema", url.Values{"schema": {"A"}}).Body.Close()
	c.upload(map[string]string{"t.csv": "x\n1\n"}, "t.csv").Body.Close()
	c.postForm("/mapping", url.Values{"table": {"t.csv"}, "col:A": {"=x"}}).Body.Close()

	d := doc(t, c.postForm("/reset", nil))
	assert.Equal(t, "None", d.Find(`select[name="col:A"] option[selected]`).Text())
}

func TestSessionsAreIndependent(t *testing.T) {
	m := session.NewManager(func() (*session.Session, error) { return session.New(session.Options{}) })
	h := New(m).Handler()

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/schema", strings.NewReader("schema=Mine")))
	// No content type: the form is empty, but a session was still created.
	assert.Equal(t, http.StatusSeeOther, rec.Code)

	rec2 := httptest.NewRecorder()
	h.ServeHTTP(rec2, httptest.NewRequest(http.MethodGet, "/", nil))
	d, err := goquery.NewDocumentFromReader(rec2.Body)
	require.NoError(t, err)
	assert.Equal(t, "", d.Find(`textarea[name="schema"]`).Text())
	assert.Equal(t, 1, m.Len(), "the cookieless GET is served from a detached session")
}

func TestCookielessGetsDoNotGrowSessions(t *testing.T) {
	m := session.NewManager(func() (*session.Session, error) { return session.New(session.Options{}) })
	h := New(m).Handler()

	for i := 0; i < 1000; i++ {
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		require.Empty(t, rec.Result().Cookies())
	}
	assert.Equal(t, 0, m.Len())

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/reset", nil))
	assert.True(t, hasSessionCookie(rec.Result()))
	assert.Equal(t, 1, m.Len())
}

func TestIndex_UnknownCookieIsNotRegistered(t *testing.T) {
	m := session.NewManager(func() (*session.Session, error) { return session.New(session.Options{}) })
	h := New(m).Handler()

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "forged"})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, m.Len())
}

func TestMapping_EmptyColumnNameIsSelectable(t *testing.T) {
	c := newClient(t, nil)
	c.postForm("/schema", url.Values{"schema": {"Idx"}}).Body.Close()
	d := doc(t, c.upload(map[string]string{"t.csv": ",a\n1,2\n"}, "t.csv"))

	sel := d.Find(`select[name="col:Idx"]`)
	assert.Equal(t, 3, sel.Find("option").Length())
	assert.Equal(t, "", sel.Find("option[selected]").AttrOr("value", "?"))

	d = doc(t, c.postForm("/mapping", url.Values{"table": {"t.csv"}, "col:Idx": {"="}}))
	assert.Equal(t, "=", d.Find(`select[name="col:Idx"] option[selected]`).AttrOr("value", "?"))

	resp := c.postForm("/merge", nil)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, "Idx\n1\n", string(body))
}

func TestMapping_RejectsUnprefixedChoice(t *testing.T) {
	c := newClient(t, nil)
	c.postForm("/schema", url.Values{"schema": {"A"}}).Body.Close()
	c.upload(map[string]string{"t.csv": "x\n1\n"}, "t.csv").Body.Close()

	resp := c.postForm("/mapping", url.Values{"table": {"t.csv"}, "col:A": {"x"}})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestMapping_RequiresTable(t *testing.T) {
	c := newClient(t, nil)
	resp := c.postForm("/mapping", url.Values{"col:A": {"x"}})
	defer resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}
