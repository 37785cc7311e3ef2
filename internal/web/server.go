// Package web serves the interactive page. Handlers hold no state of their
// own: they read the cookie's Session to render and call Session operations
// to mutate it.
package web

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"html/template"
	"log"
	"net/http"
	"strings"
	"time"

	"colmerge/internal/export"
	"colmerge/internal/mapping"
	"colmerge/internal/merge"
	"colmerge/internal/session"
	"colmerge/internal/tableset"
)

// CookieName carries the session ID.
const CookieName = "colmerge_session"

const maxUploadMemory = 32 << 20

// sourcePrefix marks a select value as a source column name.
const sourcePrefix = "="

//go:embed templates/index.html
var templateFS embed.FS

var pageTmpl = template.Must(template.ParseFS(templateFS, "templates/index.html"))

// Server routes requests to per-cookie sessions.
type Server struct {
	sessions *session.Manager
}

func New(sessions *session.Manager) *Server {
	return &Server{sessions: sessions}
}

// Handler returns the HTTP routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /{$}", s.handleIndex)
	mux.HandleFunc("POST /schema", s.handleSchema)
	mux.HandleFunc("POST /upload", s.handleUpload)
	mux.HandleFunc("POST /mapping", s.handleMapping)
	mux.HandleFunc("POST /reset", s.handleReset)
	mux.HandleFunc("POST /merge", s.handleMerge)
	mux.HandleFunc("POST /save", s.handleSave)
	return mux
}

// ListenAndServe serves Handler on addr with conservative timeouts.
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Printf("web: listening addr=%s", addr)
	return srv.ListenAndServe()
}

// session returns the caller's session, creating one and setting the cookie
// when the request has none or an unknown ID.
func (s *Server) session(w http.ResponseWriter, r *http.Request) (*session.Session, error) {
	var id string
	if c, err := r.Cookie(CookieName); err == nil {
		id = c.Value
	}
	newID, sess, err := s.sessions.GetOrCreate(id)
	if err != nil {
		return nil, err
	}
	if newID != id {
		log.Printf("web: session created live=%d", s.sessions.Len())
		http.SetCookie(w, &http.Cookie{
			Name:     CookieName,
			Value:    newID,
			Path:     "/",
			HttpOnly: true,
			SameSite: http.SameSiteLaxMode,
		})
	}
	return sess, nil
}

// viewSession returns the caller's live session. A request without one is
// rendered from a detached session seeded from the settings document, so
// reading the page never registers a session; the first action does.
func (s *Server) viewSession(r *http.Request) (*session.Session, error) {
	if c, err := r.Cookie(CookieName); err == nil {
		if sess, ok := s.sessions.Get(c.Value); ok {
			return sess, nil
		}
	}
	return s.sessions.Detached()
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	sess, err := s.viewSession(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	var notice string
	if r.URL.Query().Get("saved") == "1" {
		notice = "Settings saved."
	}
	s.render(w, http.StatusOK, buildPage(sess, notice, nil))
}

func (s *Server) handleSchema(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}
	sess.SetSchemaText(r.PostForm.Get("schema"))
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := r.ParseMultipartForm(maxUploadMemory); err != nil {
		http.Error(w, "Invalid upload", http.StatusBadRequest)
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		s.render(w, http.StatusBadRequest, buildPage(sess, "", []string{"No files selected."}))
		return
	}

	var uploads []tableset.Upload
	var failed []string
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			failed = append(failed, fmt.Sprintf("%s: %v", fh.Filename, err))
			continue
		}
		defer f.Close()
		uploads = append(uploads, tableset.Upload{Name: fh.Filename, Body: f})
	}

	for _, e := range sess.Upload(r.Context(), uploads) {
		failed = append(failed, e.Error())
	}
	if len(failed) > 0 {
		s.render(w, http.StatusOK, buildPage(sess, "", failed))
		return
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleMapping applies one table's selects. Only targets present in the
// form are touched. An empty value is the "None" choice and unsets the
// target; a source column is sent as sourcePrefix+name, so a column named ""
// stays selectable.
func (s *Server) handleMapping(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := r.ParseForm(); err != nil {
		http.Error(w, "Invalid form", http.StatusBadRequest)
		return
	}
	table := r.PostForm.Get("table")
	if table == "" {
		http.Error(w, "Missing 'table' field", http.StatusBadRequest)
		return
	}

	type entry struct {
		target string
		source *string
	}
	var entries []entry
	for _, target := range uniqueTargets(sess.Schema()) {
		vals, ok := r.PostForm["col:"+target]
		if !ok || len(vals) == 0 {
			continue
		}
		if vals[0] == "" {
			entries = append(entries, entry{target: target})
			continue
		}
		src, ok := strings.CutPrefix(vals[0], sourcePrefix)
		if !ok {
			http.Error(w, fmt.Sprintf("Invalid choice for %q", target), http.StatusBadRequest)
			return
		}
		entries = append(entries, entry{target: target, source: mapping.Src(src)})
	}
	for _, e := range entries {
		sess.SetMapping(table, e.target, e.source)
	}
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	sess.ResetMappings()
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) handleMerge(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	var buf bytes.Buffer
	if _, err := sess.Export(&buf); err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, merge.ErrPrecondition) {
			status = http.StatusConflict
		}
		s.render(w, status, buildPage(sess, "", []string{"Merge failed: " + err.Error()}))
		return
	}

	w.Header().Set("Content-Type", export.ContentType+"; charset=utf-8")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", export.FileName))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	sess, err := s.session(w, r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if err := sess.Save(); err != nil {
		s.render(w, http.StatusInternalServerError, buildPage(sess, "", []string{err.Error()}))
		return
	}
	http.Redirect(w, r, "/?saved=1", http.StatusSeeOther)
}

func (s *Server) render(w http.ResponseWriter, status int, p page) {
	var buf bytes.Buffer
	if err := pageTmpl.Execute(&buf, p); err != nil {
		log.Printf("web: render err=%v", err)
		http.Error(w, "render failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
