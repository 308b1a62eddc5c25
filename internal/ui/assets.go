package ui

import (
	"crypto/sha256"
	"embed"
	"encoding/hex"
	"fmt"
	"io/fs"
	"net/http"
	"path"
	"strings"

	"github.com/tdewolff/minify/v2"
	"github.com/tdewolff/minify/v2/css"
	"github.com/tdewolff/minify/v2/js"
)

// Embed static assets under this package
//
//go:embed static/*
var staticFS embed.FS

var mediaTypes = map[string]string{
	".css": "text/css",
	".js":  "text/javascript",
}

type asset struct {
	mediaType string
	body      []byte
	etag      string
}

// Assets are the embedded static files, minified once.
type Assets struct {
	files map[string]asset
}

func LoadAssets() (*Assets, error) {
	m := minify.New()
	m.AddFunc("text/css", css.Minify)
	m.AddFunc("text/javascript", js.Minify)

	a := &Assets{files: make(map[string]asset)}
	err := fs.WalkDir(staticFS, "static", func(p string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		mediaType, ok := mediaTypes[path.Ext(p)]
		if !ok {
			return nil
		}
		raw, err := staticFS.ReadFile(p)
		if err != nil {
			return err
		}
		body, err := m.Bytes(mediaType, raw)
		if err != nil {
			return fmt.Errorf("minifying %s: %w", p, err)
		}
		sum := sha256.Sum256(body)
		a.files[path.Base(p)] = asset{
			mediaType: mediaType,
			body:      body,
			etag:      hex.EncodeToString(sum[:])[:12],
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return a, nil
}

// Paths maps each asset name to its cache-busting URL.
func (a *Assets) Paths() map[string]string {
	paths := make(map[string]string, len(a.files))
	for name, f := range a.files {
		paths[name] = "/static/" + name + "?v=" + f.etag
	}
	return paths
}

func (a *Assets) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	name := strings.TrimPrefix(r.URL.Path, "/static/")
	f, ok := a.files[name]
	if !ok {
		http.NotFound(w, r)
		return
	}
	etag := `"` + f.etag + `"`
	if r.Header.Get("If-None-Match") == etag {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", f.mediaType+"; charset=utf-8")
	w.Header().Set("ETag", etag)
	w.Header().Set("Cache-Control", "public, max-age=86400")
	w.Write(f.body)
}
