package panel

import (
	"embed"
	"io/fs"
	"net/http"
	"os"
	"path"
	"strings"
)

//go:embed web/*
var embedded embed.FS

// assets picks the directory to serve: dir when it exists, else the copy
// compiled into the binary.
func assets(dir string) fs.FS {
	if dir != "" {
		if st, err := os.Stat(dir); err == nil && st.IsDir() {
			return os.DirFS(dir)
		}
	}
	web, err := fs.Sub(embedded, "web")
	if err != nil {
		// Only possible if the embed directive above is broken.
		panic("panel: embedded assets missing: " + err.Error())
	}
	return web
}

// Handler serves the control page from dir, or from the embedded copy when
// dir is empty or missing.
//
// Paths without a file extension that match nothing get index.html so the
// page can own its own routes. A missing asset (say /old.js) is a 404.
func Handler(dir string) http.Handler {
	root := assets(dir)
	files := http.FileServerFS(root)

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache, must-revalidate")

		name := strings.TrimPrefix(path.Clean(r.URL.Path), "/")
		if name == "" || name == "." {
			files.ServeHTTP(w, r)
			return
		}
		if _, err := fs.Stat(root, name); err != nil && path.Ext(name) == "" {
			r2 := r.Clone(r.Context())
			r2.URL.Path = "/"
			files.ServeHTTP(w, r2)
			return
		}
		files.ServeHTTP(w, r)
	})
}
