// Package web embeds the frontend page served at the root path.
package web

import (
	"embed"
	"io/fs"
	"os"
)

//go:embed static
var assets embed.FS

// FS returns the frontend file system. An empty root selects the embedded
// page; otherwise files are served from the root directory on disk.
func FS(root string) (fs.FS, error) {
	if root != "" {
		return os.DirFS(root), nil
	}
	return fs.Sub(assets, "static")
}
