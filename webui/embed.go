// Package webui embeds the compiled admin panel assets. The dist
// directory is produced by the frontend build and checked in alongside
// the Go sources so one binary serves everything.
package webui

import (
	"embed"
	"io/fs"
)

//go:embed dist
var distFS embed.FS

// DistFS returns an fs.FS rooted at the embedded dist directory.
func DistFS() (fs.FS, error) {
	return fs.Sub(distFS, "dist")
}
