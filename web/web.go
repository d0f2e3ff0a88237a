// Package web holds the single-page chat front-end.
package web

import (
	"embed"
	"net/http"
)

//go:embed index.html
var files embed.FS

func Handler() http.Handler {
	return http.FileServer(http.FS(files))
}
