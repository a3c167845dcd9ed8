package tileserver

import (
	"errors"
	"fmt"
	"net/url"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrInvalidTemplate is returned by New when a template cannot address tiles.
var ErrInvalidTemplate = errors.New("invalid tile server template")

// Server describes where tiles come from and where they are kept on disk.
// Templates use %z, %x and %y placeholders.
type Server struct {
	Name         string
	URLTemplate  string
	CacheFolder  string
	PathTemplate string
	FileTemplate string
}

// New validates the templates and returns an immutable server description.
// The on-disk layout is always <folder>/<zoom>/<x>/<y>.<ext>, so the path
// template must be exactly %z then %x and the file template %y plus an
// extension.
func New(name, urlTemplate, cacheFolder, pathTemplate, fileTemplate string) (*Server, error) {
	for _, p := range []string{"%z", "%x", "%y"} {
		if !strings.Contains(urlTemplate, p) {
			return nil, fmt.Errorf("%w: url %q is missing %s", ErrInvalidTemplate, urlTemplate, p)
		}
	}
	u, err := url.Parse(fill(urlTemplate, 0, 0, 0))
	if err != nil {
		return nil, fmt.Errorf("%w: url %q: %v", ErrInvalidTemplate, urlTemplate, err)
	}
	if u.Scheme != "http" && u.Scheme != "https" || u.Host == "" {
		return nil, fmt.Errorf("%w: url %q must be an absolute http(s) url", ErrInvalidTemplate, urlTemplate)
	}

	if strings.Trim(pathTemplate, "/") != "%z/%x" {
		return nil, fmt.Errorf("%w: path %q must be /%%z/%%x/", ErrInvalidTemplate, pathTemplate)
	}

	ext := strings.TrimPrefix(fileTemplate, "%y")
	if ext == fileTemplate || len(ext) < 2 || ext[0] != '.' || strings.ContainsAny(ext, "%/") {
		return nil, fmt.Errorf("%w: file %q must be %%y.<ext>", ErrInvalidTemplate, fileTemplate)
	}

	if strings.TrimSpace(cacheFolder) == "" {
		return nil, fmt.Errorf("%w: empty cache folder", ErrInvalidTemplate)
	}

	return &Server{
		Name:         name,
		URLTemplate:  urlTemplate,
		CacheFolder:  cacheFolder,
		PathTemplate: pathTemplate,
		FileTemplate: fileTemplate,
	}, nil
}

// ResolveURL returns the download url of tile z/x/y. x must already be wrapped.
func (s *Server) ResolveURL(z, x, y int) string {
	return fill(s.URLTemplate, z, x, y)
}

// ResolvePath returns the directory of column x at zoom z, relative to the
// cache folder.
func (s *Server) ResolvePath(z, x int) string {
	p := strings.ReplaceAll(s.PathTemplate, "%z", strconv.Itoa(z))
	return strings.ReplaceAll(p, "%x", strconv.Itoa(x))
}

// ResolveFileName returns the file name of row y.
func (s *Server) ResolveFileName(y int) string {
	return strings.ReplaceAll(s.FileTemplate, "%y", strconv.Itoa(y))
}

// TilePath returns the full file path of tile z/x/y inside the cache folder.
func (s *Server) TilePath(z, x, y int) string {
	return filepath.Join(s.CacheFolder, filepath.FromSlash(s.ResolvePath(z, x)), s.ResolveFileName(y))
}

// Extension returns the tile file extension including the dot.
func (s *Server) Extension() string {
	return strings.TrimPrefix(s.FileTemplate, "%y")
}

func fill(tmpl string, z, x, y int) string {
	r := strings.NewReplacer(
		"%z", strconv.Itoa(z),
		"%x", strconv.Itoa(x),
		"%y", strconv.Itoa(y),
	)
	return r.Replace(tmpl)
}
