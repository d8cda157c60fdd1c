// Package tarfs serves static assets (the browser UI) packed into a single
// tar archive, keeping a bounded LRU of recently-served entries that is
// consulted before the archive index. Entries are shared by pointer on
// both paths; neither copies an entry's bytes.
package tarfs

import (
	"archive/tar"
	"bytes"
	"io"
	"io/ioutil"
	"mime"
	"path"
	"strings"
	"time"

	"github.com/golang/groupcache/lru"
)

// Entry is one file extracted from the tar archive.
type Entry struct {
	Name    string
	Data    []byte
	ModTime time.Time
}

// FS is an in-memory, read-only filesystem backed by a tar archive read
// once at startup.
type FS struct {
	entries map[string]*Entry
	cache   *lru.Cache
}

// defaultCacheSize bounds the number of entries kept warm in the LRU; the
// appliance's UI is a handful of files, so this comfortably holds all of
// them without growing unbounded on a hostile client requesting garbage
// paths.
const defaultCacheSize = 64

// Load reads a tar archive from r and indexes its regular files by a
// cleaned, slash-separated path with any leading "./" or "/" stripped.
func Load(r io.Reader) (*FS, error) {
	data, err := ioutil.ReadAll(r)
	if err != nil {
		return nil, err
	}
	return LoadBytes(data)
}

// LoadBytes is like Load but takes the archive already in memory.
func LoadBytes(data []byte) (*FS, error) {
	tr := tar.NewReader(bytes.NewReader(data))
	entries := make(map[string]*Entry)

	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		buf := make([]byte, hdr.Size)
		if _, err := io.ReadFull(tr, buf); err != nil {
			return nil, err
		}

		name := normalize(hdr.Name)
		entries[name] = &Entry{Name: name, Data: buf, ModTime: hdr.ModTime}
	}

	return &FS{entries: entries, cache: lru.New(defaultCacheSize)}, nil
}

func normalize(name string) string {
	name = path.Clean("/" + name)
	return strings.TrimPrefix(name, "/")
}

// Open resolves a request path (as seen on the wire, e.g. "/" or
// "/app.js") to an Entry. "/" maps to "index.html". Serves from the LRU
// cache when the path was recently requested.
func (fs *FS) Open(requestPath string) (*Entry, bool) {
	name := normalize(requestPath)
	if name == "" {
		name = "index.html"
	}

	if v, ok := fs.cache.Get(name); ok {
		return v.(*Entry), true
	}

	e, ok := fs.entries[name]
	if !ok {
		return nil, false
	}
	fs.cache.Add(name, e)
	return e, true
}

// ContentType guesses the MIME type for name from its extension, falling
// back to a generic binary type for anything unrecognized.
func ContentType(name string) string {
	if ct := mime.TypeByExtension(path.Ext(name)); ct != "" {
		return ct
	}
	switch path.Ext(name) {
	case ".wasm":
		return "application/wasm"
	default:
		return "application/octet-stream"
	}
}
