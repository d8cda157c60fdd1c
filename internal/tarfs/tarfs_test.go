package tarfs

import (
	"archive/tar"
	"bytes"
	"testing"
)

func buildTar(t *testing.T, files map[string]string) []byte {
	t.Helper()
	buf := new(bytes.Buffer)
	tw := tar.NewWriter(buf)
	for name, content := range files {
		hdr := &tar.Header{Name: name, Size: int64(len(content)), Mode: 0644, Typeflag: tar.TypeReg}
		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("WriteHeader: %v", err)
		}
		if _, err := tw.Write([]byte(content)); err != nil {
			t.Fatalf("Write: %v", err)
		}
	}
	if err := tw.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	return buf.Bytes()
}

func TestOpenIndexAndAsset(t *testing.T) {
	data := buildTar(t, map[string]string{
		"./index.html": "<html></html>",
		"app.js":       "console.log(1)",
	})
	fs, err := LoadBytes(data)
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}

	e, ok := fs.Open("/")
	if !ok {
		t.Fatal("expected / to resolve to index.html")
	}
	if string(e.Data) != "<html></html>" {
		t.Fatalf("unexpected index.html content: %q", e.Data)
	}

	e, ok = fs.Open("/app.js")
	if !ok {
		t.Fatal("expected app.js to be found")
	}
	if string(e.Data) != "console.log(1)" {
		t.Fatalf("unexpected app.js content: %q", e.Data)
	}
}

func TestOpenMissing(t *testing.T) {
	fs, err := LoadBytes(buildTar(t, map[string]string{"index.html": "x"}))
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	if _, ok := fs.Open("/does-not-exist"); ok {
		t.Fatal("expected missing path to not resolve")
	}
}

func TestOpenIsCached(t *testing.T) {
	fs, err := LoadBytes(buildTar(t, map[string]string{"a.txt": "hello"}))
	if err != nil {
		t.Fatalf("LoadBytes: %v", err)
	}
	first, _ := fs.Open("/a.txt")
	second, _ := fs.Open("/a.txt")
	if first != second {
		t.Fatal("expected cached Open to return the same Entry pointer")
	}
}

func TestContentType(t *testing.T) {
	if ContentType("index.html") != "text/html; charset=utf-8" {
		t.Fatalf("unexpected content type for .html: %q", ContentType("index.html"))
	}
	if ContentType("weird.unknownext") != "application/octet-stream" {
		t.Fatalf("expected fallback content type, got %q", ContentType("weird.unknownext"))
	}
}
