package wsmux

import (
	"bufio"
	"fmt"
)

// writeHTTPResponse writes a minimal, connection-closing HTTP response.
// The multiplexer never keeps a plain HTTP connection alive past one
// request: the browser issues a handful of GETs for static assets, each
// on its own connection, and reopens the WebSocket separately.
func writeHTTPResponse(w *bufio.Writer, status int, contentType string, body []byte) {
	statusText := "OK"
	if status == 404 {
		statusText = "Not Found"
	}
	fmt.Fprintf(w, "HTTP/1.1 %d %s\r\n", status, statusText)
	fmt.Fprintf(w, "Content-Type: %s\r\n", contentType)
	fmt.Fprintf(w, "Content-Length: %d\r\n", len(body))
	fmt.Fprintf(w, "Connection: close\r\n\r\n")
	w.Write(body)
	w.Flush()
}
