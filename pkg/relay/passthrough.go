package relay

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/modelrelay/modelrelay/pkg/httpclient"
)

// hopByHopHeaders are never forwarded in either direction.
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Te":                  true,
	"Trailers":            true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
	"Host":                true,
	"Content-Length":      true,
	"Content-Encoding":    true,
	"Accept-Encoding":     true,
}

// passthrough forwards an already-filtered Messages API body to an
// Anthropic-shaped downstream and relays the reply byte for byte. The
// caller's credentials travel with the request; the proxy adds none of
// its own. Returns true once the downstream reply was relayed, whatever
// its status.
func passthrough(w http.ResponseWriter, r *http.Request, client *httpclient.Client, baseURL string, body map[string]any) bool {
	payload, err := json.Marshal(body)
	if err != nil {
		writeError(w, newError(KindInvalidRequest, "failed to encode request body: %s", err))
		return false
	}

	url := strings.TrimRight(baseURL, "/") + "/v1/messages"
	req, err := http.NewRequestWithContext(r.Context(), http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		writeError(w, newError(KindAPIError, "failed to build downstream request: %s", err))
		return false
	}

	for name, values := range r.Header {
		if hopByHopHeaders[http.CanonicalHeaderKey(name)] {
			continue
		}
		for _, v := range values {
			req.Header.Add(name, v)
		}
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		writeError(w, Classify(err))
		return false
	}
	defer resp.Body.Close()

	header := w.Header()
	for name, values := range resp.Header {
		if hopByHopHeaders[http.CanonicalHeaderKey(name)] {
			continue
		}
		for _, v := range values {
			header.Add(name, v)
		}
	}
	w.WriteHeader(resp.StatusCode)

	if err := copyFlushing(w, resp.Body); err != nil {
		// Headers are already committed; all we can do is stop relaying.
		slog.Debug("passthrough relay interrupted", "error", err)
	}
	return true
}

// copyFlushing streams downstream bytes to the client, flushing after
// every read so SSE events are not held in a buffer.
func copyFlushing(w http.ResponseWriter, r io.Reader) error {
	flusher, _ := w.(http.Flusher)
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return werr
			}
			if flusher != nil {
				flusher.Flush()
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}
