package resolver

import (
	"net/http"
	"os"
	"strings"

	"github.com/andybalholm/brotli"
)

// artifact serves one rendered file from the out directory. Artifacts
// are only ever replaced by atomic rename, so a plain read is always a
// complete file. Responses are brotli-compressed when the client
// accepts it; guides compress roughly 10x.
func (s *Server) artifact(name, contentType string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := os.ReadFile(s.outPath(name))
		if err != nil {
			http.Error(w, "not rendered yet", http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", contentType)
		if acceptsBrotli(r) {
			w.Header().Set("Content-Encoding", "br")
			bw := brotli.NewWriterLevel(w, brotli.DefaultCompression)
			bw.Write(data)
			bw.Close()
			return
		}
		w.Write(data)
	}
}

func acceptsBrotli(r *http.Request) bool {
	for _, enc := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		enc = strings.TrimSpace(enc)
		if enc == "br" || strings.HasPrefix(enc, "br;") {
			return true
		}
	}
	return false
}
