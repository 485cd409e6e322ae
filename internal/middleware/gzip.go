package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"
)

type compressWriter struct {
	http.ResponseWriter
	gz *gzip.Writer
}

func (c *compressWriter) Write(p []byte) (int, error) {
	return c.gz.Write(p)
}

type compressReader struct {
	rc io.ReadCloser
	gz *gzip.Reader
}

func (c *compressReader) Read(p []byte) (int, error) {
	return c.gz.Read(p)
}

func (c *compressReader) Close() error {
	if err := c.rc.Close(); err != nil {
		return err
	}
	return c.gz.Close()
}

// GzipMiddleware распаковывает сжатые тела запросов и сжимает ответы,
// если клиент сообщил о поддержке gzip.
func GzipMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.Header.Get("Content-Encoding"), "gzip") {
			gz, err := gzip.NewReader(r.Body)
			if err != nil {
				http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
				return
			}
			r.Body = &compressReader{rc: r.Body, gz: gz}
		}

		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") {
			next.ServeHTTP(w, r)
			return
		}

		gz := gzip.NewWriter(w)
		defer gz.Close()

		w.Header().Set("Content-Encoding", "gzip")
		next.ServeHTTP(&compressWriter{ResponseWriter: w, gz: gz}, r)
	})
}
