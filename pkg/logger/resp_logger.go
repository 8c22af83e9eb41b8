// Package logger provides a response writer that records what a handler
// sent, for access logging.
package logger

import "net/http"

type ResponseLogger struct {
	w           http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func New(w http.ResponseWriter) *ResponseLogger {
	return &ResponseLogger{w: w, status: http.StatusOK}
}

// WriteHeader records the first status code written. Later calls are passed
// through so net/http can report the superfluous call.
func (l *ResponseLogger) WriteHeader(code int) {
	if !l.wroteHeader {
		l.status = code
		l.wroteHeader = true
	}
	l.w.WriteHeader(code)
}

func (l *ResponseLogger) Write(b []byte) (int, error) {
	l.wroteHeader = true
	n, err := l.w.Write(b)
	l.bytes += n
	return n, err
}

func (l *ResponseLogger) Header() http.Header {
	return l.w.Header()
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (l *ResponseLogger) Unwrap() http.ResponseWriter {
	return l.w
}

func (l *ResponseLogger) Status() int {
	return l.status
}

func (l *ResponseLogger) BytesWritten() int {
	return l.bytes
}
