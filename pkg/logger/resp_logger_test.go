package logger

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestResponseLogger(t *testing.T) {
	tests := []struct {
		name       string
		handler    http.HandlerFunc
		wantStatus int
		wantBytes  int
	}{
		{
			name:       "implicit OK",
			handler:    func(w http.ResponseWriter, r *http.Request) { io.WriteString(w, "hello") },
			wantStatus: http.StatusOK,
			wantBytes:  5,
		},
		{
			name: "explicit status",
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "Bad Request", http.StatusBadRequest)
			},
			wantStatus: http.StatusBadRequest,
			wantBytes:  len("Bad Request\n"),
		},
		{
			name: "first status wins",
			handler: func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusCreated)
				w.WriteHeader(http.StatusInternalServerError)
			},
			wantStatus: http.StatusCreated,
		},
		{
			name: "status after body ignored",
			handler: func(w http.ResponseWriter, r *http.Request) {
				io.WriteString(w, "ok")
				w.WriteHeader(http.StatusTeapot)
			},
			wantStatus: http.StatusOK,
			wantBytes:  2,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := httptest.NewRecorder()
			lw := New(rr)

			tt.handler(lw, httptest.NewRequest(http.MethodGet, "/", nil))

			if lw.Status() != tt.wantStatus {
				t.Errorf("want status %v, got %v", tt.wantStatus, lw.Status())
			}
			if lw.BytesWritten() != tt.wantBytes {
				t.Errorf("want %d bytes, got %d", tt.wantBytes, lw.BytesWritten())
			}
			if rr.Code != tt.wantStatus {
				t.Errorf("want recorder status %v, got %v", tt.wantStatus, rr.Code)
			}
		})
	}
}
