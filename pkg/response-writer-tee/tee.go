package tee

import (
	"bytes"
	"net/http"
	"time"
)

// HeaderHook is called once, right before the status line is sent.
// It may modify the header that is about to be written.
type HeaderHook func(status int, header http.Header)

// ResponseSaver is a wrapper around http.ResponseWriter that saves the response body to a buffer
// while passing everything through to the client.
type ResponseSaver struct {
	rw           http.ResponseWriter
	b            *bytes.Buffer
	header       http.Header
	sent         http.Header
	status       int
	wroteHeaders bool
	beforeHeader HeaderHook
	CreatedAt    time.Time
}

// Implementation of http.ResponseWriter
func (t *ResponseSaver) Header() http.Header {
	return t.header
}

// Implementation of http.ResponseWriter
func (t *ResponseSaver) WriteHeader(statusCode int) {
	if t.wroteHeaders {
		return
	}
	t.wroteHeaders = true
	t.status = statusCode
	if t.beforeHeader != nil {
		t.beforeHeader(statusCode, t.header)
	}
	// snapshot what the client gets, later handler mutations are ignored
	t.sent = t.header.Clone()
	if t.rw != nil {
		copyHeader(t.rw.Header(), t.sent)
		t.rw.WriteHeader(statusCode)
	}
}

// Implementation of http.ResponseWriter
func (t *ResponseSaver) Write(b []byte) (int, error) {
	if !t.wroteHeaders {
		t.WriteHeader(http.StatusOK)
	}
	if t.rw != nil {
		if n, err := t.rw.Write(b); err != nil {
			t.b.Write(b[:n])
			return n, err
		}
	}
	return t.b.Write(b)
}

// Finish makes sure the status line has been sent.
// A handler that returns without writing anything produces an empty 200.
func (t *ResponseSaver) Finish() {
	if !t.wroteHeaders {
		t.WriteHeader(http.StatusOK)
	}
}

// StatusCode returns the status code of the response.
func (t *ResponseSaver) StatusCode() int {
	return t.status
}

// SentHeader returns the header as it was sent with the status line.
func (t *ResponseSaver) SentHeader() http.Header {
	return t.sent
}

// Body returns the recorded response body.
func (t *ResponseSaver) Body() []byte {
	return t.b.Bytes()
}

// NewResponseSaver returns a new ResponseSaver.
// If w is not nil, the response will be written (tee'd) to it in addition to saving to buffer.
func NewResponseSaver(w http.ResponseWriter, beforeHeader HeaderHook) *ResponseSaver {
	return &ResponseSaver{
		CreatedAt:    time.Now(),
		rw:           w,
		b:            &bytes.Buffer{},
		header:       http.Header{},
		beforeHeader: beforeHeader,
	}
}

func copyHeader(dst, src http.Header) {
	for k, vv := range src {
		for _, v := range vv {
			dst.Add(k, v)
		}
	}
}
