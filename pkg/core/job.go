// Package core provides the domain models and interfaces for the later package.
package core

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// DefaultQueue is the queue used when a caller does not name one.
const DefaultQueue = "a"

// Header is a single request header. Names are stored lower-cased.
type Header struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// Request is an immutable snapshot of an outbound HTTP request.
type Request struct {
	Method  string   `json:"method"`
	URL     string   `json:"url"`
	Headers []Header `json:"headers,omitempty"`
	Body    []byte   `json:"body,omitempty"`
}

// Job is a scheduled request persisted under (queue, id).
type Job struct {
	ID        uint64    `json:"id"`
	Queue     string    `json:"queue"`
	Request   Request   `json:"request"`
	FireAt    time.Time `json:"fire_at"`
	CreatedAt time.Time `json:"created_at"`
}

// Trigger is the payload of a delayed message. It names a job, nothing more.
type Trigger struct {
	ID    uint64 `json:"id"`
	Queue string `json:"queue"`
}

// NormalizeHeaders lower-cases names and orders the result by name. Values for
// the same name keep their original order.
func NormalizeHeaders(h http.Header) []Header {
	if len(h) == 0 {
		return nil
	}
	names := make([]string, 0, len(h))
	for name := range h {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return strings.ToLower(names[i]) < strings.ToLower(names[j])
	})
	out := make([]Header, 0, len(h))
	for _, name := range names {
		lower := strings.ToLower(name)
		for _, v := range h[name] {
			out = append(out, Header{Name: lower, Value: v})
		}
	}
	return out
}

// Header returns the snapshot's headers as an http.Header.
func (r Request) Header() http.Header {
	h := make(http.Header, len(r.Headers))
	for _, kv := range r.Headers {
		h.Add(kv.Name, kv.Value)
	}
	return h
}

// WithHeader returns a copy of r with every value of name replaced by value.
func (r Request) WithHeader(name, value string) Request {
	name = strings.ToLower(name)
	out := make([]Header, 0, len(r.Headers)+1)
	inserted := false
	for _, kv := range r.Headers {
		if kv.Name == name {
			continue
		}
		if !inserted && kv.Name > name {
			out = append(out, Header{Name: name, Value: value})
			inserted = true
		}
		out = append(out, kv)
	}
	if !inserted {
		out = append(out, Header{Name: name, Value: value})
	}
	r.Headers = out
	return r
}

// HTTPRequest rebuilds a sendable request from the snapshot.
func (r Request) HTTPRequest(ctx context.Context) (*http.Request, error) {
	var body io.Reader
	if len(r.Body) > 0 {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, r.URL, body)
	if err != nil {
		return nil, err
	}
	req.Header = r.Header()
	if host := req.Header.Get("Host"); host != "" {
		req.Host = host
		req.Header.Del("Host")
	}
	return req, nil
}

// SnapshotRequest captures method, URL, headers and body of req. The body is
// read to the end and left drained.
func SnapshotRequest(req *http.Request) (Request, error) {
	snap := Request{
		Method:  req.Method,
		Headers: NormalizeHeaders(req.Header),
	}
	if req.URL != nil {
		snap.URL = req.URL.String()
	}
	if req.Body != nil && req.Body != http.NoBody {
		defer req.Body.Close()
		body, err := io.ReadAll(req.Body)
		if err != nil {
			return Request{}, err
		}
		snap.Body = body
	}
	return snap, nil
}
