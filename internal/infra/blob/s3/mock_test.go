package s3

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// fakeS3 serves the subset of the S3 REST API the store uses, path-style.
// Listings are paged one key at a time to exercise continuation.
type fakeS3 struct {
	mu      sync.Mutex
	objects map[string]fakeObject
	fail    bool
}

type fakeObject struct {
	body        []byte
	contentType string
	meta        map[string]string
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: make(map[string]fakeObject)} }

func respond(status int, body string, header http.Header) *http.Response {
	if header == nil {
		header = http.Header{}
	}
	return &http.Response{StatusCode: status, Body: io.NopCloser(strings.NewReader(body)), Header: header, ContentLength: int64(len(body))}
}

func (f *fakeS3) RoundTrip(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.fail {
		return respond(http.StatusBadRequest, "<Error><Code>InvalidRequest</Code></Error>", http.Header{"Content-Type": {"application/xml"}}), nil
	}
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	if req.Method == http.MethodGet && req.URL.Query().Get("list-type") == "2" {
		return f.list(req.URL.Query().Get("prefix"), req.URL.Query().Get("continuation-token")), nil
	}
	switch req.Method {
	case http.MethodHead:
		obj, ok := f.objects[key]
		if !ok {
			return respond(http.StatusNotFound, "", nil), nil
		}
		resp := respond(http.StatusOK, "", f.headers(obj))
		resp.ContentLength = int64(len(obj.body))
		return resp, nil
	case http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		if dec, ok := decodeChunked(body); ok {
			body = dec
		}
		meta := map[string]string{}
		for name, vals := range req.Header {
			if lower := strings.ToLower(name); strings.HasPrefix(lower, "x-amz-meta-") {
				meta[strings.TrimPrefix(lower, "x-amz-meta-")] = vals[0]
			}
		}
		f.objects[key] = fakeObject{body: body, contentType: req.Header.Get("Content-Type"), meta: meta}
		return respond(http.StatusOK, "", http.Header{"Etag": {"\"etag\""}}), nil
	case http.MethodGet:
		obj, ok := f.objects[key]
		if !ok {
			return respond(http.StatusNotFound, "<Error><Code>NoSuchKey</Code><Message>missing</Message></Error>", http.Header{"Content-Type": {"application/xml"}}), nil
		}
		resp := respond(http.StatusOK, string(obj.body), f.headers(obj))
		resp.Body = io.NopCloser(bytes.NewReader(obj.body))
		return resp, nil
	case http.MethodDelete:
		delete(f.objects, key)
		return respond(http.StatusNoContent, "", nil), nil
	}
	return respond(http.StatusNotImplemented, "", nil), nil
}

func (f *fakeS3) headers(obj fakeObject) http.Header {
	h := http.Header{
		"Content-Length": {strconv.Itoa(len(obj.body))},
		"Content-Type":   {obj.contentType},
		"Etag":           {"\"etag\""},
		"Last-Modified":  {"Mon, 01 Jan 2024 00:00:00 GMT"},
	}
	for k, v := range obj.meta {
		h.Set("X-Amz-Meta-"+k, v)
	}
	return h
}

func (f *fakeS3) list(prefix, token string) *http.Response {
	var keys []string
	for k := range f.objects {
		if strings.HasPrefix(k, prefix) && k > token {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(`<?xml version="1.0" encoding="UTF-8"?><ListBucketResult>`)
	if len(keys) > 1 {
		fmt.Fprintf(&b, "<IsTruncated>true</IsTruncated><NextContinuationToken>%s</NextContinuationToken>", keys[0])
		keys = keys[:1]
	} else {
		b.WriteString("<IsTruncated>false</IsTruncated>")
	}
	for _, k := range keys {
		fmt.Fprintf(&b, "<Contents><Key>%s</Key><Size>%d</Size><ETag>&quot;etag&quot;</ETag><LastModified>2024-01-01T00:00:00Z</LastModified></Contents>", k, len(f.objects[k].body))
	}
	b.WriteString("</ListBucketResult>")
	return respond(http.StatusOK, b.String(), http.Header{"Content-Type": {"application/xml"}})
}

// decodeChunked unwraps a single-chunk aws-chunked payload:
// <hex size>\r\n<body>\r\n0\r\n[trailers]
func decodeChunked(b []byte) ([]byte, bool) {
	parts := strings.Split(string(b), "\r\n")
	if len(parts) < 3 || parts[2] != "0" {
		return nil, false
	}
	size, err := strconv.ParseInt(parts[0], 16, 64)
	if err != nil || int64(len(parts[1])) != size {
		return nil, false
	}
	return []byte(parts[1]), true
}
