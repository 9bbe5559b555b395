// Package objectkey extracts canonical blob store keys from the URL and path
// forms documents use to reference stored files.
package objectkey

import (
	"net/url"
	"strings"
)

// Key is a canonical object reference. Bucket is empty when the stored form
// did not name one.
type Key struct {
	Bucket string
	Path   string
}

// InBucket reports whether k lives in bucket. Keys without a bucket match any.
func (k Key) InBucket(bucket string) bool {
	return k.Bucket == "" || bucket == "" || k.Bucket == bucket
}

// Parse recognises the supported reference forms:
//
//	gs://bucket/path and s3://bucket/path
//	https://firebasestorage.googleapis.com/v0/b/bucket/o/escaped%2Fpath?alt=media
//	https://storage.googleapis.com/bucket/path
//	https://bucket.s3.amazonaws.com/path, https://bucket.s3.region.amazonaws.com/path
//	https://s3.region.amazonaws.com/bucket/path
//	plain relative paths such as "props/p1/photo.jpg"
//
// Anything else, including links to unrelated hosts, is not a reference.
func Parse(value string) (Key, bool) {
	value = strings.TrimSpace(value)
	if value == "" || strings.HasPrefix(value, "data:") {
		return Key{}, false
	}

	if !strings.Contains(value, "://") {
		return parsePlain(value)
	}

	u, err := url.Parse(value)
	if err != nil {
		return Key{}, false
	}

	switch u.Scheme {
	case "gs", "s3":
		return bucketAndPath(u.Host, u.Path)
	case "http", "https":
	default:
		return Key{}, false
	}

	host := strings.ToLower(u.Hostname())
	switch {
	case host == "firebasestorage.googleapis.com":
		return parseFirebase(u)
	case host == "storage.googleapis.com":
		return splitBucket(u.Path)
	case strings.HasPrefix(host, "s3.") && strings.HasSuffix(host, ".amazonaws.com"),
		host == "s3.amazonaws.com":
		return splitBucket(u.Path)
	case strings.HasSuffix(host, ".amazonaws.com") && strings.Contains(host, ".s3."):
		bucket := host[:strings.Index(host, ".s3.")]
		return bucketAndPath(bucket, u.Path)
	}
	return Key{}, false
}

// parseFirebase handles /v0/b/{bucket}/o/{escaped path}.
func parseFirebase(u *url.URL) (Key, bool) {
	parts := strings.SplitN(strings.TrimPrefix(u.EscapedPath(), "/"), "/", 5)
	if len(parts) != 5 || parts[0] != "v0" || parts[1] != "b" || parts[3] != "o" {
		return Key{}, false
	}
	path, err := url.PathUnescape(parts[4])
	if err != nil {
		return Key{}, false
	}
	return bucketAndPath(parts[2], path)
}

func splitBucket(p string) (Key, bool) {
	p = strings.TrimPrefix(p, "/")
	i := strings.Index(p, "/")
	if i <= 0 {
		return Key{}, false
	}
	return bucketAndPath(p[:i], p[i+1:])
}

func bucketAndPath(bucket, p string) (Key, bool) {
	p = strings.TrimPrefix(p, "/")
	if bucket == "" || p == "" {
		return Key{}, false
	}
	return Key{Bucket: bucket, Path: p}, true
}

func parsePlain(value string) (Key, bool) {
	p := strings.TrimPrefix(value, "/")
	if !strings.Contains(p, "/") || strings.ContainsAny(p, " \t\n") {
		return Key{}, false
	}
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	return Key{Path: p}, p != ""
}
