// Package media 负责读取与删除用户上传的媒体，并提供转写与图片描述能力。
package media

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

// Ref locates one object in a bucket.
type Ref struct {
	Bucket string
	Object string
}

func (r Ref) String() string {
	return "gs://" + r.Bucket + "/" + r.Object
}

var (
	gsPattern       = regexp.MustCompile(`^gs://([^/]+)/(.+)$`)
	firebasePattern = regexp.MustCompile(`firebasestorage\.(?:googleapis\.com|app)/v0/b/([^/]+)/o/([^?]+)`)
	gcsPattern      = regexp.MustCompile(`storage\.googleapis\.com/([^/]+)/([^?]+)`)
)

// ParseRef accepts gs:// URIs, storage.googleapis.com URLs, Firebase
// download URLs and bare object paths (resolved against defaultBucket).
func ParseRef(raw, defaultBucket string) (Ref, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return Ref{}, fmt.Errorf("empty media reference")
	}
	if m := gsPattern.FindStringSubmatch(raw); m != nil {
		return Ref{Bucket: m[1], Object: m[2]}, nil
	}
	if m := firebasePattern.FindStringSubmatch(raw); m != nil {
		object, err := url.PathUnescape(m[2])
		if err != nil {
			return Ref{}, fmt.Errorf("invalid object path in %q: %w", raw, err)
		}
		return Ref{Bucket: m[1], Object: object}, nil
	}
	if m := gcsPattern.FindStringSubmatch(raw); m != nil && !strings.Contains(raw, "firebasestorage") {
		object, err := url.PathUnescape(m[2])
		if err != nil {
			return Ref{}, fmt.Errorf("invalid object path in %q: %w", raw, err)
		}
		return Ref{Bucket: m[1], Object: object}, nil
	}
	if strings.Contains(raw, "://") {
		return Ref{}, fmt.Errorf("unsupported media url format: %q", raw)
	}
	if defaultBucket == "" {
		return Ref{}, fmt.Errorf("media path %q has no bucket and no default bucket is configured", raw)
	}
	return Ref{Bucket: defaultBucket, Object: strings.TrimPrefix(raw, "/")}, nil
}
