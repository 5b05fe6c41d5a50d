package parse

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/dashjay/s3_replication/pkg/types"
	log "github.com/sirupsen/logrus"
)

const (
	Delimiter  = "delimiter"
	Prefix     = "prefix"
	MaxKeys    = "max-keys"
	CopySource = "x-amz-copy-source"

	// Did not implement
	Acl        = "acl"
	Lifecycle  = "lifecycle"
	Policy     = "policy"
	Tagging    = "tagging"
	Versioning = "versioning"
	Uploads    = "uploads"
	UploadId   = "uploadId"
	Delete     = "delete"
)

const defaultMaxKeys = 1000

// path2BucketAndObject Copy from https://github.com/minio/minio/blob/master/cmd/handler-utils.go
func path2BucketAndObject(path string) (bucket, object string) {
	// Skip the first element if it is '/', split the rest.
	path = strings.TrimPrefix(path, "/")
	pathComponents := strings.SplitN(path, "/", 2)
	// Save the bucket and object extracted from path.
	switch len(pathComponents) {
	case 1:
		bucket = pathComponents[0]
	case 2:
		bucket = pathComponents[0]
		object = pathComponents[1]
	}
	return bucket, object
}

// CopySourceObject splits an x-amz-copy-source header value into bucket and
// key. The value is unescaped first; an invalid escape is used as is.
func CopySourceObject(v string) types.S3Object {
	src, err := url.PathUnescape(v)
	if err != nil {
		// Save unescaped string as is.
		log.WithError(err).Warning("PathUnescape failed")
		src = v
	}
	// Drop a ?versionId= suffix, versions are not tracked.
	if i := strings.Index(src, "?versionId="); i >= 0 {
		src = src[:i]
	}
	bucket, key := path2BucketAndObject(src)
	return types.S3Object{Bucket: bucket, Key: key}
}

func S3Query(r *http.Request) (q types.S3Query) {
	bucket, object := path2BucketAndObject(r.URL.Path)
	query := r.URL.Query()
	anyInQuery := func(keys ...string) bool {
		for _, key := range keys {
			if _, ok := query[key]; ok {
				return true
			}
		}
		return false
	}

	q.ListQuery.Delimiter, q.ListQuery.Prefix = query.Get(Delimiter), query.Get(Prefix)
	q.ListQuery.MaxKeys = defaultMaxKeys
	if v := query.Get(MaxKeys); v != "" {
		k, err := strconv.ParseInt(v, 10, 32)
		if err != nil || k < 0 {
			log.WithError(err).WithField(MaxKeys, v).Warn("Parse failed")
		} else {
			q.ListQuery.MaxKeys = k
		}
	}

	q.DstObj.Bucket = bucket
	if anyInQuery(Acl, Lifecycle, Policy, Tagging, Versioning, Uploads, UploadId, Delete) {
		q.Type = types.NotImplementOperation
		return
	}
	if object == "" {
		if bucket == "" {
			q.Type = types.ListBuckets
			return
		}
		switch r.Method {
		case http.MethodGet:
			q.Type = types.GetBucket
		case http.MethodPut:
			q.Type = types.PutBucket
		case http.MethodHead:
			q.Type = types.HeadBucket
		default:
			q.Type = types.NotImplementOperation
		}
		return
	}
	q.DstObj.Key = object
	switch r.Method {
	case http.MethodGet:
		q.Type = types.GetObject
	case http.MethodHead:
		q.Type = types.HeadObject
	case http.MethodDelete:
		q.Type = types.RemoveObject
	case http.MethodPut:
		q.Type = types.PutObject
		if v := r.Header.Get(CopySource); v != "" {
			q.SrcObj = CopySourceObject(v)
			if !q.HasCopy() {
				q.Type = types.ErrorOperation
				return
			}
			q.Type = types.CopyObject
		}
	default:
		q.Type = types.NotImplementOperation
	}
	return
}
