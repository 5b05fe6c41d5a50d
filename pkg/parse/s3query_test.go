package parse

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/dashjay/s3_replication/pkg/types"
	"github.com/stretchr/testify/assert"
)

func TestS3Query(t *testing.T) {
	tests := []struct {
		method string
		target string
		header map[string]string
		want   types.S3Operation
		dst    types.S3Object
		src    types.S3Object
	}{
		{http.MethodGet, "/", nil, types.ListBuckets, types.S3Object{}, types.S3Object{}},
		{http.MethodPut, "/mirror", nil, types.PutBucket, types.S3Object{Bucket: "mirror"}, types.S3Object{}},
		{http.MethodGet, "/mirror", nil, types.GetBucket, types.S3Object{Bucket: "mirror"}, types.S3Object{}},
		{http.MethodHead, "/mirror", nil, types.HeadBucket, types.S3Object{Bucket: "mirror"}, types.S3Object{}},
		{http.MethodDelete, "/mirror", nil, types.NotImplementOperation, types.S3Object{Bucket: "mirror"}, types.S3Object{}},
		{http.MethodGet, "/mirror/a/b.txt", nil, types.GetObject, types.S3Object{Bucket: "mirror", Key: "a/b.txt"}, types.S3Object{}},
		{http.MethodHead, "/mirror/a/b.txt", nil, types.HeadObject, types.S3Object{Bucket: "mirror", Key: "a/b.txt"}, types.S3Object{}},
		{http.MethodDelete, "/mirror/a/b.txt", nil, types.RemoveObject, types.S3Object{Bucket: "mirror", Key: "a/b.txt"}, types.S3Object{}},
		{http.MethodPut, "/mirror/a/b.txt", nil, types.PutObject, types.S3Object{Bucket: "mirror", Key: "a/b.txt"}, types.S3Object{}},
		{
			http.MethodPut, "/mirror/reports/q1.csv",
			map[string]string{CopySource: "raw-uploads/reports/q1.csv"},
			types.CopyObject,
			types.S3Object{Bucket: "mirror", Key: "reports/q1.csv"},
			types.S3Object{Bucket: "raw-uploads", Key: "reports/q1.csv"},
		},
		{
			http.MethodPut, "/mirror/a.txt",
			map[string]string{CopySource: "raw-uploads"},
			types.ErrorOperation,
			types.S3Object{Bucket: "mirror", Key: "a.txt"},
			types.S3Object{Bucket: "raw-uploads"},
		},
		{http.MethodGet, "/mirror?acl", nil, types.NotImplementOperation, types.S3Object{Bucket: "mirror"}, types.S3Object{}},
		{http.MethodPost, "/mirror/a.txt?uploads", nil, types.NotImplementOperation, types.S3Object{Bucket: "mirror"}, types.S3Object{}},
	}
	for _, tt := range tests {
		t.Run(tt.method+" "+tt.target, func(t *testing.T) {
			r := httptest.NewRequest(tt.method, tt.target, nil)
			for k, v := range tt.header {
				r.Header.Set(k, v)
			}
			q := S3Query(r)
			assert.Equal(t, tt.want, q.Type, q.Type.String())
			assert.Equal(t, tt.dst, q.DstObj)
			assert.Equal(t, tt.src, q.SrcObj)
		})
	}
}

func TestS3QueryListParams(t *testing.T) {
	r := httptest.NewRequest(http.MethodGet, "/mirror?prefix=reports%2F&delimiter=%2F&max-keys=10", nil)
	q := S3Query(r)
	assert.Equal(t, types.ListQuery{Prefix: "reports/", Delimiter: "/", MaxKeys: 10}, q.ListQuery)

	r = httptest.NewRequest(http.MethodGet, "/mirror?max-keys=lots", nil)
	assert.EqualValues(t, 1000, S3Query(r).ListQuery.MaxKeys)
}

func TestCopySourceObject(t *testing.T) {
	assert.Equal(t, types.S3Object{Bucket: "src", Key: "a b/c.txt"}, CopySourceObject("/src/a%20b/c.txt"))
	assert.Equal(t, types.S3Object{Bucket: "src", Key: "k"}, CopySourceObject("src/k?versionId=3"))
	assert.Equal(t, types.S3Object{Bucket: "src", Key: "100%.txt"}, CopySourceObject("src/100%.txt"))
}
