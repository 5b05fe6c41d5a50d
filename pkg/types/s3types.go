package types

type S3Object struct {
	Bucket string
	Key    string
}

type ListQuery struct {
	Prefix    string
	Delimiter string
	MaxKeys   int64
}

type S3Query struct {
	Type      S3Operation
	DstObj    S3Object
	SrcObj    S3Object
	ListQuery ListQuery
}

// HasCopy reports whether the request names a copy source.
func (q S3Query) HasCopy() bool {
	return q.SrcObj.Bucket != "" && q.SrcObj.Key != ""
}
