// Package gateway is a small path-style S3 endpoint backed by sqlite. It
// stands in for the managed storage service when the replicator runs
// locally or under test.
package gateway

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/hex"
	"encoding/xml"
	"io"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/dashjay/s3_replication/pkg/parse"
	"github.com/dashjay/s3_replication/pkg/s3error"
	"github.com/dashjay/s3_replication/pkg/types"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const timeFormatISO8601 = "2006-01-02T15:04:05.000Z"

type Bucket struct {
	gorm.Model
	BucketName string `gorm:"column:bucket_name;index"`
}

type Object struct {
	gorm.Model
	BucketName  string `gorm:"column:bucket_name;index:idx_bucket_key"`
	KeyPrefix   string `gorm:"column:key_prefix;index:idx_bucket_key"`
	ContentType string `gorm:"column:content_type"`
	ETag        string `gorm:"column:etag"`
	Data        []byte `gorm:"column:data"`
}

type handlerFunc func(s3query types.S3Query, wr http.ResponseWriter, r *http.Request)

type S3Proxy struct {
	DB  *gorm.DB
	mux map[types.S3Operation]handlerFunc
}

// Open connects to the sqlite database at dsn and migrates the schema.
func Open(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, errors.Wrapf(err, "open database %s", dsn)
	}
	logrus.Infoln("start migrating")
	if err := db.AutoMigrate(&Bucket{}, &Object{}); err != nil {
		return nil, errors.Wrap(err, "migrate schema")
	}
	logrus.Infoln("migrated")
	return db, nil
}

func NewS3Proxy(db *gorm.DB) *S3Proxy {
	s3proxy := S3Proxy{DB: db}
	s3proxy.mux = map[types.S3Operation]handlerFunc{
		types.PutBucket:    s3proxy.CreateBucket,
		types.HeadBucket:   s3proxy.HeadBucket,
		types.ListBuckets:  s3proxy.ListBuckets,
		types.GetBucket:    s3proxy.GetBucket,
		types.PutObject:    s3proxy.PutObject,
		types.CopyObject:   s3proxy.CopyObject,
		types.HeadObject:   s3proxy.HeadObject,
		types.GetObject:    s3proxy.GetObject,
		types.RemoveObject: s3proxy.RemoveObject,
	}
	return &s3proxy
}

func (a *S3Proxy) CreateBucket(s3query types.S3Query, wr http.ResponseWriter, r *http.Request) {
	out, err := a.createBucket(r.Context(), &s3.CreateBucketInput{Bucket: aws.String(s3query.DstObj.Bucket)})
	if err != nil {
		s3error.WriteError(r, wr, err)
		return
	}
	wr.Header().Set("Location", aws.ToString(out.Location))
}

func (a *S3Proxy) createBucket(ctx context.Context, input *s3.CreateBucketInput) (*s3.CreateBucketOutput, error) {
	name := aws.ToString(input.Bucket)
	if name == "" {
		return nil, s3error.New(s3error.ErrorCodeInvalidBucketName, nil)
	}
	exists, err := a.bucketExists(ctx, name)
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, s3error.New(s3error.ErrorCodeBucketAlreadyOwnedByYou, nil)
	}
	if err := a.DB.WithContext(ctx).Create(&Bucket{BucketName: name}).Error; err != nil {
		return nil, errors.Wrap(err, "create bucket")
	}
	return &s3.CreateBucketOutput{Location: aws.String("/" + name)}, nil
}

func (a *S3Proxy) bucketExists(ctx context.Context, name string) (bool, error) {
	var b Bucket
	res := a.DB.WithContext(ctx).First(&b, "bucket_name = ?", name)
	if err := res.Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, errors.Wrap(err, "lookup bucket")
	}
	return true, nil
}

func (a *S3Proxy) requireBucket(ctx context.Context, name string) error {
	exists, err := a.bucketExists(ctx, name)
	if err != nil {
		return err
	}
	if !exists {
		return s3error.New(s3error.ErrorCodeNoSuchBucket, nil)
	}
	return nil
}

func (a *S3Proxy) HeadBucket(s3query types.S3Query, wr http.ResponseWriter, r *http.Request) {
	if err := a.requireBucket(r.Context(), s3query.DstObj.Bucket); err != nil {
		s3error.WriteError(r, wr, err)
	}
}

func (a *S3Proxy) PutObject(s3query types.S3Query, wr http.ResponseWriter, r *http.Request) {
	if r.Header.Get("x-amz-decoded-content-length") != "" {
		s3error.WriteError(r, wr, s3error.New(s3error.ErrorCodeNotImplemented, errors.New("aws-chunked uploads are not supported")))
		return
	}
	data, err := io.ReadAll(r.Body)
	if err != nil {
		s3error.WriteError(r, wr, s3error.New(s3error.ErrorCodeIncompleteBody, err))
		return
	}
	if r.ContentLength >= 0 && int64(len(data)) != r.ContentLength {
		s3error.WriteError(r, wr, s3error.New(s3error.ErrorCodeIncompleteBody,
			errors.New("content length is not equal to actual body length")))
		return
	}
	out, err := a.putObject(r.Context(), &s3.PutObjectInput{
		Body:          bytes.NewReader(data),
		Bucket:        aws.String(s3query.DstObj.Bucket),
		Key:           aws.String(s3query.DstObj.Key),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String(r.Header.Get("Content-Type")),
	})
	if err != nil {
		s3error.WriteError(r, wr, err)
		return
	}
	wr.Header().Set("ETag", aws.ToString(out.ETag))
}

func (a *S3Proxy) putObject(ctx context.Context, input *s3.PutObjectInput) (*s3.PutObjectOutput, error) {
	bucket, key := aws.ToString(input.Bucket), aws.ToString(input.Key)
	if err := a.requireBucket(ctx, bucket); err != nil {
		return nil, err
	}
	var data []byte
	if input.Body != nil {
		var err error
		if data, err = io.ReadAll(input.Body); err != nil {
			return nil, errors.Wrap(err, "read body")
		}
	}
	if input.ContentLength != nil && *input.ContentLength != int64(len(data)) {
		return nil, s3error.New(s3error.ErrorCodeIncompleteBody,
			errors.New("content length is not equal to actual body length"))
	}
	obj, err := a.saveObject(ctx, bucket, key, data, aws.ToString(input.ContentType))
	if err != nil {
		return nil, err
	}
	return &s3.PutObjectOutput{ETag: aws.String(obj.ETag)}, nil
}

func (a *S3Proxy) saveObject(ctx context.Context, bucket, key string, data []byte, contentType string) (*Object, error) {
	var obj Object
	res := a.DB.WithContext(ctx).First(&obj, "bucket_name = ? AND key_prefix = ?", bucket, key)
	if res.Error != nil && !errors.Is(res.Error, gorm.ErrRecordNotFound) {
		return nil, errors.Wrap(res.Error, "lookup object")
	}
	if contentType == "" {
		contentType = "binary/octet-stream"
	}
	sum := md5.Sum(data)
	obj.BucketName, obj.KeyPrefix = bucket, key
	obj.Data, obj.ContentType = data, contentType
	obj.ETag = `"` + hex.EncodeToString(sum[:]) + `"`
	if err := a.DB.WithContext(ctx).Save(&obj).Error; err != nil {
		return nil, errors.Wrap(err, "save object")
	}
	return &obj, nil
}

type CopyObjectResult struct {
	XMLName      xml.Name `xml:"CopyObjectResult"`
	ETag         string
	LastModified string
}

func (a *S3Proxy) CopyObject(s3query types.S3Query, wr http.ResponseWriter, r *http.Request) {
	out, err := a.copyObject(r.Context(), &s3.CopyObjectInput{
		Bucket:     aws.String(s3query.DstObj.Bucket),
		Key:        aws.String(s3query.DstObj.Key),
		CopySource: aws.String(s3query.SrcObj.Bucket + "/" + s3query.SrcObj.Key),
	})
	if err != nil {
		s3error.WriteError(r, wr, err)
		return
	}
	writeXML(r, wr, &CopyObjectResult{
		ETag:         aws.ToString(out.CopyObjectResult.ETag),
		LastModified: aws.ToTime(out.CopyObjectResult.LastModified).UTC().Format(timeFormatISO8601),
	})
}

// copyObject expects an already unescaped "bucket/key" copy source.
func (a *S3Proxy) copyObject(ctx context.Context, input *s3.CopyObjectInput) (*s3.CopyObjectOutput, error) {
	srcBucket, srcKey, ok := strings.Cut(strings.TrimPrefix(aws.ToString(input.CopySource), "/"), "/")
	if !ok || srcBucket == "" || srcKey == "" {
		return nil, s3error.New(s3error.ErrorCodeInvalidArgument, errors.New("invalid copy source"))
	}
	dstBucket, dstKey := aws.ToString(input.Bucket), aws.ToString(input.Key)
	if srcBucket == dstBucket && srcKey == dstKey {
		return nil, s3error.New(s3error.ErrorCodeInvalidRequest, nil)
	}
	src, err := a.loadObject(ctx, srcBucket, srcKey)
	if err != nil {
		return nil, err
	}
	if err := a.requireBucket(ctx, dstBucket); err != nil {
		return nil, err
	}
	dst, err := a.saveObject(ctx, dstBucket, dstKey, src.Data, src.ContentType)
	if err != nil {
		return nil, err
	}
	logrus.WithFields(logrus.Fields{"source": srcBucket, "destination": dstBucket, "key": dstKey}).Debugln("copied object")
	return &s3.CopyObjectOutput{CopyObjectResult: &s3types.CopyObjectResult{
		ETag:         aws.String(dst.ETag),
		LastModified: aws.Time(dst.UpdatedAt),
	}}, nil
}

func (a *S3Proxy) loadObject(ctx context.Context, bucket, key string) (*Object, error) {
	if err := a.requireBucket(ctx, bucket); err != nil {
		return nil, err
	}
	var obj Object
	res := a.DB.WithContext(ctx).First(&obj, "bucket_name = ? AND key_prefix = ?", bucket, key)
	if err := res.Error; err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, errors.Wrap(err, "lookup object")
		}
		return nil, s3error.New(s3error.ErrorCodeNoSuchKey, nil)
	}
	return &obj, nil
}

func (a *S3Proxy) HeadObject(s3query types.S3Query, wr http.ResponseWriter, r *http.Request) {
	output, err := a.getObject(r.Context(), &s3.GetObjectInput{
		Bucket: aws.String(s3query.DstObj.Bucket),
		Key:    aws.String(s3query.DstObj.Key),
	})
	if err != nil {
		s3error.WriteError(r, wr, err)
		return
	}
	writeObjectHeaders(wr, output)
}

func (a *S3Proxy) GetObject(s3query types.S3Query, wr http.ResponseWriter, r *http.Request) {
	output, err := a.getObject(r.Context(), &s3.GetObjectInput{
		Bucket: aws.String(s3query.DstObj.Bucket),
		Key:    aws.String(s3query.DstObj.Key),
	})
	if err != nil {
		s3error.WriteError(r, wr, err)
		return
	}
	defer output.Body.Close()
	writeObjectHeaders(wr, output)
	if _, err := io.Copy(wr, output.Body); err != nil {
		logrus.WithError(err).Errorln("write object body error")
	}
}

func writeObjectHeaders(wr http.ResponseWriter, output *s3.GetObjectOutput) {
	wr.Header().Set("Last-Modified", aws.ToTime(output.LastModified).UTC().Format(http.TimeFormat))
	wr.Header().Set("Content-Length", strconv.FormatInt(aws.ToInt64(output.ContentLength), 10))
	wr.Header().Set("Content-Type", aws.ToString(output.ContentType))
	wr.Header().Set("ETag", aws.ToString(output.ETag))
}

func (a *S3Proxy) getObject(ctx context.Context, input *s3.GetObjectInput) (*s3.GetObjectOutput, error) {
	obj, err := a.loadObject(ctx, aws.ToString(input.Bucket), aws.ToString(input.Key))
	if err != nil {
		return nil, err
	}
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(obj.Data)),
		ContentLength: aws.Int64(int64(len(obj.Data))),
		ContentType:   aws.String(obj.ContentType),
		ETag:          aws.String(obj.ETag),
		LastModified:  aws.Time(obj.UpdatedAt),
	}, nil
}

func (a *S3Proxy) RemoveObject(s3query types.S3Query, wr http.ResponseWriter, r *http.Request) {
	_, err := a.deleteObject(r.Context(), &s3.DeleteObjectInput{
		Bucket: aws.String(s3query.DstObj.Bucket),
		Key:    aws.String(s3query.DstObj.Key),
	})
	if err != nil {
		s3error.WriteError(r, wr, err)
		return
	}
	wr.WriteHeader(http.StatusNoContent)
}

// deleteObject succeeds for missing keys, as S3 does.
func (a *S3Proxy) deleteObject(ctx context.Context, input *s3.DeleteObjectInput) (*s3.DeleteObjectOutput, error) {
	bucket := aws.ToString(input.Bucket)
	if err := a.requireBucket(ctx, bucket); err != nil {
		return nil, err
	}
	res := a.DB.WithContext(ctx).Where("bucket_name = ? AND key_prefix = ?", bucket, aws.ToString(input.Key)).Delete(&Object{})
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "delete object")
	}
	return &s3.DeleteObjectOutput{}, nil
}

type ListBucketResult struct {
	XMLName        xml.Name `xml:"ListBucketResult"`
	Name           string
	Prefix         string
	Delimiter      string `xml:",omitempty"`
	MaxKeys        int64
	KeyCount       int
	IsTruncated    bool
	Contents       []ListEntry
	CommonPrefixes []CommonPrefix `xml:",omitempty"`
}

type ListEntry struct {
	Key          string
	LastModified string
	ETag         string
	Size         int64
	StorageClass string
}

type CommonPrefix struct {
	Prefix string
}

func (a *S3Proxy) GetBucket(s3query types.S3Query, wr http.ResponseWriter, r *http.Request) {
	out, err := a.getBucket(r.Context(), &s3.ListObjectsV2Input{
		Bucket:    aws.String(s3query.DstObj.Bucket),
		Prefix:    aws.String(s3query.ListQuery.Prefix),
		Delimiter: aws.String(s3query.ListQuery.Delimiter),
		MaxKeys:   aws.Int32(int32(s3query.ListQuery.MaxKeys)),
	})
	if err != nil {
		s3error.WriteError(r, wr, err)
		return
	}
	result := &ListBucketResult{
		Name:        aws.ToString(out.Name),
		Prefix:      aws.ToString(out.Prefix),
		Delimiter:   aws.ToString(out.Delimiter),
		MaxKeys:     int64(aws.ToInt32(out.MaxKeys)),
		KeyCount:    int(aws.ToInt32(out.KeyCount)),
		IsTruncated: aws.ToBool(out.IsTruncated),
	}
	for _, c := range out.Contents {
		result.Contents = append(result.Contents, ListEntry{
			Key:          aws.ToString(c.Key),
			LastModified: aws.ToTime(c.LastModified).UTC().Format(timeFormatISO8601),
			ETag:         aws.ToString(c.ETag),
			Size:         aws.ToInt64(c.Size),
			StorageClass: string(c.StorageClass),
		})
	}
	for _, p := range out.CommonPrefixes {
		result.CommonPrefixes = append(result.CommonPrefixes, CommonPrefix{Prefix: aws.ToString(p.Prefix)})
	}
	writeXML(r, wr, result)
}

func (a *S3Proxy) getBucket(ctx context.Context, input *s3.ListObjectsV2Input) (*s3.ListObjectsV2Output, error) {
	bucket := aws.ToString(input.Bucket)
	if err := a.requireBucket(ctx, bucket); err != nil {
		return nil, err
	}
	var objects []Object
	res := a.DB.WithContext(ctx).Order("key_prefix").Find(&objects, "bucket_name = ?", bucket)
	if res.Error != nil {
		return nil, errors.Wrap(res.Error, "list objects")
	}
	prefix, delimiter := aws.ToString(input.Prefix), aws.ToString(input.Delimiter)
	maxKeys := aws.ToInt32(input.MaxKeys)
	out := &s3.ListObjectsV2Output{
		Name:      aws.String(bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String(delimiter),
		MaxKeys:   aws.Int32(maxKeys),
	}
	seen := map[string]bool{}
	var count int32
	for i := range objects {
		key := objects[i].KeyPrefix
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if count >= maxKeys {
			out.IsTruncated = aws.Bool(true)
			break
		}
		if delimiter != "" {
			if j := strings.Index(key[len(prefix):], delimiter); j >= 0 {
				common := key[:len(prefix)+j+len(delimiter)]
				if !seen[common] {
					seen[common] = true
					out.CommonPrefixes = append(out.CommonPrefixes, s3types.CommonPrefix{Prefix: aws.String(common)})
					count++
				}
				continue
			}
		}
		out.Contents = append(out.Contents, s3types.Object{
			Key:          aws.String(key),
			ETag:         aws.String(objects[i].ETag),
			LastModified: aws.Time(objects[i].UpdatedAt),
			Size:         aws.Int64(int64(len(objects[i].Data))),
			StorageClass: s3types.ObjectStorageClassStandard,
		})
		count++
	}
	out.KeyCount = aws.Int32(count)
	return out, nil
}

type ListAllMyBucketsResult struct {
	XMLName xml.Name `xml:"ListAllMyBucketsResult"`
	Owner   BucketOwner
	Buckets []BucketEntry `xml:"Buckets>Bucket"`
}

type BucketOwner struct {
	ID          string
	DisplayName string
}

type BucketEntry struct {
	Name         string
	CreationDate string
}

func (a *S3Proxy) ListBuckets(s3query types.S3Query, wr http.ResponseWriter, r *http.Request) {
	out, err := a.listBuckets(r.Context(), &s3.ListBucketsInput{})
	if err != nil {
		s3error.WriteError(r, wr, err)
		return
	}
	result := &ListAllMyBucketsResult{Owner: BucketOwner{
		ID:          aws.ToString(out.Owner.ID),
		DisplayName: aws.ToString(out.Owner.DisplayName),
	}}
	for _, b := range out.Buckets {
		result.Buckets = append(result.Buckets, BucketEntry{
			Name:         aws.ToString(b.Name),
			CreationDate: aws.ToTime(b.CreationDate).UTC().Format(timeFormatISO8601),
		})
	}
	writeXML(r, wr, result)
}

func (a *S3Proxy) listBuckets(ctx context.Context, _ *s3.ListBucketsInput) (*s3.ListBucketsOutput, error) {
	var buckets []Bucket
	if err := a.DB.WithContext(ctx).Find(&buckets).Error; err != nil {
		return nil, errors.Wrap(err, "list buckets")
	}
	sort.Slice(buckets, func(i, j int) bool { return buckets[i].BucketName < buckets[j].BucketName })
	outBuckets := make([]s3types.Bucket, 0, len(buckets))
	for i := range buckets {
		outBuckets = append(outBuckets, s3types.Bucket{
			CreationDate: aws.Time(buckets[i].CreatedAt),
			Name:         aws.String(buckets[i].BucketName),
		})
	}
	return &s3.ListBucketsOutput{
		Buckets: outBuckets,
		Owner: &s3types.Owner{
			DisplayName: aws.String("replicator"),
			ID:          aws.String("replicator"),
		},
	}, nil
}

// EnsureBucket creates the bucket unless it already exists.
func (a *S3Proxy) EnsureBucket(ctx context.Context, name string) error {
	_, err := a.createBucket(ctx, &s3.CreateBucketInput{Bucket: aws.String(name)})
	if s3error.IsS3Error(err, s3error.ErrorCodeBucketAlreadyOwnedByYou) {
		return nil
	}
	return err
}

func (a *S3Proxy) StoreObject(ctx context.Context, bucket, key string, data []byte) error {
	_, err := a.putObject(ctx, &s3.PutObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	})
	return err
}

func (a *S3Proxy) LoadObject(ctx context.Context, bucket, key string) ([]byte, error) {
	obj, err := a.loadObject(ctx, bucket, key)
	if err != nil {
		return nil, err
	}
	return obj.Data, nil
}

func (a *S3Proxy) ServeHTTP(wr http.ResponseWriter, r *http.Request) {
	id := uuid.NewString()
	r = r.WithContext(context.WithValue(r.Context(), s3error.RequestIDKey, id))
	wr.Header().Set("x-amz-request-id", id)
	query := parse.S3Query(r)
	start := time.Now()
	a.ServeMux(query.Type)(query, wr, r)
	logrus.WithFields(logrus.Fields{
		"op":       query.Type.String(),
		"bucket":   query.DstObj.Bucket,
		"key":      query.DstObj.Key,
		"duration": time.Since(start),
	}).Debugln("served request")
}

var _ http.Handler = (*S3Proxy)(nil)

func (a *S3Proxy) ServeMux(s3Op types.S3Operation) handlerFunc {
	logrus.Debugln("s3Op: ", s3Op.String())
	if handler, ok := a.mux[s3Op]; ok {
		return handler
	}
	if s3Op == types.ErrorOperation {
		return func(s3query types.S3Query, wr http.ResponseWriter, r *http.Request) {
			s3error.WriteError(r, wr, s3error.New(s3error.ErrorCodeInvalidArgument, errors.New("invalid copy source")))
		}
	}
	return func(s3query types.S3Query, wr http.ResponseWriter, r *http.Request) {
		s3error.WriteError(r, wr, s3error.New(s3error.ErrorCodeNotImplemented, nil))
	}
}

func writeXML(r *http.Request, wr http.ResponseWriter, v interface{}) {
	bin, err := xml.Marshal(v)
	if err != nil {
		s3error.WriteError(r, wr, err)
		return
	}
	wr.Header().Set("Content-Type", "application/xml")
	if _, err := wr.Write(append([]byte(xml.Header), bin...)); err != nil {
		logrus.WithError(err).Errorln("write body error")
	}
}
