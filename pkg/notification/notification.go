// Package notification extracts the created object from an SNS-wrapped S3
// event notification.
//
// The inbound payload looks like
//
//	{"Records": [{"Sns": {"Message": "<json encoded S3 event>"}}]}
//
// and only the first record of each level is consulted.
package notification

import (
	"encoding/json"
	"net/url"

	"github.com/aws/aws-lambda-go/events"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var ErrMalformedPayload = errors.New("malformed notification payload")

// Object is the storage object an invocation is about.
type Object struct {
	Bucket    string
	Key       string
	EventName string
	Size      int64
}

// s3Event mirrors the S3 notification document. events.S3Event is not used
// because its key unescaping rejects keys that were never URL-encoded.
type s3Event struct {
	Records []s3EventRecord `json:"Records"`
}

type s3EventRecord struct {
	EventSource string `json:"eventSource"`
	AwsRegion   string `json:"awsRegion"`
	EventName   string `json:"eventName"`
	S3          s3Data `json:"s3"`
}

type s3Data struct {
	Bucket s3BucketData `json:"bucket"`
	Object s3ObjectData `json:"object"`
}

type s3BucketData struct {
	Name string `json:"name"`
}

type s3ObjectData struct {
	Key  string `json:"key"`
	Size int64  `json:"size"`
}

// Parse returns the object named by the first S3 record inside the first
// SNS record. With decodeKeys the object key is URL-unescaped; a key that
// does not unescape cleanly is kept as is.
func Parse(evt events.SNSEvent, decodeKeys bool) (Object, error) {
	if len(evt.Records) == 0 {
		return Object{}, errors.Wrap(ErrMalformedPayload, "no SNS records")
	}
	msg := evt.Records[0].SNS.Message
	if msg == "" {
		return Object{}, errors.Wrap(ErrMalformedPayload, "empty SNS message")
	}
	var s3evt s3Event
	if err := json.Unmarshal([]byte(msg), &s3evt); err != nil {
		return Object{}, errors.Wrapf(ErrMalformedPayload, "decode SNS message: %v", err)
	}
	if len(s3evt.Records) == 0 {
		return Object{}, errors.Wrap(ErrMalformedPayload, "no S3 records in SNS message")
	}
	rec := s3evt.Records[0]
	obj := Object{
		Bucket:    rec.S3.Bucket.Name,
		Key:       rec.S3.Object.Key,
		EventName: rec.EventName,
		Size:      rec.S3.Object.Size,
	}
	if obj.Bucket == "" {
		return Object{}, errors.Wrap(ErrMalformedPayload, "missing s3.bucket.name")
	}
	if obj.Key == "" {
		return Object{}, errors.Wrap(ErrMalformedPayload, "missing s3.object.key")
	}
	if decodeKeys {
		obj.Key = DecodeKey(obj.Key)
	}
	return obj, nil
}

// ParseJSON is Parse over the raw invocation payload.
func ParseJSON(payload []byte, decodeKeys bool) (Object, error) {
	var evt events.SNSEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		return Object{}, errors.Wrapf(ErrMalformedPayload, "decode SNS event: %v", err)
	}
	return Parse(evt, decodeKeys)
}

func DecodeKey(key string) string {
	decoded, err := url.QueryUnescape(key)
	if err != nil {
		// Keep the key as is.
		log.WithError(err).WithField("key", key).Warning("QueryUnescape failed")
		return key
	}
	return decoded
}
