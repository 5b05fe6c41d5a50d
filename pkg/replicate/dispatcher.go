// Package replicate decides per created object whether it is copied to the
// destination bucket and performs the server-side copy.
package replicate

import (
	"context"
	"net/url"
	"strings"

	"github.com/aws/aws-lambda-go/events"
	"github.com/aws/aws-lambda-go/lambdacontext"
	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/dashjay/s3_replication/pkg/blacklist"
	"github.com/dashjay/s3_replication/pkg/notification"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var ErrNoDestination = errors.New("destination bucket is not configured")

// Copier is the part of *s3.Client the dispatcher needs.
type Copier interface {
	CopyObject(ctx context.Context, params *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
}

var _ Copier = (*s3.Client)(nil)

type Action int

const (
	ActionCopy Action = iota
	ActionSkipCheck
	ActionBlacklisted
)

var actionNames = map[Action]string{
	ActionCopy:        "copy",
	ActionSkipCheck:   "skip-check",
	ActionBlacklisted: "blacklisted",
}

func (a Action) String() string {
	if name, ok := actionNames[a]; ok {
		return name
	}
	return "unknown"
}

func (a Action) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// Decision is what one invocation did. Segment is set for blacklisted keys.
type Decision struct {
	Action      Action `json:"action"`
	Source      string `json:"source"`
	Destination string `json:"destination"`
	Key         string `json:"key"`
	Segment     string `json:"segment,omitempty"`
}

// Copied reports whether the decision issued a copy.
func (d Decision) Copied() bool {
	return d.Action != ActionBlacklisted
}

type Config struct {
	// DestinationBucket wins over the Lambda function name when set.
	DestinationBucket string
	// SkipCheckMarker disables the blacklist for source buckets whose name
	// contains it. Empty disables the exception.
	SkipCheckMarker string
	Blacklist       *blacklist.Set
	DecodeKeys      bool
}

type Dispatcher struct {
	cfg    Config
	copier Copier
}

func New(cfg Config, copier Copier) (*Dispatcher, error) {
	if copier == nil {
		return nil, errors.New("replicate: copier is required")
	}
	return &Dispatcher{cfg: cfg, copier: copier}, nil
}

// Handle is the Lambda entry point for an SNS-wrapped S3 notification.
func (d *Dispatcher) Handle(ctx context.Context, evt events.SNSEvent) (Decision, error) {
	obj, err := notification.Parse(evt, d.cfg.DecodeKeys)
	if err != nil {
		return Decision{}, err
	}
	return d.Dispatch(ctx, obj)
}

func (d *Dispatcher) Dispatch(ctx context.Context, obj notification.Object) (Decision, error) {
	dest := d.destination(ctx)
	decision := Decision{
		Action:      ActionCopy,
		Source:      obj.Bucket,
		Destination: dest,
		Key:         obj.Key,
	}
	logger := log.WithFields(log.Fields{
		"source":      obj.Bucket,
		"destination": dest,
		"key":         obj.Key,
	})

	if d.cfg.SkipCheckMarker != "" && strings.Contains(obj.Bucket, d.cfg.SkipCheckMarker) {
		decision.Action = ActionSkipCheck
		logger.Infof("Skipping blacklist check for source bucket: %s", obj.Bucket)
	} else if res := d.cfg.Blacklist.Check(obj.Key); res.Blacklisted {
		decision.Action = ActionBlacklisted
		decision.Segment = res.Segment
		logger.WithField("segment", res.Segment).Infof("Blacklisted directory: %s", res.Segment)
		return decision, nil
	}

	if dest == "" {
		return decision, ErrNoDestination
	}
	logger.Infof("Copying %s from bucket %s to bucket %s", obj.Key, obj.Bucket, dest)
	_, err := d.copier.CopyObject(ctx, &s3.CopyObjectInput{
		Bucket:     aws.String(dest),
		Key:        aws.String(obj.Key),
		CopySource: aws.String(CopySource(obj.Bucket, obj.Key)),
	})
	if err != nil {
		return decision, errors.Wrapf(err, "copy %s/%s to %s", obj.Bucket, obj.Key, dest)
	}
	return decision, nil
}

func (d *Dispatcher) destination(ctx context.Context) string {
	if d.cfg.DestinationBucket != "" {
		return d.cfg.DestinationBucket
	}
	return FunctionName(ctx)
}

// FunctionName is the name of the executing Lambda function, taken from the
// invoked ARN when available and from the runtime environment otherwise.
func FunctionName(ctx context.Context) string {
	if lc, ok := lambdacontext.FromContext(ctx); ok {
		if name := functionNameFromARN(lc.InvokedFunctionArn); name != "" {
			return name
		}
	}
	return lambdacontext.FunctionName
}

// arn:aws:lambda:<region>:<account>:function:<name>[:<qualifier>]
func functionNameFromARN(arn string) string {
	parts := strings.Split(arn, ":")
	if len(parts) < 7 || parts[0] != "arn" || parts[5] != "function" {
		return ""
	}
	return parts[6]
}

// CopySource renders bucket/key in the URL-encoded form x-amz-copy-source
// expects.
func CopySource(bucket, key string) string {
	segments := strings.Split(key, "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return bucket + "/" + strings.Join(segments, "/")
}
