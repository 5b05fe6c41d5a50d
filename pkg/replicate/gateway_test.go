package replicate

import (
	"context"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/aws/smithy-go"
	"github.com/dashjay/s3_replication/pkg/blacklist"
	"github.com/dashjay/s3_replication/pkg/gateway"
	"github.com/dashjay/s3_replication/pkg/s3error"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newGatewayDispatcher wires a dispatcher to a real S3 client talking to a
// local gateway holding raw-uploads and mirror buckets.
func newGatewayDispatcher(t *testing.T, decodeKeys bool) (*Dispatcher, *gateway.S3Proxy) {
	t.Helper()
	ctx := context.Background()
	db, err := gateway.Open(filepath.Join(t.TempDir(), "gateway.db"))
	require.NoError(t, err)
	proxy := gateway.NewS3Proxy(db)
	srv := httptest.NewServer(proxy)
	t.Cleanup(srv.Close)

	require.NoError(t, proxy.EnsureBucket(ctx, "raw-uploads"))
	require.NoError(t, proxy.EnsureBucket(ctx, "internal-s3-assets-mirror"))
	require.NoError(t, proxy.EnsureBucket(ctx, "mirror"))

	client, err := NewClient(ctx, ClientConfig{
		Region:          "us-east-1",
		Endpoint:        srv.URL,
		AccessKeyID:     "AKIDEXAMPLE",
		SecretAccessKey: "secret",
		UsePathStyle:    true,
	})
	require.NoError(t, err)

	d, err := New(Config{
		DestinationBucket: "mirror",
		SkipCheckMarker:   "s3-assets",
		Blacklist:         blacklist.Default(),
		DecodeKeys:        decodeKeys,
	}, client)
	require.NoError(t, err)
	return d, proxy
}

func TestGatewayBlacklistedKeyIsNotCopied(t *testing.T) {
	d, proxy := newGatewayDispatcher(t, false)
	ctx := context.Background()
	require.NoError(t, proxy.StoreObject(ctx, "raw-uploads", "profile_images/42/avatar.png", []byte("png")))

	decision, err := d.Handle(ctx, snsEvent("raw-uploads", "profile_images/42/avatar.png"))
	require.NoError(t, err)
	assert.Equal(t, ActionBlacklisted, decision.Action)

	_, err = proxy.LoadObject(ctx, "mirror", "profile_images/42/avatar.png")
	assert.True(t, s3error.IsNoSuchKey(err))
}

func TestGatewayAllowedKeyIsCopied(t *testing.T) {
	d, proxy := newGatewayDispatcher(t, true)
	ctx := context.Background()
	require.NoError(t, proxy.StoreObject(ctx, "raw-uploads", "reports/2024/q1 final.csv", []byte("a,b\n")))

	decision, err := d.Handle(ctx, snsEvent("raw-uploads", "reports/2024/q1+final.csv"))
	require.NoError(t, err)
	assert.Equal(t, ActionCopy, decision.Action)

	data, err := proxy.LoadObject(ctx, "mirror", "reports/2024/q1 final.csv")
	require.NoError(t, err)
	assert.Equal(t, []byte("a,b\n"), data)
}

func TestGatewayKeyCopiedVerbatimByDefault(t *testing.T) {
	d, proxy := newGatewayDispatcher(t, false)
	ctx := context.Background()
	require.NoError(t, proxy.StoreObject(ctx, "raw-uploads", "reports/a+b.csv", []byte("x")))

	_, err := d.Handle(ctx, snsEvent("raw-uploads", "reports/a+b.csv"))
	require.NoError(t, err)

	data, err := proxy.LoadObject(ctx, "mirror", "reports/a+b.csv")
	require.NoError(t, err)
	assert.Equal(t, []byte("x"), data)
}

func TestGatewayMarkedBucketCopiesBlacklistedKey(t *testing.T) {
	d, proxy := newGatewayDispatcher(t, false)
	ctx := context.Background()
	require.NoError(t, proxy.StoreObject(ctx, "internal-s3-assets-mirror", "images/logo.png", []byte("logo")))

	decision, err := d.Handle(ctx, snsEvent("internal-s3-assets-mirror", "images/logo.png"))
	require.NoError(t, err)
	assert.Equal(t, ActionSkipCheck, decision.Action)

	data, err := proxy.LoadObject(ctx, "mirror", "images/logo.png")
	require.NoError(t, err)
	assert.Equal(t, []byte("logo"), data)
}

func TestGatewayRecopyIsIdempotent(t *testing.T) {
	d, proxy := newGatewayDispatcher(t, false)
	ctx := context.Background()
	require.NoError(t, proxy.StoreObject(ctx, "raw-uploads", "reports/q2.csv", []byte("q2")))

	for i := 0; i < 2; i++ {
		_, err := d.Handle(ctx, snsEvent("raw-uploads", "reports/q2.csv"))
		require.NoError(t, err)
	}
	data, err := proxy.LoadObject(ctx, "mirror", "reports/q2.csv")
	require.NoError(t, err)
	assert.Equal(t, []byte("q2"), data)
}

func TestGatewayMissingSourceFails(t *testing.T) {
	d, _ := newGatewayDispatcher(t, false)

	_, err := d.Handle(context.Background(), snsEvent("raw-uploads", "reports/missing.csv"))
	require.Error(t, err)
	var apiErr smithy.APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, "NoSuchKey", apiErr.ErrorCode())
}
