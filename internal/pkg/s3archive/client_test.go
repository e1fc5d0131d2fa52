package s3archive

import (
	"context"
	"errors"
	"io"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakePutObject struct {
	input *s3.PutObjectInput
	body  []byte
	err   error
}

func (f *fakePutObject) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.err != nil {
		return nil, f.err
	}
	f.input = params
	f.body, _ = io.ReadAll(params.Body)
	return &s3.PutObjectOutput{}, nil
}

func TestObjectKey(t *testing.T) {
	cfg := &Config{Prefix: "reports"}
	at := time.Date(2026, time.March, 4, 23, 0, 0, 0, time.UTC)
	assert.Equal(t, "reports/2026/03/batch-1.json", cfg.ObjectKey("batch-1", at))

	cfg.Prefix = ""
	assert.Equal(t, "reconciliation/2026/03/batch-1.json", cfg.ObjectKey("batch-1", at))
}

func TestStoreReport(t *testing.T) {
	fake := &fakePutObject{}
	c := newClientWithAPI(fake, &Config{BucketName: "finance", Prefix: "reconciliation", Enabled: true})

	key, err := c.StoreReport(context.Background(), "b1", time.Date(2026, 1, 2, 0, 0, 0, 0, time.UTC), []byte(`{"total":1}`))
	require.NoError(t, err)
	assert.Equal(t, "reconciliation/2026/01/b1.json", key)
	assert.Equal(t, "finance", aws.ToString(fake.input.Bucket))
	assert.Equal(t, "application/json", aws.ToString(fake.input.ContentType))
	assert.JSONEq(t, `{"total":1}`, string(fake.body))
}

func TestStoreReport_Error(t *testing.T) {
	c := newClientWithAPI(&fakePutObject{err: errors.New("denied")}, &Config{BucketName: "finance"})
	_, err := c.StoreReport(context.Background(), "b1", time.Now(), []byte(`{}`))
	assert.Error(t, err)
}

func TestLoadConfig_RequiresBucketWhenEnabled(t *testing.T) {
	t.Setenv("S3_ARCHIVE_ENABLED", "true")
	t.Setenv("S3_ARCHIVE_ACCESS_KEY_ID", "id")
	t.Setenv("S3_ARCHIVE_SECRET_ACCESS_KEY", "secret")
	_, err := LoadConfig()
	assert.Error(t, err)

	t.Setenv("S3_ARCHIVE_BUCKET", "finance")
	cfg, err := LoadConfig()
	require.NoError(t, err)
	assert.True(t, cfg.IsEnabled())
}
