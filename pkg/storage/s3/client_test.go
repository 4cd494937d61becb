package s3

import (
	"context"
	"errors"
	"io"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/stretchr/testify/require"
)

type fakeObjectAPI struct {
	puts    []*s3.PutObjectInput
	bodies  [][]byte
	putErr  error
	headErr error
}

func (f *fakeObjectAPI) PutObject(_ context.Context, params *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	body, err := io.ReadAll(params.Body)
	if err != nil {
		return nil, err
	}
	f.puts = append(f.puts, params)
	f.bodies = append(f.bodies, body)
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeObjectAPI) HeadBucket(context.Context, *s3.HeadBucketInput, ...func(*s3.Options)) (*s3.HeadBucketOutput, error) {
	return &s3.HeadBucketOutput{}, f.headErr
}

func TestPutUsesPrefixedKey(t *testing.T) {
	api := &fakeObjectAPI{}
	client := NewClientFrom(api, "archive", "/location-history/")

	require.NoError(t, client.Put(context.Background(), "dt=2026-04-01/a.parquet", []byte("PAR1"), "application/vnd.apache.parquet"))

	require.Len(t, api.puts, 1)
	require.Equal(t, "archive", aws.ToString(api.puts[0].Bucket))
	require.Equal(t, "location-history/dt=2026-04-01/a.parquet", aws.ToString(api.puts[0].Key))
	require.Equal(t, "application/vnd.apache.parquet", aws.ToString(api.puts[0].ContentType))
	require.Equal(t, int64(4), aws.ToInt64(api.puts[0].ContentLength))
	require.Equal(t, []byte("PAR1"), api.bodies[0])
}

func TestKeyWithoutPrefix(t *testing.T) {
	client := NewClientFrom(&fakeObjectAPI{}, "archive", "")
	require.Equal(t, "a/b.parquet", client.Key("/a/b.parquet"))
}

func TestPutAndPingWrapErrors(t *testing.T) {
	api := &fakeObjectAPI{putErr: errors.New("access denied"), headErr: errors.New("no such bucket")}
	client := NewClientFrom(api, "archive", "p")

	err := client.Put(context.Background(), "x", nil, "")
	require.ErrorContains(t, err, "s3://archive/p/x")
	require.ErrorContains(t, client.Ping(context.Background()), "no such bucket")
}
