package results

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// bucketTransport serves HeadObject and PutObject for one in-memory bucket.
type bucketTransport struct {
	mu      sync.Mutex
	objects map[string][]byte
	puts    int
}

func (b *bucketTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	parts := strings.SplitN(strings.TrimPrefix(req.URL.Path, "/"), "/", 2)
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}
	empty := io.NopCloser(bytes.NewReader(nil))
	switch req.Method {
	case http.MethodHead:
		if _, ok := b.objects[key]; ok {
			return &http.Response{StatusCode: http.StatusOK, Body: empty, Header: http.Header{}}, nil
		}
		return &http.Response{StatusCode: http.StatusNotFound, Body: empty, Header: http.Header{}}, nil
	case http.MethodPut:
		body, _ := io.ReadAll(req.Body)
		b.objects[key] = body
		b.puts++
		return &http.Response{StatusCode: http.StatusOK, Body: empty, Header: http.Header{"ETag": {"\"etag\""}}}, nil
	}
	return &http.Response{StatusCode: http.StatusNotImplemented, Body: empty, Header: http.Header{}}, nil
}

func newTestArchive(t *testing.T, rt http.RoundTripper) *S3Archive {
	t.Helper()
	a, err := NewS3Archive(context.Background(), ArchiveConfig{
		Bucket:    "datasets",
		Endpoint:  "https://archive.test",
		PathStyle: true,
		Prefix:    "stim",
	},
		config.WithCredentialsProvider(credentials.NewStaticCredentialsProvider("AKIA", "SECRET", "")),
		config.WithHTTPClient(&http.Client{Transport: rt}),
	)
	require.NoError(t, err)
	return a
}

func TestS3ArchiveIsCreateOnly(t *testing.T) {
	rt := &bucketTransport{objects: make(map[string][]byte)}
	a := newTestArchive(t, rt)
	ctx := context.Background()

	assert.Equal(t, "stim/P1_S1.csv", a.Key("P1_S1.csv"))
	require.NoError(t, a.Put(ctx, "P1_S1.csv", strings.NewReader("a, b\n")))
	require.Contains(t, rt.objects, "stim/P1_S1.csv")
	assert.Contains(t, string(rt.objects["stim/P1_S1.csv"]), "a, b")

	err := a.Put(ctx, "P1_S1.csv", strings.NewReader("other\n"))
	assert.True(t, errors.Is(err, ErrArchived), "got %v", err)
	assert.Equal(t, 1, rt.puts)
}

func TestS3ArchiveRequiresBucket(t *testing.T) {
	_, err := NewS3Archive(context.Background(), ArchiveConfig{})
	assert.Error(t, err)
}
