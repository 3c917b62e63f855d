package objectclient

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 serves a two-page listing and in-memory objects.
type fakeS3 struct {
	objects map[string][]byte
	pages   [][]string
	puts    map[string][]byte
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	page := 0
	if in.ContinuationToken != nil {
		page = 1
	}
	out := &s3.ListObjectsV2Output{}
	for _, k := range f.pages[page] {
		out.Contents = append(out.Contents, types.Object{Key: aws.String(k)})
	}
	if page+1 < len(f.pages) {
		out.IsTruncated = aws.Bool(true)
		out.NextContinuationToken = aws.String("next")
	} else {
		out.IsTruncated = aws.Bool(false)
	}
	return out, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data := f.objects[aws.ToString(in.Key)]
	return &s3.GetObjectOutput{
		Body:          io.NopCloser(bytes.NewReader(data)),
		ContentLength: aws.Int64(int64(len(data))),
	}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.puts[aws.ToString(in.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) UploadPart(context.Context, *s3.UploadPartInput, ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	panic("multipart not expected")
}

func (f *fakeS3) CreateMultipartUpload(context.Context, *s3.CreateMultipartUploadInput, ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	panic("multipart not expected")
}

func (f *fakeS3) CompleteMultipartUpload(context.Context, *s3.CompleteMultipartUploadInput, ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	panic("multipart not expected")
}

func (f *fakeS3) AbortMultipartUpload(context.Context, *s3.AbortMultipartUploadInput, ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	panic("multipart not expected")
}

func TestS3Client_ListAcrossPages(t *testing.T) {
	fake := &fakeS3{pages: [][]string{{"kb/a.pdf", "kb/sub/"}, {"kb/b.xlsx"}}}
	c := NewS3ClientWithAPI(fake, "us-east-2", "bucket", "kb/")

	keys, err := c.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"kb/a.pdf", "kb/b.xlsx"}, keys)
}

func TestS3Client_Download(t *testing.T) {
	fake := &fakeS3{objects: map[string][]byte{"kb/a.pdf": []byte("%PDF-1.4 body")}}
	c := NewS3ClientWithAPI(fake, "us-east-2", "bucket", "kb/")

	data, err := c.Download(context.Background(), "kb/a.pdf")
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 body", string(data))
}

func TestS3Client_UploadFile(t *testing.T) {
	fake := &fakeS3{puts: map[string][]byte{}}
	c := NewS3ClientWithAPI(fake, "us-east-2", "bucket", "kb/")

	url, err := c.UploadFile(context.Background(), "report.pdf", []byte("data"), "application/pdf")
	require.NoError(t, err)
	assert.Equal(t, "https://bucket.s3.us-east-2.amazonaws.com/kb/report.pdf", url)
	assert.Equal(t, []byte("data"), fake.puts["kb/report.pdf"])
}

func TestDirSource(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "sub"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "b.pdf"), []byte("b"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, "sub", "a.xlsx"), []byte("a"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(root, ".hidden"), []byte("h"), 0o644))

	d, err := NewDirSource(root)
	require.NoError(t, err)

	names, err := d.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"b.pdf", "sub/a.xlsx"}, names)

	data, err := d.Download(context.Background(), "sub/a.xlsx")
	require.NoError(t, err)
	assert.Equal(t, "a", string(data))

	_, err = d.Download(context.Background(), "../etc/passwd")
	assert.Error(t, err)
}

func TestDirSource_Upload(t *testing.T) {
	d, err := NewDirSource(t.TempDir())
	require.NoError(t, err)

	_, err = d.UploadFile(context.Background(), "new/c.csv", []byte("x,y"), "text/csv")
	require.NoError(t, err)

	names, err := d.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []string{"new/c.csv"}, names)
}

func TestNewDirSource_Missing(t *testing.T) {
	_, err := NewDirSource(filepath.Join(t.TempDir(), "nope"))
	assert.Error(t, err)
}
