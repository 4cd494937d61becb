package archive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/source"
	"go.uber.org/multierr"
)

const parquetContentType = "application/vnd.apache.parquet"

// File is a parquet sink that commits on Close and can drop a partial write.
type File interface {
	source.ParquetFile
	Discard() error
}

// Destination opens one File per archived batch.
type Destination interface {
	Create(ctx context.Context, name string) (File, error)
}

type objectPutter interface {
	Put(ctx context.Context, name string, body []byte, contentType string) error
}

// S3Destination buffers each file in memory and uploads it on Close.
type S3Destination struct {
	client objectPutter
}

func NewS3Destination(client objectPutter) *S3Destination {
	return &S3Destination{client: client}
}

func (d *S3Destination) Create(ctx context.Context, name string) (File, error) {
	if d.client == nil {
		return nil, errors.New("s3 client required")
	}
	return &objectFile{ctx: ctx, name: name, client: d.client}, nil
}

type objectFile struct {
	ctx    context.Context
	name   string
	client objectPutter
	buf    bytes.Buffer
	offset int64
	done   bool
}

func (f *objectFile) Open(string) (source.ParquetFile, error)   { return f, nil }
func (f *objectFile) Create(string) (source.ParquetFile, error) { return f, nil }

func (f *objectFile) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		f.offset = offset
	case io.SeekCurrent:
		f.offset += offset
	default:
		return 0, errors.New("seek from end not supported for object uploads")
	}
	return f.offset, nil
}

func (f *objectFile) Read([]byte) (int, error) {
	return 0, errors.New("read not supported for object uploads")
}

func (f *objectFile) Write(p []byte) (int, error) {
	n, err := f.buf.Write(p)
	f.offset += int64(n)
	return n, err
}

func (f *objectFile) Close() error {
	if f.done {
		return nil
	}
	f.done = true
	return f.client.Put(f.ctx, f.name, f.buf.Bytes(), parquetContentType)
}

func (f *objectFile) Discard() error {
	f.done = true
	f.buf.Reset()
	return nil
}

// LocalDestination writes files under dir, mirroring the object key layout.
type LocalDestination struct {
	dir string
}

func NewLocalDestination(dir string) *LocalDestination {
	return &LocalDestination{dir: dir}
}

func (d *LocalDestination) Create(_ context.Context, name string) (File, error) {
	path := filepath.Join(d.dir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create archive dir: %w", err)
	}
	fw, err := local.NewLocalFileWriter(path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return &localFile{ParquetFile: fw, path: path}, nil
}

type localFile struct {
	source.ParquetFile
	path string
}

func (f *localFile) Discard() error {
	return multierr.Append(f.Close(), os.Remove(f.path))
}
