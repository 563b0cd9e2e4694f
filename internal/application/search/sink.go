package search

import (
	"bytes"
	"context"
	"io"
	"os"

	"github.com/GUI0609/rdkit/internal/infrastructure/monitoring/logging"
	"github.com/GUI0609/rdkit/internal/infrastructure/storage/minio"
	"github.com/GUI0609/rdkit/pkg/errors"
)

// StdoutPath selects standard output as a sink.
const StdoutPath = "-"

// Sink is an output destination.  Object-store sinks buffer in memory and
// upload on Close.
type Sink struct {
	path   string
	w      io.Writer
	finish func(ctx context.Context) error
}

func (s *Sink) Write(p []byte) (int, error) { return s.w.Write(p) }

// Path returns the sink's configured path.
func (s *Sink) Path() string { return s.path }

// Close flushes the sink.
func (s *Sink) Close(ctx context.Context) error {
	if s.finish == nil {
		return nil
	}
	f := s.finish
	s.finish = nil
	return f(ctx)
}

// sinkSet opens each distinct path once so outputs sharing a path share a
// writer.
type sinkSet struct {
	stdout   io.Writer
	uploader ObjectUploader
	logger   logging.Logger
	sinks    map[string]*Sink
	order    []*Sink
}

func newSinkSet(stdout io.Writer, uploader ObjectUploader, log logging.Logger) *sinkSet {
	if log == nil {
		log = logging.NewNopLogger()
	}
	return &sinkSet{stdout: stdout, uploader: uploader, logger: log, sinks: make(map[string]*Sink)}
}

// Open returns the sink for path, or nil for an empty path.
func (ss *sinkSet) Open(path, contentType string) (*Sink, error) {
	if path == "" {
		return nil, nil
	}
	if s, ok := ss.sinks[path]; ok {
		return s, nil
	}
	s, err := ss.open(path, contentType)
	if err != nil {
		return nil, err
	}
	ss.sinks[path] = s
	ss.order = append(ss.order, s)
	return s, nil
}

func (ss *sinkSet) open(path, contentType string) (*Sink, error) {
	if path == StdoutPath {
		return &Sink{path: path, w: ss.stdout}, nil
	}
	if bucket, key, ok := minio.ParseObjectURL(path); ok {
		if ss.uploader == nil {
			return nil, errors.New(errors.ErrCodeOutputError, "object storage is not configured").WithDetail(path)
		}
		buf := &bytes.Buffer{}
		up := ss.uploader
		return &Sink{path: path, w: buf, finish: func(ctx context.Context) error {
			if err := up.Upload(ctx, bucket, key, bytes.NewReader(buf.Bytes()), int64(buf.Len()), contentType); err != nil {
				return errors.Wrap(err, errors.ErrCodeOutputError, "failed to upload output").WithDetail(path)
			}
			ss.logger.Info("output uploaded", logging.String("path", path), logging.Int("bytes", buf.Len()))
			return nil
		}}, nil
	}
	if minio.IsObjectURL(path) {
		return nil, errors.InvalidParam("object output must be s3://bucket/key").WithDetail(path)
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrCodeOutputError, "failed to open output file").WithDetail(path)
	}
	return &Sink{path: path, w: f, finish: func(context.Context) error {
		if err := f.Close(); err != nil {
			return errors.Wrap(err, errors.ErrCodeOutputError, "failed to close output file").WithDetail(path)
		}
		return nil
	}}, nil
}

// CloseAll closes every sink in open order and returns the first error.
func (ss *sinkSet) CloseAll(ctx context.Context) error {
	var first error
	for _, s := range ss.order {
		if err := s.Close(ctx); err != nil && first == nil {
			first = err
		}
	}
	return first
}

const (
	contentTypeText = "text/plain"
	contentTypeSDF  = "chemical/x-mdl-sdfile"
)
