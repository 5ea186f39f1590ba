package cas

import (
	"context"
	"io"
	"os"

	"nexus/pkg/errtypes"
)

// Stream produces a finite sequence of chunks of chunkSize bytes each. The
// caller may stop consuming the returned channel early; the reading
// goroutine exits as soon as ctx is cancelled or the channel is drained.
func (s *Store) Stream(ctx context.Context, digest string, chunkSize int) (<-chan []byte, error) {
	bp := blobPath(s.root, digest)
	f, err := os.Open(bp)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errtypes.NotFound(digest)
		}
		return nil, errtypes.BackendError{BackendName: "cas", Err: err}
	}
	if chunkSize <= 0 {
		chunkSize = s.cfg.ChunkSize
	}

	out := make(chan []byte)
	go func() {
		defer close(out)
		defer f.Close()
		buf := make([]byte, chunkSize)
		for {
			n, err := f.Read(buf)
			if n > 0 {
				chunk := make([]byte, n)
				copy(chunk, buf[:n])
				select {
				case out <- chunk:
				case <-ctx.Done():
					return
				}
			}
			if err == io.EOF {
				return
			}
			if err != nil {
				return
			}
		}
	}()
	return out, nil
}

// StreamRange returns a single chunk holding the inclusive byte range
// [start, end]. Backed by a seek, so it does not read the whole blob.
func (s *Store) StreamRange(ctx context.Context, digest string, start, end int64) ([]byte, error) {
	bp := blobPath(s.root, digest)
	f, err := os.Open(bp)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errtypes.NotFound(digest)
		}
		return nil, errtypes.BackendError{BackendName: "cas", Err: err}
	}
	defer f.Close()

	if _, err := f.Seek(start, io.SeekStart); err != nil {
		return nil, errtypes.BackendError{BackendName: "cas", Err: err}
	}
	length := end - start + 1
	if length <= 0 {
		return nil, nil
	}
	buf := make([]byte, length)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF {
		return nil, errtypes.BackendError{BackendName: "cas", Err: err}
	}
	return buf[:n], nil
}
