package cog

import (
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/valyala/fasthttp"
)

// Default read-ahead window (64KB); the first window covers the header and
// IFDs of a well formed COG.
const defaultReadAheadSize = 64 * 1024

// HTTPRangeReader implements io.ReaderAt over HTTP range requests. Reads
// falling into the last fetched window are served from memory; the window
// is at least ReadAhead bytes. It is safe for concurrent use.
type HTTPRangeReader struct {
	url       string
	client    *fasthttp.Client
	timeout   time.Duration
	readAhead int
	size      int64

	mu          sync.Mutex
	buffer      []byte
	bufferStart int64
}

// NewHTTPRangeReader fetches the first window of url, learning the size of
// the resource from the Content-Range header. A server ignoring the range
// answers with the whole body, which then serves every read.
func NewHTTPRangeReader(url string, client *fasthttp.Client, readAhead int, timeout time.Duration) (*HTTPRangeReader, error) {
	if client == nil {
		client = &fasthttp.Client{
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 30 * time.Second,
		}
	}
	if readAhead <= 0 {
		readAhead = defaultReadAheadSize
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	rr := &HTTPRangeReader{
		url:       url,
		client:    client,
		timeout:   timeout,
		readAhead: readAhead,
		size:      -1,
	}

	body, total, err := rr.fetchRange(0, int64(readAhead)-1)
	if err != nil {
		return nil, err
	}
	rr.size = total
	rr.buffer, rr.bufferStart = body, 0
	return rr, nil
}

// Size returns the size of the resource.
func (rr *HTTPRangeReader) Size() int64 {
	return rr.size
}

// ReadAt implements io.ReaderAt.
func (rr *HTTPRangeReader) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("negative offset %d", off)
	}
	if off >= rr.size {
		return 0, io.EOF
	}
	want := min(int64(len(p)), rr.size-off)

	rr.mu.Lock()
	if off >= rr.bufferStart && off+want <= rr.bufferStart+int64(len(rr.buffer)) {
		n := copy(p[:want], rr.buffer[off-rr.bufferStart:])
		rr.mu.Unlock()
		return n, eofIfShort(n, len(p))
	}
	rr.mu.Unlock()

	end := off + max(want, int64(rr.readAhead)) - 1
	body, _, err := rr.fetchRange(off, min(end, rr.size-1))
	if err != nil {
		return 0, err
	}
	n := copy(p[:want], body)

	if len(body) > int(want) {
		rr.mu.Lock()
		rr.buffer, rr.bufferStart = body, off
		rr.mu.Unlock()
	}
	if n < int(want) {
		return n, io.ErrUnexpectedEOF
	}
	return n, eofIfShort(n, len(p))
}

func eofIfShort(n, wanted int) error {
	if n < wanted {
		return io.EOF
	}
	return nil
}

// fetchRange fetches bytes start..end inclusive. It returns the body and
// the total size of the resource.
func (rr *HTTPRangeReader) fetchRange(start, end int64) ([]byte, int64, error) {
	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	resp := fasthttp.AcquireResponse()
	defer fasthttp.ReleaseResponse(resp)

	req.SetRequestURI(rr.url)
	req.Header.SetMethod(fasthttp.MethodGet)
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", start, end))

	if err := rr.client.DoTimeout(req, resp, rr.timeout); err != nil {
		return nil, 0, fmt.Errorf("failed to fetch %s: %w", rr.url, err)
	}

	// copy body since response will be released
	body := append([]byte(nil), resp.Body()...)
	switch resp.StatusCode() {
	case fasthttp.StatusPartialContent:
		total, err := parseContentRange(string(resp.Header.Peek("Content-Range")))
		if err != nil {
			return nil, 0, err
		}
		return body, total, nil
	case fasthttp.StatusOK:
		if start > 0 {
			if start >= int64(len(body)) {
				return nil, 0, io.ErrUnexpectedEOF
			}
			body = body[start:]
		}
		return body, start + int64(len(body)), nil
	case fasthttp.StatusRequestedRangeNotSatisfiable:
		return nil, 0, io.EOF
	default:
		return nil, 0, fmt.Errorf("unexpected status code %d fetching %s", resp.StatusCode(), rr.url)
	}
}

var errContentRange = errors.New("invalid Content-Range")

// parseContentRange returns the complete length of "bytes a-b/total".
func parseContentRange(v string) (int64, error) {
	i := strings.LastIndexByte(v, '/')
	if i < 0 || !strings.HasPrefix(v, "bytes ") {
		return 0, fmt.Errorf("%w: %q", errContentRange, v)
	}
	total, err := strconv.ParseInt(v[i+1:], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", errContentRange, v)
	}
	return total, nil
}
