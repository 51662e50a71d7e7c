package frame

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"
)

// DirSensor serves the JPEG files of a directory in name order, wrapping
// around at the end. It stands in for a camera module on hosts without one.
type DirSensor struct {
	dir string

	mu   sync.Mutex
	next int
}

// NewDirSensor creates a sensor over the *.jpg and *.jpeg files in dir.
func NewDirSensor(dir string) (*DirSensor, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("frame directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("frame directory %s is not a directory", dir)
	}
	return &DirSensor{dir: dir}, nil
}

// Grab reads the next file into buf.
func (s *DirSensor) Grab(_ context.Context, buf []byte) (int, error) {
	files, err := s.list()
	if err != nil {
		return 0, err
	}
	if len(files) == 0 {
		return 0, fmt.Errorf("no jpeg files in %s: %w", s.dir, ErrNoFrame)
	}

	s.mu.Lock()
	name := files[s.next%len(files)]
	s.next++
	s.mu.Unlock()

	f, err := os.Open(name)
	if err != nil {
		return 0, fmt.Errorf("open frame file: %w", err)
	}
	defer func() { _ = f.Close() }()

	info, err := f.Stat()
	if err != nil {
		return 0, fmt.Errorf("stat frame file: %w", err)
	}
	if info.Size() > int64(len(buf)) {
		return 0, fmt.Errorf("%s is %d bytes: %w", filepath.Base(name), info.Size(), ErrFrameTooLarge)
	}
	n, err := io.ReadFull(f, buf[:info.Size()])
	if err != nil {
		return 0, fmt.Errorf("read frame file: %w", err)
	}
	return n, nil
}

func (s *DirSensor) list() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("list frame directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if ext == ".jpg" || ext == ".jpeg" {
			files = append(files, filepath.Join(s.dir, e.Name()))
		}
	}
	sort.Strings(files)
	return files, nil
}

// SnapshotSensor fetches a single JPEG from a network camera's snapshot endpoint.
type SnapshotSensor struct {
	url    string
	client *http.Client
}

// NewSnapshotSensor creates a sensor for url. A zero timeout defaults to 10 seconds.
func NewSnapshotSensor(url string, timeout time.Duration) (*SnapshotSensor, error) {
	if url == "" {
		return nil, errors.New("snapshot URL is required")
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SnapshotSensor{url: url, client: &http.Client{Timeout: timeout}}, nil
}

// Grab downloads the current snapshot straight into buf.
func (s *SnapshotSensor) Grab(ctx context.Context, buf []byte) (int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return 0, fmt.Errorf("create snapshot request: %w", err)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("snapshot request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("snapshot returned HTTP %d: %w", resp.StatusCode, ErrNoFrame)
	}
	if resp.ContentLength > int64(len(buf)) {
		return 0, fmt.Errorf("snapshot is %d bytes: %w", resp.ContentLength, ErrFrameTooLarge)
	}

	n, err := io.ReadFull(resp.Body, buf)
	switch {
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF):
		if n == 0 {
			return 0, fmt.Errorf("empty snapshot: %w", ErrNoFrame)
		}
		return n, nil
	case err != nil:
		return 0, fmt.Errorf("read snapshot: %w", err)
	}

	// The buffer is full; anything left means the frame did not fit.
	var probe [1]byte
	if m, _ := resp.Body.Read(probe[:]); m > 0 {
		return 0, fmt.Errorf("snapshot larger than %d bytes: %w", len(buf), ErrFrameTooLarge)
	}
	return n, nil
}
