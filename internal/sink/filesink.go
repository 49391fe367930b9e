// Package sink writes files so that partially written output never appears
// at the final path.
package sink

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

// Committer receives file content and publishes it on Commit.
type Committer interface {
	io.Writer

	// Commit makes the content visible at the final path.
	Commit() error

	// Discard drops the content. The final path is left untouched.
	Discard() error
}

// Meta is applied to a file before it is published.
type Meta struct {
	// Mode is applied when non-zero.
	Mode fs.FileMode

	// ModTime is applied when non-zero.
	ModTime time.Time
}

// FileSink writes files below a destination directory.
//
// Content goes to a temporary file in the same directory and is renamed to
// the final path on Commit.
type FileSink struct {
	destDir   string
	overwrite bool
}

// Option configures a FileSink.
type Option func(*FileSink)

// WithOverwrite allows replacing existing files.
// By default, Writer fails with fs.ErrExist when the path exists.
func WithOverwrite(overwrite bool) Option {
	return func(s *FileSink) {
		s.overwrite = overwrite
	}
}

// New creates a FileSink rooted at destDir, creating it if needed.
func New(destDir string, opts ...Option) *FileSink {
	s := &FileSink{destDir: destDir}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Dir returns the destination directory.
func (s *FileSink) Dir() string {
	return s.destDir
}

// Writer returns a Committer for rel, a slash-separated path below the
// destination directory.
func (s *FileSink) Writer(rel string, meta Meta) (Committer, error) {
	if !fs.ValidPath(rel) || rel == "." {
		return nil, &fs.PathError{Op: "create", Path: rel, Err: fs.ErrInvalid}
	}
	if err := os.MkdirAll(s.destDir, 0o750); err != nil {
		return nil, fmt.Errorf("create destination %s: %w", s.destDir, err)
	}
	root, err := os.OpenRoot(s.destDir)
	if err != nil {
		return nil, fmt.Errorf("open destination root %s: %w", s.destDir, err)
	}
	destRel := filepath.FromSlash(rel)
	if err := root.MkdirAll(filepath.Dir(destRel), 0o750); err != nil {
		_ = root.Close() //nolint:errcheck // best-effort cleanup
		return nil, fmt.Errorf("create directory for %s: %w", rel, err)
	}
	if !s.overwrite {
		if _, err := root.Lstat(destRel); err == nil {
			_ = root.Close() //nolint:errcheck // best-effort cleanup
			return nil, &fs.PathError{Op: "create", Path: rel, Err: fs.ErrExist}
		}
	}

	tempFile, tempRel, err := createTempFile(root, filepath.Dir(destRel), ".xar-")
	if err != nil {
		_ = root.Close() //nolint:errcheck // best-effort cleanup
		return nil, fmt.Errorf("create temp file: %w", err)
	}
	return &fileCommitter{
		meta:     meta,
		destRel:  destRel,
		tempFile: tempFile,
		tempRel:  tempRel,
		root:     root,
	}, nil
}

type fileCommitter struct {
	meta     Meta
	destRel  string
	tempFile *os.File
	tempRel  string
	root     *os.Root
	done     bool
}

// Write implements io.Writer.
func (c *fileCommitter) Write(p []byte) (int, error) {
	return c.tempFile.Write(p)
}

// Commit closes the temp file, applies metadata, and renames to final path.
func (c *fileCommitter) Commit() error {
	if c.done {
		return nil
	}
	c.done = true
	if err := c.tempFile.Close(); err != nil {
		return c.fail(fmt.Errorf("close temp file: %w", err))
	}
	if c.meta.Mode != 0 {
		if err := c.root.Chmod(c.tempRel, c.meta.Mode); err != nil {
			return c.fail(fmt.Errorf("chmod: %w", err))
		}
	}
	if !c.meta.ModTime.IsZero() {
		if err := c.root.Chtimes(c.tempRel, c.meta.ModTime, c.meta.ModTime); err != nil {
			return c.fail(fmt.Errorf("chtimes: %w", err))
		}
	}
	if err := c.root.Rename(c.tempRel, c.destRel); err != nil {
		return c.fail(fmt.Errorf("rename to %s: %w", c.destRel, err))
	}
	return c.root.Close()
}

// Discard closes and removes the temp file.
func (c *fileCommitter) Discard() error {
	if c.done {
		return nil
	}
	c.done = true
	_ = c.tempFile.Close() //nolint:errcheck // we're cleaning up
	if err := c.root.Remove(c.tempRel); err != nil {
		_ = c.root.Close() //nolint:errcheck // best-effort cleanup
		return err
	}
	return c.root.Close()
}

func (c *fileCommitter) fail(err error) error {
	_ = c.root.Remove(c.tempRel) //nolint:errcheck // best-effort cleanup
	_ = c.root.Close()           //nolint:errcheck // best-effort cleanup
	return err
}

func createTempFile(root *os.Root, dir, prefix string) (*os.File, string, error) {
	const attempts = 10
	for range attempts {
		name, err := randomSuffix()
		if err != nil {
			return nil, "", err
		}
		relPath := filepath.Join(dir, prefix+name)
		f, err := root.OpenFile(relPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			return f, relPath, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, "", err
		}
	}
	return nil, "", errors.New("create temp file: exhausted retries")
}

func randomSuffix() (string, error) {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return "", err
	}
	return hex.EncodeToString(b[:]), nil
}
