package xar

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/meigma/xar/internal/pathutil"
	"github.com/meigma/xar/internal/platform"
	"github.com/meigma/xar/internal/sink"
	"github.com/meigma/xar/internal/toc"
)

func (a *Archive) dataOf(e *Entry) (*toc.Property, error) {
	if err := a.readable(); err != nil {
		return nil, err
	}
	if err := a.owns(e); err != nil {
		return nil, err
	}
	p, ok := e.Property(toc.KeyData)
	if !ok || p.Child(dataOffset) == nil {
		return nil, fmt.Errorf("%w: %s", ErrNoData, e.Path())
	}
	return p, nil
}

// ExtractToBuffer decodes the payload of e into memory and verifies it.
func (a *Archive) ExtractToBuffer(e *Entry) ([]byte, error) {
	p, err := a.dataOf(e)
	if err != nil {
		return nil, a.fail(ClassExtraction, "extract", e, err)
	}
	var buf bytes.Buffer
	if _, err := a.copyPayload(&buf, p); err != nil {
		return nil, a.fail(ClassExtraction, "extract", e, err)
	}
	return buf.Bytes(), nil
}

// ExtractToWriter decodes the payload of e into w. Data already written
// to w when verification fails is not retracted.
func (a *Archive) ExtractToWriter(e *Entry, w io.Writer) (int64, error) {
	p, err := a.dataOf(e)
	if err != nil {
		return 0, a.fail(ClassExtraction, "extract", e, err)
	}
	n, err := a.copyPayload(w, p)
	if err != nil {
		return n, a.fail(ClassExtraction, "extract", e, err)
	}
	return n, nil
}

// maxPrealloc caps how much of a declared payload size is reserved up front.
const maxPrealloc = 16 << 20

func (a *Archive) copyPayload(w io.Writer, p *toc.Property) (int64, error) {
	pr, err := a.openData(p)
	if err != nil {
		return 0, err
	}
	defer pr.Close()
	if b, ok := w.(*bytes.Buffer); ok && pr.ref.size <= maxPrealloc {
		b.Grow(int(pr.ref.size)) //nolint:gosec // bounded above
	}
	n, err := io.CopyBuffer(onlyWriter{w}, pr, make([]byte, a.optInt(OptReadSize, defaultReadSize)))
	if err != nil && !errors.Is(err, ErrIntegrity) && !errors.Is(err, ErrFormat) {
		err = fmt.Errorf("%w: %w", ErrResource, err)
	}
	return n, err
}

// onlyWriter hides ReaderFrom so copies go through the caller's buffer size.
type onlyWriter struct{ io.Writer }

// Verify decodes e without writing it anywhere. checked is false when the
// entry carries no checksums, in which case only decoding is tested.
func (a *Archive) Verify(e *Entry) (checked bool, err error) {
	p, err := a.dataOf(e)
	if err != nil {
		return false, a.fail(ClassExtraction, "verify", e, err)
	}
	pr, err := a.openData(p)
	if err != nil {
		return false, a.fail(ClassExtraction, "verify", e, err)
	}
	defer pr.Close()
	if _, err := io.CopyBuffer(io.Discard, pr, make([]byte, a.optInt(OptReadSize, defaultReadSize))); err != nil {
		return pr.checked(), a.fail(ClassExtraction, "verify", e, err)
	}
	return pr.checked(), nil
}

// ExtractAttribute decodes the extended attribute called name.
func (a *Archive) ExtractAttribute(e *Entry, name string) ([]byte, error) {
	if err := a.readable(); err != nil {
		return nil, a.fail(ClassExtraction, "extract attribute", e, err)
	}
	if err := a.owns(e); err != nil {
		return nil, a.fail(ClassExtraction, "extract attribute", nil, err)
	}
	ea := e.ExtendedAttribute(name)
	if ea == nil || ea.Child(toc.KeyData) == nil {
		return nil, a.fail(ClassExtraction, "extract attribute", e, fmt.Errorf("%w: attribute %q", ErrNoData, name))
	}
	var buf bytes.Buffer
	if _, err := a.copyPayload(&buf, ea.Child(toc.KeyData)); err != nil {
		return nil, a.fail(ClassExtraction, "extract attribute", e, err)
	}
	return buf.Bytes(), nil
}

// Extract materializes e below the extract root, honoring the
// strip-components and extract-stdout options. An entry whose path is
// consumed entirely by strip-components is skipped.
func (a *Archive) Extract(e *Entry) error {
	if err := a.readable(); err != nil {
		return a.fail(ClassExtraction, "extract", e, err)
	}
	if err := a.owns(e); err != nil {
		return a.fail(ClassExtraction, "extract", nil, err)
	}
	rel, ok := pathutil.Strip(e.Path(), a.optInt(OptStripComponents, 0))
	if !ok {
		a.log().Debug("skipping stripped entry", "path", e.Path())
		return nil
	}
	if !pathutil.Safe(rel) {
		return a.fail(ClassExtraction, "extract", e, fmt.Errorf("%w: unsafe path %q", ErrInvalidName, e.Path()))
	}
	if a.optBool(OptExtractStdout) {
		if !e.HasData() {
			return nil
		}
		w := a.cfg.stdout
		if w == nil {
			w = os.Stdout
		}
		_, err := a.ExtractToWriter(e, w)
		return err
	}
	return a.extractAt(e, a.cfg.extractRoot, rel)
}

// ExtractToPath materializes e at path, ignoring the extract root and
// strip-components.
func (a *Archive) ExtractToPath(e *Entry, path string) error {
	if err := a.readable(); err != nil {
		return a.fail(ClassExtraction, "extract", e, err)
	}
	if err := a.owns(e); err != nil {
		return a.fail(ClassExtraction, "extract", nil, err)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return a.fail(ClassExtraction, "extract", e, fmt.Errorf("%w: %w", ErrResource, err))
	}
	return a.extractAt(e, filepath.Dir(abs), filepath.Base(abs))
}

func (a *Archive) extractAt(e *Entry, dir, rel string) error {
	root, err := openRoot(dir)
	if err != nil {
		return a.fail(ClassExtraction, "extract", e, fmt.Errorf("%w: %w", ErrResource, err))
	}
	defer root.Close()

	name := filepath.FromSlash(rel)
	switch e.Type() {
	case TypeDirectory:
		err = root.MkdirAll(name, 0o755)
	case TypeSymlink:
		target, _ := e.Get(toc.KeyLink)
		err = replace(root, name, func() error { return root.Symlink(target, name) })
	case TypeHardlink:
		err = a.extractHardlink(e, root, rel)
	case TypeFIFO:
		err = replace(root, name, func() error {
			return platform.Mkfifo(filepath.Join(root.Name(), name), 0o644)
		})
	case TypeCharDev, TypeBlockDev:
		major, minor := deviceNumbers(e)
		err = replace(root, name, func() error {
			return platform.Mknod(filepath.Join(root.Name(), name), 0o644, e.Type() == TypeCharDev, major, minor)
		})
	case TypeSocket:
		return a.report(SeverityWarning, ClassExtraction, "extract", e, errors.New("sockets cannot be extracted"))
	default:
		err = a.extractFile(e, root, rel)
	}
	if err != nil {
		if !errors.Is(err, ErrFormat) && !errors.Is(err, ErrIntegrity) && !errors.Is(err, ErrCodec) && !errors.Is(err, ErrUsage) {
			err = fmt.Errorf("%w: %w", ErrResource, err)
		}
		return a.fail(ClassExtraction, "extract", e, err)
	}
	a.extracted[e.ID()] = filepath.Join(dir, name)
	return a.applyMetadata(e, root, name)
}

func openRoot(dir string) (*os.Root, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	return os.OpenRoot(dir)
}

// replace creates name below root after removing whatever is there.
// Path-based creators run only once every parent is a real directory
// inside root.
func replace(root *os.Root, name string, create func() error) error {
	if parent := filepath.Dir(name); parent != "." {
		if err := root.MkdirAll(parent, 0o755); err != nil {
			return err
		}
	}
	if err := checkParents(root, name); err != nil {
		return err
	}
	if err := root.Remove(name); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return create()
}

// checkParents fails when an ancestor of name below root is a symlink or
// not a directory.
func checkParents(root *os.Root, name string) error {
	parent := filepath.Dir(name)
	if parent == "." {
		return nil
	}
	prefix := ""
	for _, part := range strings.Split(parent, string(filepath.Separator)) {
		prefix = filepath.Join(prefix, part)
		info, err := root.Lstat(prefix)
		if err != nil {
			return err
		}
		if !info.IsDir() {
			return fmt.Errorf("%w: %s is not a directory below the extract root", ErrInvalidName, filepath.ToSlash(prefix))
		}
	}
	return nil
}

// within returns path relative to root when it lies below it.
func within(root *os.Root, path string) (string, bool) {
	rel, err := filepath.Rel(root.Name(), path)
	if err != nil || rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return "", false
	}
	return rel, true
}

func (a *Archive) extractFile(e *Entry, root *os.Root, rel string) error {
	name := filepath.FromSlash(rel)
	p, hasData := e.Property(toc.KeyData)
	var ref dataRef
	if hasData {
		var err error
		if ref, err = parseData(p); err != nil {
			return err
		}
		if prev, ok := a.linked[ref.offset]; ok && a.optBool(OptLinkSame) && ref.length > 0 {
			if from, ok := within(root, prev); ok {
				return replace(root, name, func() error { return root.Link(from, name) })
			}
		}
	}

	mtime, _ := e.ModTime()
	c, err := sink.New(root.Name(), sink.WithOverwrite(true)).Writer(rel, sink.Meta{Mode: a.extractMode(e), ModTime: mtime})
	if err != nil {
		return err
	}
	if hasData {
		if _, err := a.copyPayload(c, p); err != nil {
			_ = c.Discard() //nolint:errcheck // original error wins
			return err
		}
	}
	if err := c.Commit(); err != nil {
		return err
	}
	if hasData && ref.length > 0 {
		a.linked[ref.offset] = filepath.Join(root.Name(), name)
	}
	return nil
}

func (a *Archive) extractHardlink(e *Entry, root *os.Root, rel string) error {
	id, _ := e.Attr(toc.KeyType, toc.AttrLink)
	if id == "original" {
		return a.extractFile(e, root, rel)
	}
	target, extracted := a.extracted[id]
	if extracted {
		if from, ok := within(root, target); ok {
			name := filepath.FromSlash(rel)
			return replace(root, name, func() error { return root.Link(from, name) })
		}
	}
	orig, found := a.doc.EntryByID(id)
	if !found {
		return fmt.Errorf("%w: hardlink to unknown entry %q", ErrMalformedTOC, id)
	}
	if !extracted && !orig.HasData() {
		return fmt.Errorf("%w: hardlink target %q has not been extracted", ErrUsage, id)
	}
	// The original is not reachable from this root; materialize its
	// content here instead.
	return a.extractFile(orig, root, rel)
}

func deviceNumbers(e *Entry) (major, minor uint32) {
	parse := func(key string) uint32 {
		v, _ := e.Get(key)
		n, _ := strconv.ParseUint(v, 10, 32) //nolint:errcheck // absent means 0
		return uint32(n)
	}
	return parse(toc.KeyDeviceMajor), parse(toc.KeyDeviceMinor)
}

// extractMode returns the permission bits to apply, dropping setuid and
// setgid unless savesuid is on.
func (a *Archive) extractMode(e *Entry) fs.FileMode {
	m, ok := e.Mode()
	if !ok {
		if e.Type() == TypeDirectory {
			return 0o755
		}
		return 0o644
	}
	if !a.optBool(OptSaveSUID) {
		m &^= fs.ModeSetuid | fs.ModeSetgid
	}
	return m
}

// applyMetadata restores ownership, mode, times and extended attributes.
// Failures are reported as warnings.
func (a *Archive) applyMetadata(e *Entry, root *os.Root, name string) error {
	typ := e.Type()
	warn := func(op string, err error) error {
		return a.report(SeverityWarning, ClassExtraction, op, e, fmt.Errorf("%w: %w", ErrResource, err))
	}

	if os.Geteuid() == 0 {
		if uid, gid, ok := a.ownerOf(e); ok {
			if err := root.Lchown(name, uid, gid); err != nil {
				if rerr := warn("chown", err); rerr != nil {
					return rerr
				}
			}
		}
	}
	if typ != TypeSymlink {
		if err := root.Chmod(name, a.extractMode(e)); err != nil {
			if rerr := warn("chmod", err); rerr != nil {
				return rerr
			}
		}
		mtime, hasM := e.ModTime()
		atime, hasA := e.Time(toc.KeyATime)
		if hasM || hasA {
			if !hasA {
				atime = mtime
			}
			if !hasM {
				mtime = time.Time{}
			}
			if err := root.Chtimes(name, atime, mtime); err != nil {
				if rerr := warn("chtimes", err); rerr != nil {
					return rerr
				}
			}
		}
	}
	eas := e.ExtendedAttributes()
	if len(eas) == 0 {
		return nil
	}
	if err := checkParents(root, name); err != nil {
		return warn("setxattr", err)
	}
	for _, ea := range eas {
		attr := ea.Child(toc.KeyName)
		data := ea.Child(toc.KeyData)
		if attr == nil || data == nil {
			continue
		}
		var buf bytes.Buffer
		if _, err := a.copyPayload(&buf, data); err != nil {
			return a.fail(ClassExtraction, "extract attribute", e, err)
		}
		if err := platform.SetXattr(filepath.Join(root.Name(), name), attr.Value, buf.Bytes()); err != nil {
			if rerr := warn("setxattr "+attr.Value, err); rerr != nil {
				return rerr
			}
		}
	}
	return nil
}

// ownerOf resolves the ids to restore. Symbolic ownership prefers the
// recorded names and falls back to the numeric ids.
func (a *Archive) ownerOf(e *Entry) (uid, gid int, ok bool) {
	uid, hasUID := e.UID()
	gid, hasGID := e.GID()
	if v, _ := a.Option(OptOwnership); v == OwnershipSymbolic {
		if name, found := e.Get(toc.KeyUser); found {
			if u, err := user.Lookup(name); err == nil {
				if n, err := strconv.Atoi(u.Uid); err == nil {
					uid, hasUID = n, true
				}
			}
		}
		if name, found := e.Get(toc.KeyGroup); found {
			if g, err := user.LookupGroup(name); err == nil {
				if n, err := strconv.Atoi(g.Gid); err == nil {
					gid, hasGID = n, true
				}
			}
		}
	}
	if !hasUID && !hasGID {
		return 0, 0, false
	}
	if !hasUID {
		uid = -1
	}
	if !hasGID {
		gid = -1
	}
	return uid, gid, true
}
