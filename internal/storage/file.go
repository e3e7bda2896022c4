package storage

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

const (
	// SlugMaxLength is the maximum length for file-name-safe slugs.
	SlugMaxLength = 64

	// SlugMinWordBoundary is the minimum length before trimming at a separator.
	SlugMinWordBoundary = 40
)

// AtomicWrite writes to a temp file and renames atomically. Readers see either
// the old content or the new content, never a partial file.
func AtomicWrite(path string, writeFunc func(io.Writer) error) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	// Create temp file in same directory for atomic rename
	tmpFile, err := os.CreateTemp(dir, ".tmp-")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmpFile.Name()

	// Clean up temp file on error
	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath) //nolint:errcheck // cleanup in error path
		}
	}()

	if err := writeFunc(tmpFile); err != nil {
		_ = tmpFile.Close() //nolint:errcheck // cleanup in error path
		return fmt.Errorf("write content: %w", err)
	}

	// Sync to ensure data is on disk
	if err := tmpFile.Sync(); err != nil {
		_ = tmpFile.Close() //nolint:errcheck // cleanup in error path
		return fmt.Errorf("sync file: %w", err)
	}

	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("rename to final: %w", err)
	}

	success = true
	return nil
}

// MarshalRecord renders v as indented JSON with a trailing newline. The
// output is deterministic for a given value, which keeps re-processing
// byte-identical.
func MarshalRecord(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WriteJSON atomically replaces path with the JSON rendering of v.
func WriteJSON(path string, v any) error {
	data, err := MarshalRecord(v)
	if err != nil {
		return fmt.Errorf("marshal json: %w", err)
	}
	return AtomicWrite(path, func(w io.Writer) error {
		_, err := w.Write(data)
		return err
	})
}

// ReadJSON decodes the JSON file at path into v.
func ReadJSON(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// AppendLine appends one line to path and syncs it to disk. The caller holds
// whatever lock serialises writers.
func AppendLine(path string, line []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0600)
	if err != nil {
		return fmt.Errorf("open file: %w", err)
	}
	defer func() {
		_ = f.Close() //nolint:errcheck // sync already called, close best-effort
	}()

	buf := make([]byte, 0, len(line)+1)
	buf = append(buf, line...)
	buf = append(buf, '\n')
	if _, err := f.Write(buf); err != nil {
		return fmt.Errorf("write line: %w", err)
	}

	return f.Sync()
}

// CountLines returns the number of newline-terminated lines in path.
// A missing file has zero lines.
func CountLines(path string) (int, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	defer func() {
		_ = f.Close() //nolint:errcheck // read-only
	}()

	count := 0
	r := bufio.NewReaderSize(f, 64*1024)
	buf := make([]byte, 32*1024)
	for {
		n, err := r.Read(buf)
		count += bytes.Count(buf[:n], []byte{'\n'})
		if errors.Is(err, io.EOF) {
			return count, nil
		}
		if err != nil {
			return count, err
		}
	}
}

// CopyFile copies a regular file, syncing the destination.
func CopyFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer func() {
		_ = in.Close() //nolint:errcheck // read-only
	}()

	info, err := in.Stat()
	if err != nil {
		return err
	}
	if !info.Mode().IsRegular() {
		return fmt.Errorf("%w: %s", ErrNotRegularFile, src)
	}

	if err := os.MkdirAll(filepath.Dir(dst), 0700); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, info.Mode().Perm())
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()

	if _, err := io.Copy(out, in); err != nil {
		return fmt.Errorf("copy %s: %w", src, err)
	}
	return out.Sync()
}

// LinkOrCopy hard-links src to dst, falling back to a copy when linking is not
// possible (cross-device, unsupported filesystem). Only use it for files that
// are replaced by rename, never modified in place.
func LinkOrCopy(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0700); err != nil {
		return err
	}
	err := os.Link(src, dst)
	if err == nil {
		return nil
	}
	var linkErr *os.LinkError
	if errors.As(err, &linkErr) && (errors.Is(linkErr.Err, syscall.EXDEV) ||
		errors.Is(linkErr.Err, syscall.EPERM) || errors.Is(linkErr.Err, syscall.ENOTSUP)) {
		return CopyFile(src, dst)
	}
	return err
}

// Exists reports whether path exists.
func Exists(path string) bool {
	_, err := os.Lstat(path)
	return err == nil
}

// Slug creates a file-name-safe slug from text using sep between words.
func Slug(text, sep string) string {
	s := slugify(strings.ToLower(strings.TrimSpace(text)), sep)
	return truncateSlug(s, sep)
}

// slugify replaces non-alphanumeric runs with a single separator and trims
// leading/trailing separators.
func slugify(input, sep string) string {
	var result strings.Builder
	lastSep := false
	for _, r := range input {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			result.WriteRune(r)
			lastSep = false
		} else if !lastSep {
			result.WriteString(sep)
			lastSep = true
		}
	}
	return strings.Trim(result.String(), sep)
}

// truncateSlug limits the slug to SlugMaxLength, preferring word boundaries.
func truncateSlug(s, sep string) string {
	if len(s) <= SlugMaxLength {
		return s
	}
	s = s[:SlugMaxLength]
	if idx := strings.LastIndex(s, sep); idx > SlugMinWordBoundary {
		s = s[:idx]
	}
	return strings.Trim(s, sep)
}
