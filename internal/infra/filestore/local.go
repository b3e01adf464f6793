package filestore

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/bryanwahyu/vendor-compliance/internal/domain/analysis"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported document format")
	ErrFileTooLarge      = errors.New("file exceeds maximum size")
	ErrSessionFull       = errors.New("session upload quota exceeded")
	ErrExtension         = errors.New("file extension not allowed")
	ErrContentMismatch   = errors.New("file content does not match extension")
)

const metaSuffix = ".meta"

var DefaultExtensions = []string{".pdf", ".docx", ".xlsx", ".xls", ".csv", ".txt", ".md"}

var mimeByExt = map[string]string{
	".pdf":  "application/pdf",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".xls":  "application/vnd.ms-excel",
	".csv":  "text/csv",
	".txt":  "text/plain",
	".md":   "text/markdown",
	".json": "application/json",
}

// Options for a Local store. Zero values fall back to the upload defaults.
type Options struct {
	MaxFileBytes     int64
	MaxSessionBytes  int64
	Extensions       []string
	MaxDocumentChars int
}

// Local keeps uploads on disk, one directory per session. Each data file
// {id}{ext} has a JSON sidecar {id}.meta with the original name and mime.
type Local struct {
	root string
	opts Options
	now  func() time.Time
}

type sidecar struct {
	OriginalName string    `json:"original_name"`
	MimeType     string    `json:"mime_type"`
	Extension    string    `json:"extension"`
	UploadedAt   time.Time `json:"uploaded_at"`
}

func New(root string, opts Options) (*Local, error) {
	if opts.MaxFileBytes <= 0 {
		opts.MaxFileBytes = 100 << 20
	}
	if opts.MaxSessionBytes <= 0 {
		opts.MaxSessionBytes = 500 << 20
	}
	if len(opts.Extensions) == 0 {
		opts.Extensions = DefaultExtensions
	}
	if opts.MaxDocumentChars <= 0 {
		opts.MaxDocumentChars = 100000
	}
	if err := os.MkdirAll(root, 0o750); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Local{root: root, opts: opts, now: time.Now}, nil
}

// SanitizeSession keeps only [A-Za-z0-9-] so a session id can never escape the root.
func SanitizeSession(sessionID string) string {
	var b strings.Builder
	for _, r := range sessionID {
		if r == '-' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func sanitizeName(name string) string {
	name = filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	name = strings.ReplaceAll(name, "\x00", "")
	var b strings.Builder
	for _, r := range name {
		switch {
		case r == '.' || r == '-' || r == '_' || r == ' ',
			r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		default:
			b.WriteRune('_')
		}
	}
	out := b.String()
	if len(out) > 255 {
		ext := filepath.Ext(out)
		out = out[:255-len(ext)] + ext
	}
	return out
}

func validID(id string) bool {
	if id == "" || len(id) > 64 {
		return false
	}
	for _, r := range id {
		if !(r == '-' || r == '_' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9')) {
			return false
		}
	}
	return true
}

func newFileID() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}

func (l *Local) sessionDir(sessionID string) (string, error) {
	safe := SanitizeSession(sessionID)
	if safe == "" {
		return "", fmt.Errorf("%w: empty session id", analysis.ErrInvalidInput)
	}
	return filepath.Join(l.root, safe), nil
}

func (l *Local) allowed(ext string) bool {
	for _, e := range l.opts.Extensions {
		if strings.EqualFold(e, ext) {
			return true
		}
	}
	return false
}

func dirSize(dir string) (int64, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, err
	}
	var total int64
	for _, e := range entries {
		if e.IsDir() || strings.HasSuffix(e.Name(), metaSuffix) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		total += info.Size()
	}
	return total, nil
}

// Save stores r under the session. Partial files are removed on any failure.
func (l *Local) Save(ctx context.Context, sessionID, filename string, r io.Reader) (analysis.FileDescriptor, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	if !l.allowed(ext) {
		return analysis.FileDescriptor{}, fmt.Errorf("%w: %q", ErrExtension, ext)
	}
	dir, err := l.sessionDir(sessionID)
	if err != nil {
		return analysis.FileDescriptor{}, err
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return analysis.FileDescriptor{}, fmt.Errorf("create session dir: %w", err)
	}
	used, err := dirSize(dir)
	if err != nil {
		return analysis.FileDescriptor{}, fmt.Errorf("session size: %w", err)
	}

	id, err := newFileID()
	if err != nil {
		return analysis.FileDescriptor{}, fmt.Errorf("file id: %w", err)
	}
	dataPath := filepath.Join(dir, id+ext)
	out, err := os.OpenFile(dataPath, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return analysis.FileDescriptor{}, fmt.Errorf("create file: %w", err)
	}

	// baca satu byte lebih dari limit supaya ketahuan kalau kebesaran
	limit := l.opts.MaxFileBytes
	if remaining := l.opts.MaxSessionBytes - used; remaining < limit {
		limit = remaining
	}
	n, copyErr := io.Copy(out, io.LimitReader(r, limit+1))
	closeErr := out.Close()
	fail := func(e error) (analysis.FileDescriptor, error) {
		_ = os.Remove(dataPath)
		return analysis.FileDescriptor{}, e
	}
	switch {
	case copyErr != nil:
		return fail(fmt.Errorf("write file: %w", copyErr))
	case closeErr != nil:
		return fail(fmt.Errorf("close file: %w", closeErr))
	case n > l.opts.MaxFileBytes:
		return fail(fmt.Errorf("%w of %dMB", ErrFileTooLarge, l.opts.MaxFileBytes>>20))
	case n > limit:
		return fail(fmt.Errorf("%w: limit %dMB", ErrSessionFull, l.opts.MaxSessionBytes>>20))
	}
	if err := ctx.Err(); err != nil {
		return fail(err)
	}

	mime, err := sniffMime(dataPath, ext)
	if err != nil {
		return fail(err)
	}

	meta := sidecar{
		OriginalName: sanitizeName(filename),
		MimeType:     mime,
		Extension:    ext,
		UploadedAt:   l.now().UTC(),
	}
	raw, err := json.Marshal(meta)
	if err != nil {
		return fail(err)
	}
	if err := os.WriteFile(filepath.Join(dir, id+metaSuffix), raw, 0o640); err != nil {
		return fail(fmt.Errorf("write meta: %w", err))
	}

	return analysis.FileDescriptor{
		ID:           id,
		OriginalName: meta.OriginalName,
		SizeBytes:    n,
		MimeType:     mime,
		UploadedAt:   meta.UploadedAt,
	}, nil
}

// sniffMime checks the leading bytes against the claimed extension.
func sniffMime(path, ext string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	head := make([]byte, 512)
	n, _ := io.ReadFull(f, head)
	head = head[:n]

	detected := http.DetectContentType(head)
	want := mimeByExt[ext]
	switch ext {
	case ".pdf":
		if !bytes.HasPrefix(head, []byte("%PDF")) {
			return "", fmt.Errorf("%w: %s", ErrContentMismatch, ext)
		}
	case ".docx", ".xlsx":
		if !bytes.HasPrefix(head, []byte("PK\x03\x04")) {
			return "", fmt.Errorf("%w: %s", ErrContentMismatch, ext)
		}
	case ".xls":
		if !bytes.HasPrefix(head, []byte{0xd0, 0xcf, 0x11, 0xe0}) {
			return "", fmt.Errorf("%w: %s", ErrContentMismatch, ext)
		}
	case ".txt", ".md", ".csv", ".json":
		if n > 0 && !strings.HasPrefix(detected, "text/") && !utf8.Valid(head) {
			return "", fmt.Errorf("%w: %s", ErrContentMismatch, ext)
		}
	}
	if want == "" {
		want = detected
	}
	return want, nil
}

func (l *Local) readMeta(dir, id string) (sidecar, error) {
	var m sidecar
	raw, err := os.ReadFile(filepath.Join(dir, id+metaSuffix))
	if err != nil {
		return m, err
	}
	if err := json.Unmarshal(raw, &m); err != nil {
		return m, fmt.Errorf("decode meta %s: %w", id, err)
	}
	if m.MimeType == "" {
		m.MimeType = "application/octet-stream"
	}
	return m, nil
}

// ListFiles returns the session's documents in upload order.
func (l *Local) ListFiles(_ context.Context, sessionID string) ([]analysis.FileDescriptor, error) {
	dir, err := l.sessionDir(sessionID)
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return []analysis.FileDescriptor{}, nil
		}
		return nil, fmt.Errorf("list session: %w", err)
	}

	out := make([]analysis.FileDescriptor, 0, len(entries)/2)
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, metaSuffix) {
			continue
		}
		id := strings.TrimSuffix(name, metaSuffix)
		meta, err := l.readMeta(dir, id)
		if err != nil {
			continue
		}
		info, err := os.Stat(filepath.Join(dir, id+meta.Extension))
		if err != nil {
			continue
		}
		out = append(out, analysis.FileDescriptor{
			ID:           id,
			OriginalName: meta.OriginalName,
			SizeBytes:    info.Size(),
			MimeType:     meta.MimeType,
			UploadedAt:   meta.UploadedAt,
		})
	}
	sortByUpload(out)
	return out, nil
}

func sortByUpload(files []analysis.FileDescriptor) {
	sort.Slice(files, func(i, j int) bool {
		if !files[i].UploadedAt.Equal(files[j].UploadedAt) {
			return files[i].UploadedAt.Before(files[j].UploadedAt)
		}
		return files[i].ID < files[j].ID
	})
}

// ResolvePath returns "" when the file is missing.
func (l *Local) ResolvePath(_ context.Context, sessionID, fileID string) (string, error) {
	if !validID(fileID) {
		return "", nil
	}
	dir, err := l.sessionDir(sessionID)
	if err != nil {
		return "", err
	}
	meta, err := l.readMeta(dir, fileID)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", nil
		}
		return "", err
	}
	p := filepath.Join(dir, fileID+meta.Extension)
	if _, err := os.Stat(p); err != nil {
		return "", nil
	}
	return p, nil
}

// Parse extracts text from plain text formats and DOCX. Everything else
// returns ErrUnsupportedFormat.
func (l *Local) Parse(ctx context.Context, path, mimeType string) (analysis.ParsedDocument, error) {
	if err := ctx.Err(); err != nil {
		return analysis.ParsedDocument{}, err
	}
	var text string
	switch {
	case strings.HasPrefix(mimeType, "text/"), mimeType == "application/json":
		raw, err := os.ReadFile(path)
		if err != nil {
			return analysis.ParsedDocument{}, fmt.Errorf("read document: %w", err)
		}
		text = strings.ToValidUTF8(string(raw), "")
	case mimeType == mimeByExt[".docx"]:
		t, err := docxText(path)
		if err != nil {
			return analysis.ParsedDocument{}, err
		}
		text = t
	default:
		return analysis.ParsedDocument{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, mimeType)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return analysis.ParsedDocument{}, fmt.Errorf("%w: document has no text", ErrUnsupportedFormat)
	}
	doc := analysis.ParsedDocument{Text: text}
	if utf8.RuneCountInString(text) > l.opts.MaxDocumentChars {
		doc.Text = string([]rune(text)[:l.opts.MaxDocumentChars])
		doc.Truncated = true
	}
	return doc, nil
}

// docxText pulls the paragraph text out of word/document.xml.
func docxText(path string) (string, error) {
	zr, err := zip.OpenReader(path)
	if err != nil {
		return "", fmt.Errorf("%w: open docx: %v", ErrUnsupportedFormat, err)
	}
	defer zr.Close()

	for _, f := range zr.File {
		if f.Name != "word/document.xml" {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return "", fmt.Errorf("open document.xml: %w", err)
		}
		defer rc.Close()

		var b strings.Builder
		dec := xml.NewDecoder(rc)
		inText := false
		for {
			tok, err := dec.Token()
			if err == io.EOF {
				break
			}
			if err != nil {
				return "", fmt.Errorf("%w: decode docx: %v", ErrUnsupportedFormat, err)
			}
			switch t := tok.(type) {
			case xml.StartElement:
				inText = t.Name.Local == "t"
				if t.Name.Local == "tab" {
					b.WriteByte('\t')
				}
			case xml.EndElement:
				if t.Name.Local == "p" {
					b.WriteByte('\n')
				}
				inText = false
			case xml.CharData:
				if inText {
					b.Write(t)
				}
			}
		}
		return b.String(), nil
	}
	return "", fmt.Errorf("%w: docx without body", ErrUnsupportedFormat)
}

// Delete removes the data file and its sidecar. It reports whether anything was removed.
func (l *Local) Delete(_ context.Context, sessionID, fileID string) (bool, error) {
	if !validID(fileID) {
		return false, nil
	}
	dir, err := l.sessionDir(sessionID)
	if err != nil {
		return false, err
	}
	matches, err := filepath.Glob(filepath.Join(dir, fileID+".*"))
	if err != nil {
		return false, err
	}
	deleted := false
	for _, m := range matches {
		if err := os.Remove(m); err == nil {
			deleted = true
		}
	}
	return deleted, nil
}

// CleanupSession removes every upload of the session.
func (l *Local) CleanupSession(_ context.Context, sessionID string) error {
	dir, err := l.sessionDir(sessionID)
	if err != nil {
		return err
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("cleanup session: %w", err)
	}
	return nil
}

// CleanupExpired removes session directories untouched for longer than maxAge
// and returns how many were removed.
func (l *Local) CleanupExpired(ctx context.Context, maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(l.root)
	if err != nil {
		return 0, fmt.Errorf("read upload dir: %w", err)
	}
	cutoff := l.now().Add(-maxAge)
	cleaned := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return cleaned, err
		}
		if !e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || !info.ModTime().Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(l.root, e.Name())); err == nil {
			cleaned++
		}
	}
	return cleaned, nil
}
