// Package storage keeps uploaded files on local disk. Each upload is sniffed
// with its magic bytes and must match an allowlisted extension before it is
// written under a fresh, collision-free name.
package storage

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"

	"github.com/tbourn/go-dm-backend/internal/domain"
)

var (
	// ErrEmpty is returned for a zero-byte upload.
	ErrEmpty = errors.New("file is empty")
	// ErrTooLarge is returned when an upload exceeds the configured cap.
	ErrTooLarge = errors.New("file too large")
	// ErrTypeNotAllowed is returned when the extension or sniffed content is
	// not on the allowlist.
	ErrTypeNotAllowed = errors.New("file type not allowed")
)

// allowed maps extensions to the MIME types their content may sniff as.
var allowed = map[string][]string{
	".jpg":  {"image/jpeg"},
	".jpeg": {"image/jpeg"},
	".png":  {"image/png"},
	".gif":  {"image/gif"},
	".pdf":  {"application/pdf"},
	".doc":  {"application/msword", "application/x-ole-storage"},
	".docx": {"application/vnd.openxmlformats-officedocument.wordprocessingml.document", "application/zip"},
	".mp4":  {"video/mp4"},
	".mp3":  {"audio/mpeg"},
	".wav":  {"audio/wav"},
	".webm": {"video/webm", "audio/webm"},
}

// sniffLen is how many leading bytes are inspected.
const sniffLen = 3072

// Blob describes a stored upload.
type Blob struct {
	URL      string `json:"file_url"`
	Name     string `json:"file_name"`
	Size     int64  `json:"file_size"`
	MIMEType string `json:"mime_type"`
	// Kind is the message type a message carrying this blob should use.
	Kind string `json:"message_type"`
}

// Store writes blobs under Dir and addresses them below PublicPath.
type Store struct {
	Dir        string
	PublicPath string
	MaxBytes   int64

	now func() time.Time
}

// New creates dir if needed and returns a Store.
func New(dir, publicPath string, maxBytes int64) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	return &Store{Dir: dir, PublicPath: publicPath, MaxBytes: maxBytes, now: time.Now}, nil
}

// Save validates and stores the content of r, originally named name.
func (s *Store) Save(ctx context.Context, name string, r io.Reader) (*Blob, error) {
	ext := strings.ToLower(filepath.Ext(name))
	accepted, ok := allowed[ext]
	if !ok {
		return nil, fmt.Errorf("%w: extension %q", ErrTypeNotAllowed, ext)
	}

	head := make([]byte, sniffLen)
	n, err := io.ReadFull(r, head)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return nil, err
	}
	head = head[:n]
	if n == 0 {
		return nil, ErrEmpty
	}

	mt := mimetype.Detect(head)
	if !matches(mt, accepted) {
		return nil, fmt.Errorf("%w: %s content is %s", ErrTypeNotAllowed, ext, mt.String())
	}

	stored := fmt.Sprintf("%d-%s%s", s.now().UnixMilli(), uuid.NewString()[:8], ext)
	dst := filepath.Join(s.Dir, stored)
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}

	body := io.MultiReader(bytes.NewReader(head), r)
	if err := ctx.Err(); err != nil {
		f.Close()
		_ = os.Remove(dst)
		return nil, err
	}
	written, err := io.Copy(f, io.LimitReader(body, s.MaxBytes+1))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && written > s.MaxBytes {
		err = fmt.Errorf("%w: limit is %s", ErrTooLarge, humanize.IBytes(uint64(s.MaxBytes)))
	}
	if err != nil {
		_ = os.Remove(dst)
		return nil, err
	}

	return &Blob{
		URL:      path.Join(s.PublicPath, stored),
		Name:     filepath.Base(name),
		Size:     written,
		MIMEType: mt.String(),
		Kind:     kindOf(mt),
	}, nil
}

// matches reports whether mt or one of its parents is in accepted.
func matches(mt *mimetype.MIME, accepted []string) bool {
	for m := mt; m != nil; m = m.Parent() {
		for _, a := range accepted {
			if m.Is(a) {
				return true
			}
		}
	}
	return false
}

func kindOf(mt *mimetype.MIME) string {
	s := mt.String()
	switch {
	case strings.HasPrefix(s, "image/"):
		return domain.MessageImage
	case strings.HasPrefix(s, "video/"):
		return domain.MessageVideo
	case strings.HasPrefix(s, "audio/"):
		return domain.MessageAudio
	default:
		return domain.MessageFile
	}
}
