// Package uploads keeps user-uploaded images on local disk for a limited time.
package uploads

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/gabriel-vasile/mimetype"
	"go.uber.org/zap"

	"yasmin/internal/apperr"
	"yasmin/internal/config"
)

const (
	DefaultTTL           = 24 * time.Hour
	DefaultCleanInterval = time.Hour
	DefaultMaxBytes      = 5 << 20
)

var (
	ErrEmpty           = fmt.Errorf("empty upload: %w", apperr.ErrValidation)
	ErrTooLarge        = fmt.Errorf("upload too large: %w", apperr.ErrValidation)
	ErrUnsupportedType = fmt.Errorf("file type not allowed: %w", apperr.ErrValidation)
)

var allowedExtensions = map[string]bool{".png": true, ".jpg": true, ".jpeg": true, ".gif": true}

var allowedMimeTypes = map[string]bool{"image/png": true, "image/jpeg": true, "image/gif": true}

// File describes a stored upload.
type File struct {
	Name     string `json:"file"`
	Path     string `json:"-"`
	MimeType string `json:"mime"`
	Size     int64  `json:"size"`
}

type Store struct {
	dir      string
	secret   []byte
	ttl      time.Duration
	maxBytes int64
	now      func() time.Time
	log      *zap.Logger
}

// New prepares the upload directory. An empty secret is replaced by a random
// per-process key, so names are stable only within one run.
func New(cfg config.UploadConfig, secret string, log *zap.Logger) (*Store, error) {
	if log == nil {
		log = zap.NewNop()
	}
	if strings.TrimSpace(cfg.Dir) == "" {
		return nil, errors.New("upload dir is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("create upload dir: %w", err)
	}
	key := []byte(secret)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generate upload key: %w", err)
		}
		log.Warn("SESSION_SECRET not set, upload names use a random key")
	}
	s := &Store{
		dir:      cfg.Dir,
		secret:   key,
		ttl:      cfg.TTL,
		maxBytes: cfg.MaxBytes,
		now:      time.Now,
		log:      log,
	}
	if s.ttl <= 0 {
		s.ttl = DefaultTTL
	}
	if s.maxBytes <= 0 {
		s.maxBytes = DefaultMaxBytes
	}
	return s, nil
}

// MaxBytes is the largest accepted upload.
func (s *Store) MaxBytes() int64 { return s.maxBytes }

// Check validates the extension of filename and the sniffed content type of data.
func (s *Store) Check(filename string, data []byte) (string, error) {
	if len(data) == 0 {
		return "", ErrEmpty
	}
	if int64(len(data)) > s.maxBytes {
		return "", ErrTooLarge
	}
	if !allowedExtensions[strings.ToLower(filepath.Ext(filename))] {
		return "", ErrUnsupportedType
	}
	mime := mimetype.Detect(data).String()
	if !allowedMimeTypes[mime] {
		return "", ErrUnsupportedType
	}
	return mime, nil
}

// Save validates and stores data under a keyed hash of its content. Saving the
// same bytes twice yields the same file.
func (s *Store) Save(filename string, data []byte) (*File, error) {
	mime, err := s.Check(filename, data)
	if err != nil {
		return nil, err
	}
	name := s.hashName(data) + strings.ToLower(filepath.Ext(filename))
	path := filepath.Join(s.dir, name)

	tmp, err := os.CreateTemp(s.dir, ".upload-*")
	if err != nil {
		return nil, fmt.Errorf("create temp upload: %w", err)
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("write upload: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("close upload: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		os.Remove(tmp.Name())
		return nil, fmt.Errorf("store upload: %w", err)
	}
	s.log.Debug("upload stored", zap.String("file", name), zap.Int("size", len(data)))
	return &File{Name: name, Path: path, MimeType: mime, Size: int64(len(data))}, nil
}

func (s *Store) hashName(data []byte) string {
	mac := hmac.New(sha256.New, s.secret)
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

// StartCleaner removes expired uploads every interval until ctx is done.
func (s *Store) StartCleaner(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultCleanInterval
	}
	go s.cleanupLoop(ctx, interval)
}

func (s *Store) cleanupLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Clean(); err != nil {
				s.log.Warn("cleanup uploads failed", zap.Error(err))
			}
		}
	}
}

// Clean deletes files older than the TTL and returns how many were removed.
func (s *Store) Clean() (int, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return 0, fmt.Errorf("read upload dir: %w", err)
	}
	cutoff := s.now().Add(-s.ttl)
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		if info.ModTime().After(cutoff) {
			continue
		}
		path := filepath.Join(s.dir, e.Name())
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			s.log.Warn("remove upload failed", zap.String("path", path), zap.Error(err))
			continue
		}
		removed++
	}
	return removed, nil
}
