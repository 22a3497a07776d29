package logging

import (
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"sync"
)

// FileRotator is an io.Writer over a log file that shifts the file to
// path.1 once it would grow past Config.MaxSize megabytes. Older backups
// move up one index (path.2, path.3, ...) and anything past MaxBackups is
// removed. With Compress set, backups are stored as path.N.gz.
type FileRotator struct {
	path     string
	maxBytes int64
	keep     int
	compress bool

	mu   sync.Mutex
	file *os.File
	size int64
}

// NewFileRotator opens (or creates) cfg.FilePath for appending.
func NewFileRotator(cfg *Config) (*FileRotator, error) {
	if cfg.FilePath == "" {
		return nil, errors.New("log file path is empty")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o750); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	r := &FileRotator{
		path:     cfg.FilePath,
		maxBytes: cfg.MaxSize << 20,
		keep:     cfg.MaxBackups,
		compress: cfg.Compress,
	}
	if err := r.open(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *FileRotator) open() error {
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o640)
	if err != nil {
		return fmt.Errorf("open log file: %w", err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return fmt.Errorf("stat log file: %w", err)
	}
	r.file, r.size = f, st.Size()
	return nil
}

// Write implements io.Writer. A single write is never split across files.
func (r *FileRotator) Write(p []byte) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		if err := r.open(); err != nil {
			return 0, err
		}
	}
	if r.maxBytes > 0 && r.size > 0 && r.size+int64(len(p)) > r.maxBytes {
		if err := r.rotate(); err != nil {
			return 0, fmt.Errorf("rotate log: %w", err)
		}
	}

	n, err := r.file.Write(p)
	r.size += int64(n)
	return n, err
}

func (r *FileRotator) backupName(i int) string {
	name := r.path + "." + strconv.Itoa(i)
	if r.compress {
		name += ".gz"
	}
	return name
}

func (r *FileRotator) rotate() error {
	if err := r.file.Close(); err != nil {
		return err
	}
	r.file = nil

	keep := max(r.keep, 1)
	os.Remove(r.backupName(keep))
	for i := keep - 1; i >= 1; i-- {
		if err := os.Rename(r.backupName(i), r.backupName(i+1)); err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	if r.compress {
		if err := gzipFile(r.path, r.backupName(1)); err != nil {
			return err
		}
		if err := os.Remove(r.path); err != nil {
			return err
		}
	} else if err := os.Rename(r.path, r.backupName(1)); err != nil {
		return err
	}

	if r.keep <= 0 {
		os.Remove(r.backupName(1))
	}
	return r.open()
}

func gzipFile(src, dst string) (err error) {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := out.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			os.Remove(dst)
		}
	}()

	gz := gzip.NewWriter(out)
	gz.Name = filepath.Base(src)
	if _, err := io.Copy(gz, in); err != nil {
		return err
	}
	return gz.Close()
}

// backups lists existing backup files, newest first.
func (r *FileRotator) backups() []string {
	var found []string
	for i := 1; i <= max(r.keep, 1); i++ {
		if _, err := os.Stat(r.backupName(i)); err == nil {
			found = append(found, r.backupName(i))
		}
	}
	return found
}

// Sync flushes the current file to disk.
func (r *FileRotator) Sync() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	return r.file.Sync()
}

// Close closes the current file. A later Write reopens it.
func (r *FileRotator) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}
