package csvsink

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"creepwatch/internal/scraper"

	"github.com/spf13/afero"
)

func init() {
	scraper.RegisterSink("csv", func(opts scraper.SinkOptions) (scraper.Sink, error) {
		return Open(afero.NewOsFs(), opts)
	})
}

// ErrHeaderMismatch is returned when an existing file was written with other columns.
var ErrHeaderMismatch = errors.New("csv header mismatch")

// Sink appends readings to a CSV file. Every Append is flushed and synced
// before it returns, and earlier rows are never rewritten.
type Sink struct {
	file   afero.File
	w      *csv.Writer
	record func(scraper.Reading) []string
	path   string
}

// Open creates the file with a header row, or reopens an existing one for append.
func Open(fs afero.Fs, opts scraper.SinkOptions) (*Sink, error) {
	if opts.Path == "" {
		return nil, fmt.Errorf("csv sink: path is required")
	}
	if len(opts.Columns) == 0 || opts.Record == nil {
		return nil, fmt.Errorf("csv sink: columns and record func are required")
	}

	st, err := inspect(fs, opts.Path, opts.Columns)
	if err != nil {
		return nil, err
	}
	if st.cut >= 0 {
		if err := truncate(fs, opts.Path, st.cut); err != nil {
			return nil, err
		}
	}

	f, err := fs.OpenFile(opts.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", opts.Path, err)
	}

	s := &Sink{file: f, w: csv.NewWriter(f), record: opts.Record, path: opts.Path}

	if st.needsNewline {
		if _, err := f.Write([]byte("\n")); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to repair %s: %w", opts.Path, err)
		}
	}
	if st.needsHeader {
		if err := s.write(opts.Columns); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
	}
	return s, nil
}

// fileState is what Open has to do before appending to an existing file.
type fileState struct {
	needsHeader bool
	// needsNewline is set when the header line lacks its trailing newline.
	needsNewline bool
	// cut is the size to truncate to, dropping a row cut short by a crash; -1 keeps the file.
	cut int64
}

// inspect checks an existing file's header and finds a torn last row.
func inspect(fs afero.Fs, path string, columns []string) (fileState, error) {
	st := fileState{cut: -1}

	f, err := fs.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		st.needsHeader = true
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return st, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	if info.Size() == 0 {
		st.needsHeader = true
		return st, nil
	}

	header, err := csv.NewReader(f).Read()
	if err != nil && !errors.Is(err, io.EOF) {
		return st, fmt.Errorf("failed to read header of %s: %w", path, err)
	}
	if strings.Join(header, ",") != strings.Join(columns, ",") {
		return st, fmt.Errorf("%w: %s has %v, want %v", ErrHeaderMismatch, path, header, columns)
	}

	nl, err := lastNewline(f, info.Size())
	if err != nil {
		return st, fmt.Errorf("failed to read %s: %w", path, err)
	}
	switch {
	case nl == info.Size()-1:
	case nl < 0:
		st.needsNewline = true
	default:
		st.cut = nl + 1
	}
	return st, nil
}

// lastNewline returns the offset of the last '\n' in f, or -1.
func lastNewline(f afero.File, size int64) (int64, error) {
	buf := make([]byte, 4096)
	for end := size; end > 0; {
		start := max(end-int64(len(buf)), 0)
		chunk := buf[:end-start]
		if _, err := f.ReadAt(chunk, start); err != nil && !errors.Is(err, io.EOF) {
			return -1, err
		}
		for i := len(chunk) - 1; i >= 0; i-- {
			if chunk[i] == '\n' {
				return start + int64(i), nil
			}
		}
		end = start
	}
	return -1, nil
}

func truncate(fs afero.Fs, path string, size int64) error {
	f, err := fs.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return fmt.Errorf("failed to open %s for repair: %w", path, err)
	}
	defer f.Close()
	if err := f.Truncate(size); err != nil {
		return fmt.Errorf("failed to drop torn row in %s: %w", path, err)
	}
	return f.Sync()
}

// Append writes one row and syncs it to disk.
func (s *Sink) Append(r scraper.Reading) error {
	if err := s.write(s.record(r)); err != nil {
		return fmt.Errorf("failed to append to %s: %w", s.path, err)
	}
	return nil
}

func (s *Sink) write(rec []string) error {
	if err := s.w.Write(rec); err != nil {
		return err
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return err
	}
	return s.file.Sync()
}

func (s *Sink) Close() error {
	s.w.Flush()
	return s.file.Close()
}
