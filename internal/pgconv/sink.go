package pgconv

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
)

// Header describes the comment block opening every output file.
type Header struct {
	Source string
	Target string
}

func (h Header) write(w io.Writer) error {
	var b strings.Builder
	b.WriteString("-- Converted from MySQL to PostgreSQL\n")
	if h.Source != "" {
		fmt.Fprintf(&b, "-- Source: %s\n", h.Source)
	}
	if h.Target != "" {
		fmt.Fprintf(&b, "-- Target: %s\n", h.Target)
	}
	b.WriteByte('\n')
	_, err := io.WriteString(w, b.String())
	return err
}

// Sink receives complete SQL statements.
type Sink interface {
	WriteStatement(stmt string) error
	Close() error
}

// WriterSink writes every statement to a single writer.
type WriterSink struct {
	w           *bufio.Writer
	header      Header
	transaction bool
	started     bool
}

// NewWriterSink returns a Sink writing to w. With transaction set the
// statements are wrapped in BEGIN/COMMIT.
func NewWriterSink(w io.Writer, header Header, transaction bool) *WriterSink {
	return &WriterSink{w: bufio.NewWriter(w), header: header, transaction: transaction}
}

func (s *WriterSink) begin() error {
	if s.started {
		return nil
	}
	s.started = true
	if err := s.header.write(s.w); err != nil {
		return err
	}
	if s.transaction {
		_, err := s.w.WriteString("BEGIN;\n\n")
		return err
	}
	return nil
}

// WriteStatement appends stmt followed by a newline.
func (s *WriterSink) WriteStatement(stmt string) error {
	if err := s.begin(); err != nil {
		return err
	}
	if _, err := s.w.WriteString(stmt); err != nil {
		return err
	}
	return s.w.WriteByte('\n')
}

// Close finishes the transaction block and flushes. It does not close the
// underlying writer.
func (s *WriterSink) Close() error {
	if err := s.begin(); err != nil {
		return err
	}
	if s.transaction {
		if _, err := s.w.WriteString("\nCOMMIT;\n"); err != nil {
			return err
		}
	}
	return s.w.Flush()
}

// FileSplitter writes statements to numbered files <Base>_batch_NNN.sql in
// Dir, starting a new file every PerFile statements.
type FileSplitter struct {
	Dir         string
	Base        string
	PerFile     int
	Header      Header
	Transaction bool

	files []string
	cur   *os.File
	sink  *WriterSink
	count int
}

// NewFileSplitter returns a splitter with up to perFile statements per file.
func NewFileSplitter(dir, base string, perFile int, header Header, transaction bool) *FileSplitter {
	if perFile <= 0 {
		perFile = 1
	}
	return &FileSplitter{Dir: dir, Base: base, PerFile: perFile, Header: header, Transaction: transaction}
}

// WriteStatement writes stmt to the current file, rolling over when full.
func (f *FileSplitter) WriteStatement(stmt string) error {
	if f.cur == nil || f.count >= f.PerFile {
		if err := f.roll(); err != nil {
			return err
		}
	}
	f.count++
	return f.sink.WriteStatement(stmt)
}

func (f *FileSplitter) roll() error {
	if err := f.closeCurrent(); err != nil {
		return err
	}
	if err := os.MkdirAll(f.Dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	path := filepath.Join(f.Dir, fmt.Sprintf("%s_batch_%03d.sql", f.Base, len(f.files)+1))
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create batch file: %w", err)
	}
	f.cur = file
	f.sink = NewWriterSink(file, f.Header, f.Transaction)
	f.count = 0
	f.files = append(f.files, path)
	return nil
}

func (f *FileSplitter) closeCurrent() error {
	if f.cur == nil {
		return nil
	}
	err := f.sink.Close()
	if cerr := f.cur.Close(); err == nil {
		err = cerr
	}
	f.cur = nil
	f.sink = nil
	if err != nil {
		return fmt.Errorf("close batch file: %w", err)
	}
	return nil
}

// Close flushes and closes the last file.
func (f *FileSplitter) Close() error {
	return f.closeCurrent()
}

// Files returns the paths written so far, in order.
func (f *FileSplitter) Files() []string {
	return f.files
}
