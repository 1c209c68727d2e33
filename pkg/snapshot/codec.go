package snapshot

import (
	"bufio"
	"bytes"
	"compress/gzip"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
)

// Codec names the compression applied to the tar stream.
type Codec string

const (
	CodecZstd Codec = "zstd"
	CodecGzip Codec = "gzip"
)

var ErrUnknownCodec = errors.New("snapshot: unknown codec")

var (
	zstdMagic = []byte{0x28, 0xb5, 0x2f, 0xfd}
	gzipMagic = []byte{0x1f, 0x8b}
)

// ParseCodec accepts "zstd" or "gzip"; the empty string means zstd.
func ParseCodec(s string) (Codec, error) {
	switch c := Codec(strings.ToLower(strings.TrimSpace(s))); c {
	case "":
		return CodecZstd, nil
	case CodecZstd, CodecGzip:
		return c, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownCodec, s)
	}
}

// byteCounter wraps an io.Writer and counts bytes written.
type byteCounter struct {
	w     io.Writer
	count int64
}

func (bc *byteCounter) Write(p []byte) (int, error) {
	n, err := bc.w.Write(p)
	bc.count += int64(n)
	return n, err
}

func (bc *byteCounter) Count() int64 {
	return bc.count
}

func (c Codec) compressor(w io.Writer) (io.WriteCloser, error) {
	switch c {
	case CodecZstd:
		enc, err := zstd.NewWriter(w)
		if err != nil {
			return nil, fmt.Errorf("create zstd writer: %w", err)
		}
		return enc, nil
	case CodecGzip:
		return gzip.NewWriter(w), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownCodec, string(c))
	}
}

// decompressor sniffs the stream's magic bytes and returns a matching reader.
func decompressor(r io.Reader) (io.ReadCloser, Codec, error) {
	br := bufio.NewReader(r)
	head, err := br.Peek(len(zstdMagic))
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, "", fmt.Errorf("read archive header: %w", err)
	}

	switch {
	case bytes.HasPrefix(head, zstdMagic):
		dec, err := zstd.NewReader(br)
		if err != nil {
			return nil, "", fmt.Errorf("create zstd reader: %w", err)
		}
		return dec.IOReadCloser(), CodecZstd, nil
	case bytes.HasPrefix(head, gzipMagic):
		gz, err := gzip.NewReader(br)
		if err != nil {
			return nil, "", fmt.Errorf("create gzip reader: %w", err)
		}
		return gz, CodecGzip, nil
	default:
		return nil, "", fmt.Errorf("%w: unrecognised archive header %x", ErrUnknownCodec, head)
	}
}
