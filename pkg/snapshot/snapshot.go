// Package snapshot exports a manuscript directory as a compressed tar
// stream and imports it back. The archive starts with MANIFEST.json, which
// records the BLAKE3 digest of every file; Import verifies each one before
// anything is written.
package snapshot

import (
	"archive/tar"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"parchment/pkg/manuscript"
	"parchment/pkg/words"
)

const ManifestName = "MANIFEST.json"

var (
	ErrManuscriptExists = errors.New("snapshot: target already holds a manuscript")
	ErrMissingManifest  = errors.New("snapshot: archive has no manifest")
	ErrDigestMismatch   = errors.New("snapshot: digest mismatch")
	ErrUnexpectedFile   = errors.New("snapshot: unexpected file in archive")
)

// FileDigest describes one archived file.
type FileDigest struct {
	Name   string `json:"name"`
	Size   int64  `json:"size"`
	BLAKE3 string `json:"blake3"`
}

type Manifest struct {
	ID      string       `json:"id"`
	Created time.Time    `json:"created"`
	Files   []FileDigest `json:"files"`
}

// Freezer runs fn while the directory it names cannot change.
// *manuscript.Manuscript implements it.
type Freezer interface {
	Freeze(fn func(dir string) error) error
}

func digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}

type options struct {
	codec Codec
}

type Option func(*options)

// WithCodec selects the archive compression. The default is zstd.
func WithCodec(c Codec) Option {
	return func(o *options) {
		o.codec = c
	}
}

// Export writes a snapshot of the frozen manuscript to w.
func Export(src Freezer, w io.Writer, opts ...Option) (Manifest, error) {
	o := options{codec: CodecZstd}
	for _, opt := range opts {
		opt(&o)
	}
	counter := &byteCounter{w: w}
	comp, err := o.codec.compressor(counter)
	if err != nil {
		return Manifest{}, err
	}

	manifest := Manifest{
		ID:      uuid.NewString(),
		Created: time.Now().UTC(),
	}
	contents := make(map[string][]byte, len(manuscript.Files))

	err = src.Freeze(func(dir string) error {
		for _, name := range manuscript.Files {
			data, err := os.ReadFile(filepath.Join(dir, name))
			if err != nil {
				return fmt.Errorf("read %s: %w", name, err)
			}
			contents[name] = data
			manifest.Files = append(manifest.Files, FileDigest{
				Name:   name,
				Size:   int64(len(data)),
				BLAKE3: digest(data),
			})
		}
		return nil
	})
	if err != nil {
		_ = comp.Close()
		return Manifest{}, err
	}

	if err := writeArchive(comp, manifest, contents); err != nil {
		return Manifest{}, err
	}
	slog.Info("snapshot exported",
		"id", manifest.ID,
		"files", len(manifest.Files),
		"codec", o.codec,
		"bytes", counter.Count(),
	)
	return manifest, nil
}

// writeArchive writes the tar stream into enc and closes it.
func writeArchive(enc io.WriteCloser, manifest Manifest, contents map[string][]byte) error {
	tw := tar.NewWriter(enc)

	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		_ = enc.Close()
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := writeEntry(tw, ManifestName, data, manifest.Created); err != nil {
		_ = enc.Close()
		return err
	}
	for _, f := range manifest.Files {
		if err := writeEntry(tw, f.Name, contents[f.Name], manifest.Created); err != nil {
			_ = enc.Close()
			return err
		}
	}

	if err := tw.Close(); err != nil {
		_ = enc.Close()
		return fmt.Errorf("close tar: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("close compressor: %w", err)
	}
	return nil
}

func writeEntry(tw *tar.Writer, name string, data []byte, mod time.Time) error {
	header := &tar.Header{
		Name:     name,
		Mode:     0600,
		Size:     int64(len(data)),
		ModTime:  mod,
		Typeflag: tar.TypeReg,
	}
	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("write header %s: %w", name, err)
	}
	if _, err := tw.Write(data); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

// Import restores a snapshot into dir, which must not already hold a
// manuscript. Nothing is written unless every digest matches.
func Import(r io.Reader, dir string) (Manifest, error) {
	for _, name := range manuscript.Files {
		if words.Exists(filepath.Join(dir, name)) {
			return Manifest{}, fmt.Errorf("%w: %s", ErrManuscriptExists, dir)
		}
	}

	manifest, contents, err := readArchive(r)
	if err != nil {
		return Manifest{}, err
	}

	for _, f := range manifest.Files {
		data, ok := contents[f.Name]
		if !ok {
			return Manifest{}, fmt.Errorf("%w: %s listed but not archived", ErrMissingManifest, f.Name)
		}
		if int64(len(data)) != f.Size || digest(data) != f.BLAKE3 {
			return Manifest{}, fmt.Errorf("%w: %s", ErrDigestMismatch, f.Name)
		}
	}
	for name := range contents {
		if !slices.ContainsFunc(manifest.Files, func(f FileDigest) bool { return f.Name == name }) {
			return Manifest{}, fmt.Errorf("%w: %s not in manifest", ErrUnexpectedFile, name)
		}
	}

	if err := words.CreateDir(dir); err != nil {
		return Manifest{}, err
	}
	for _, f := range manifest.Files {
		if err := os.WriteFile(filepath.Join(dir, f.Name), contents[f.Name], 0600); err != nil {
			return Manifest{}, fmt.Errorf("write %s: %w", f.Name, err)
		}
	}

	slog.Info("snapshot imported", "id", manifest.ID, "dir", dir)
	return manifest, nil
}

func readArchive(r io.Reader) (Manifest, map[string][]byte, error) {
	dec, codec, err := decompressor(r)
	if err != nil {
		return Manifest{}, nil, err
	}
	defer dec.Close()
	slog.Debug("reading snapshot", "codec", codec)

	var (
		manifest *Manifest
		contents = make(map[string][]byte)
		tr       = tar.NewReader(dec)
	)
	for {
		header, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return Manifest{}, nil, fmt.Errorf("read tar header: %w", err)
		}
		if header.Typeflag != tar.TypeReg {
			continue
		}

		data, err := io.ReadAll(tr)
		if err != nil {
			return Manifest{}, nil, fmt.Errorf("read %s: %w", header.Name, err)
		}

		switch name := filepath.Clean(header.Name); {
		case name == ManifestName:
			var m Manifest
			if err := json.Unmarshal(data, &m); err != nil {
				return Manifest{}, nil, fmt.Errorf("parse manifest: %w", err)
			}
			manifest = &m
		case slices.Contains(manuscript.Files, name):
			contents[name] = data
		default:
			return Manifest{}, nil, fmt.Errorf("%w: %s", ErrUnexpectedFile, header.Name)
		}
	}

	if manifest == nil {
		return Manifest{}, nil, ErrMissingManifest
	}
	return *manifest, contents, nil
}
