// Copyright (c) 2026 John Earle
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package archive decodes compressed containers (ZIP, RAR, 7z, TAR with
// optional gzip/bzip2 compression) into inner files. Nested archives are
// decoded recursively up to MaxNestingDepth; deeper ones are surfaced as
// unparsed inner files with DepthExceeded set rather than dropped.
package archive

import (
	"archive/tar"
	"bytes"
	"compress/bzip2"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/bodgit/sevenzip"
	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zip"
	"github.com/nwaples/rardecode/v2"

	"github.com/bcem/leakfeed/internal/models"
)

// MaxNestingDepth is how many archive-in-archive levels are decoded.
const MaxNestingDepth = 3

var (
	// ErrUnsupportedFormat means the container signature is unrecognized.
	ErrUnsupportedFormat = errors.New("unsupported archive format")

	// ErrCorruptArchive means the container is recognized but structurally
	// unreadable: bad CRC, truncated stream, or password-protected.
	ErrCorruptArchive = errors.New("corrupt archive")
)

// Decoder extracts inner files from archive bytes.
type Decoder struct {
	maxDepth int
}

// NewDecoder creates a decoder with the default nesting limit.
func NewDecoder() *Decoder {
	return &Decoder{maxDepth: MaxNestingDepth}
}

// NestedFailure records a nested archive that could not be decoded. The
// surrounding batch continues; the orchestrator turns these into
// diagnostics.
type NestedFailure struct {
	Path string
	Err  error
}

// Decode extracts all inner files from an archive, recursing into nested
// archives up to the depth limit. Returns ErrUnsupportedFormat or
// ErrCorruptArchive (wrapped) only when the top-level container cannot be
// read; a corrupt nested archive skips that entry and is reported in the
// failures slice.
func (d *Decoder) Decode(filename string, data []byte) ([]models.InnerFile, []NestedFailure, error) {
	return d.decode(filename, data, 1)
}

func (d *Decoder) decode(filename string, data []byte, depth int) ([]models.InnerFile, []NestedFailure, error) {
	format := DetectFormat(filename, data)
	if format == FormatUnknown {
		return nil, nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filename)
	}

	entries, err := d.extract(format, filename, data)
	if err != nil {
		return nil, nil, err
	}

	var out []models.InnerFile
	var failures []NestedFailure
	for _, entry := range entries {
		// Signature only: a misnamed text entry is data, not an archive.
		nested := signatureFormat(entry.Bytes)
		if nested == FormatUnknown {
			entry.ArchiveFilename = filename
			out = append(out, entry)
			continue
		}

		if depth >= d.maxDepth {
			entry.ArchiveFilename = filename
			entry.DepthExceeded = true
			out = append(out, entry)
			continue
		}

		inner, innerFailures, err := d.decode(entry.Path, entry.Bytes, depth+1)
		if err != nil {
			failures = append(failures, NestedFailure{Path: entry.Path, Err: err})
			continue
		}
		for _, nf := range innerFailures {
			nf.Path = entry.Path + "/" + nf.Path
			failures = append(failures, nf)
		}
		for _, f := range inner {
			f.Path = entry.Path + "/" + f.Path
			f.ArchiveFilename = filename
			out = append(out, f)
		}
	}

	return out, failures, nil
}

func (d *Decoder) extract(format Format, filename string, data []byte) ([]models.InnerFile, error) {
	switch format {
	case FormatZip:
		return extractZip(data)
	case FormatRAR:
		return extractRar(data)
	case Format7z:
		return extract7z(data)
	case FormatTar:
		return extractTar(tar.NewReader(bytes.NewReader(data)))
	case FormatTarGz:
		gz, err := gzip.NewReader(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("%w: gzip header: %v", ErrCorruptArchive, err)
		}
		defer gz.Close()
		return extractCompressedTar(gz, strings.TrimSuffix(filename, ".gz"))
	case FormatTarBz2:
		return extractCompressedTar(bzip2.NewReader(bytes.NewReader(data)), strings.TrimSuffix(filename, ".bz2"))
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, filename)
	}
}

func extractZip(data []byte) ([]models.InnerFile, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: open zip: %v", ErrCorruptArchive, err)
	}

	var files []models.InnerFile
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		// Bit 0 of the general purpose flags marks encrypted entries.
		if f.Flags&0x1 != 0 {
			return nil, fmt.Errorf("%w: zip entry %s is password-protected", ErrCorruptArchive, f.Name)
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: open zip entry %s: %v", ErrCorruptArchive, f.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			// Includes CRC mismatches reported at EOF.
			return nil, fmt.Errorf("%w: read zip entry %s: %v", ErrCorruptArchive, f.Name, err)
		}

		files = append(files, models.InnerFile{Path: f.Name, Bytes: content})
	}
	return files, nil
}

func extractRar(data []byte) ([]models.InnerFile, error) {
	rr, err := rardecode.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: open rar: %v", ErrCorruptArchive, err)
	}

	var files []models.InnerFile
	for {
		hdr, err := rr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: rar header: %v", ErrCorruptArchive, err)
		}
		if hdr.IsDir {
			continue
		}

		content, err := io.ReadAll(rr)
		if err != nil {
			return nil, fmt.Errorf("%w: read rar entry %s: %v", ErrCorruptArchive, hdr.Name, err)
		}

		files = append(files, models.InnerFile{Path: hdr.Name, Bytes: content})
	}
	return files, nil
}

func extract7z(data []byte) ([]models.InnerFile, error) {
	sz, err := sevenzip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, fmt.Errorf("%w: open 7z: %v", ErrCorruptArchive, err)
	}

	var files []models.InnerFile
	for _, f := range sz.File {
		if f.FileInfo().IsDir() {
			continue
		}

		rc, err := f.Open()
		if err != nil {
			return nil, fmt.Errorf("%w: open 7z entry %s: %v", ErrCorruptArchive, f.Name, err)
		}
		content, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, fmt.Errorf("%w: read 7z entry %s: %v", ErrCorruptArchive, f.Name, err)
		}

		files = append(files, models.InnerFile{Path: f.Name, Bytes: content})
	}
	return files, nil
}

// extractCompressedTar reads a decompressed stream as tar. A gzip/bzip2
// stream that does not wrap a tar is treated as a single compressed file
// and yielded under the stripped filename.
func extractCompressedTar(r io.Reader, innerName string) ([]models.InnerFile, error) {
	content, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: decompress: %v", ErrCorruptArchive, err)
	}

	if DetectFormat(innerName, content) == FormatTar {
		return extractTar(tar.NewReader(bytes.NewReader(content)))
	}
	return []models.InnerFile{{Path: innerName, Bytes: content}}, nil
}

func extractTar(tr *tar.Reader) ([]models.InnerFile, error) {
	var files []models.InnerFile
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%w: tar header: %v", ErrCorruptArchive, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		content, err := io.ReadAll(tr)
		if err != nil {
			return nil, fmt.Errorf("%w: read tar entry %s: %v", ErrCorruptArchive, hdr.Name, err)
		}

		files = append(files, models.InnerFile{Path: hdr.Name, Bytes: content})
	}
	return files, nil
}
