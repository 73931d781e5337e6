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

package archive

import (
	"bytes"
	"strings"
)

// Format identifies a supported container format.
type Format string

const (
	FormatZip     Format = "zip"
	FormatRAR     Format = "rar"
	Format7z      Format = "7z"
	FormatTar     Format = "tar"
	FormatTarGz   Format = "tar.gz"
	FormatTarBz2  Format = "tar.bz2"
	FormatUnknown Format = ""
)

// Magic-byte signatures. Monitored sources routinely mislabel files, so
// signatures are checked before the filename extension.
var (
	magicZip      = []byte{0x50, 0x4b, 0x03, 0x04}
	magicZipEmpty = []byte{0x50, 0x4b, 0x05, 0x06}
	magicRar      = []byte{0x52, 0x61, 0x72, 0x21, 0x1a, 0x07} // covers RAR4 and RAR5
	magic7z       = []byte{0x37, 0x7a, 0xbc, 0xaf, 0x27, 0x1c}
	magicGzip     = []byte{0x1f, 0x8b}
	magicBzip2    = []byte{0x42, 0x5a, 0x68}
	magicTar      = []byte("ustar") // at offset 257
)

const tarMagicOffset = 257

// DetectFormat classifies raw bytes into a container format. Signature
// detection wins; the filename extension is consulted only when the
// signature is inconclusive. FormatUnknown means the bytes are not a
// recognized container.
func DetectFormat(filename string, data []byte) Format {
	if f := signatureFormat(data); f != FormatUnknown {
		return f
	}
	return formatFromExtension(filename)
}

// signatureFormat classifies by magic bytes alone. The decoder uses this
// for nested entries, whose bytes are fully available: a text file that
// merely happens to be named combo.zip must not be treated as an archive.
func signatureFormat(data []byte) Format {
	switch {
	case bytes.HasPrefix(data, magicZip), bytes.HasPrefix(data, magicZipEmpty):
		return FormatZip
	case bytes.HasPrefix(data, magicRar):
		return FormatRAR
	case bytes.HasPrefix(data, magic7z):
		return Format7z
	case bytes.HasPrefix(data, magicGzip):
		return FormatTarGz
	case bytes.HasPrefix(data, magicBzip2):
		return FormatTarBz2
	case len(data) > tarMagicOffset+len(magicTar) &&
		bytes.Equal(data[tarMagicOffset:tarMagicOffset+len(magicTar)], magicTar):
		return FormatTar
	}
	return FormatUnknown
}

// formatFromExtension maps a filename to a format. Used as a fallback and
// by the feed poller to gate which attachments are worth downloading.
func formatFromExtension(filename string) Format {
	name := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(name, ".zip"):
		return FormatZip
	case strings.HasSuffix(name, ".rar"):
		return FormatRAR
	case strings.HasSuffix(name, ".7z"):
		return Format7z
	case strings.HasSuffix(name, ".tar.gz"), strings.HasSuffix(name, ".tgz"):
		return FormatTarGz
	case strings.HasSuffix(name, ".tar.bz2"), strings.HasSuffix(name, ".tbz2"):
		return FormatTarBz2
	case strings.HasSuffix(name, ".tar"):
		return FormatTar
	}
	return FormatUnknown
}

// IsArchiveFilename reports whether a filename looks like a supported
// container. The decoder still verifies by signature before extraction.
func IsArchiveFilename(filename string) bool {
	return formatFromExtension(filename) != FormatUnknown
}
