package registry

import (
	"bufio"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/hyperjump/wayfarer/internal/config"
	"github.com/hyperjump/wayfarer/internal/models"
)

// Metadata is the content of a layer metadata file: the SHA-256 of the vector file the
// chunks were written with, then the chunks in vector order.
type Metadata struct {
	VectorsSHA256 string
	Chunks        []models.Chunk
}

type metadataHeader struct {
	VectorsSHA256 string `json:"vectors_sha256"`
}

// ReadMetadata reads a layer metadata file. The first non-blank line is the header
// {"vectors_sha256": ...}; every following line is one JSON chunk record. Blank lines are
// ignored. A missing header, an unparsable line or an unknown layer name fails the read.
func ReadMetadata(path string) (*Metadata, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open metadata: %w", err)
	}
	defer file.Close()

	scanner := bufio.NewScanner(file)
	buf := make([]byte, 0, 64*1024)
	scanner.Buffer(buf, 8*1024*1024)

	md := &Metadata{}
	headerSeen := false
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		if !headerSeen {
			var h metadataHeader
			if err := json.Unmarshal([]byte(line), &h); err != nil || h.VectorsSHA256 == "" {
				return nil, fmt.Errorf("metadata line %d: missing vectors_sha256 header", lineNo)
			}
			md.VectorsSHA256 = h.VectorsSHA256
			headerSeen = true
			continue
		}
		var c models.Chunk
		if err := json.Unmarshal([]byte(line), &c); err != nil {
			return nil, fmt.Errorf("parse metadata line %d: %w", lineNo, err)
		}
		if c.ID == "" {
			return nil, fmt.Errorf("metadata line %d: missing id", lineNo)
		}
		md.Chunks = append(md.Chunks, c)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read metadata: %w", err)
	}
	if !headerSeen {
		return nil, fmt.Errorf("metadata is empty: missing vectors_sha256 header")
	}
	return md, nil
}

// WriteMetadata writes the header line and then chunks to path as JSON lines, in order.
func WriteMetadata(path, vectorsSHA256 string, chunks []models.Chunk) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("create metadata dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create metadata: %w", err)
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(metadataHeader{VectorsSHA256: vectorsSHA256}); err != nil {
		_ = f.Close()
		return fmt.Errorf("encode metadata header: %w", err)
	}
	for _, c := range chunks {
		if err := enc.Encode(c); err != nil {
			_ = f.Close()
			return fmt.Errorf("encode chunk %s: %w", c.ID, err)
		}
	}
	if err := w.Flush(); err != nil {
		_ = f.Close()
		return fmt.Errorf("flush metadata: %w", err)
	}
	return f.Close()
}

// FileSHA256 returns the hex SHA-256 of the file at path.
func FileSHA256(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// WriteLayer persists li to files. Both files are written next to their targets and then
// renamed into place, vectors first. The metadata header carries the digest of the vector
// file, so a pair left mixed by a crash between the renames fails to load.
func WriteLayer(files config.LayerFiles, li *LayerIndex) error {
	vecTmp := files.Vectors + ".tmp"
	metaTmp := files.Metadata + ".tmp"
	if err := li.index.Save(vecTmp); err != nil {
		return fmt.Errorf("write vectors: %w", err)
	}
	digest, err := FileSHA256(vecTmp)
	if err != nil {
		_ = os.Remove(vecTmp)
		return fmt.Errorf("hash vectors: %w", err)
	}
	if err := WriteMetadata(metaTmp, digest, li.chunks); err != nil {
		_ = os.Remove(vecTmp)
		return fmt.Errorf("write metadata: %w", err)
	}
	if err := os.Rename(vecTmp, files.Vectors); err != nil {
		_ = os.Remove(vecTmp)
		_ = os.Remove(metaTmp)
		return fmt.Errorf("install vectors: %w", err)
	}
	if err := os.Rename(metaTmp, files.Metadata); err != nil {
		_ = os.Remove(metaTmp)
		return fmt.Errorf("install metadata: %w", err)
	}
	return nil
}
