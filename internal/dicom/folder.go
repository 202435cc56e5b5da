// Package dicom reads CT series for projection and writes synthetic ones.
package dicom

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	preambleSize = 128
	magic        = "DICM"
)

// IsDICOMFile reports whether path looks like a DICOM file: either its
// preamble is followed by the DICM magic, or its name ends in .dcm.
func IsDICOMFile(path string) bool {
	if strings.EqualFold(filepath.Ext(path), ".dcm") {
		return true
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer func() { _ = f.Close() }()

	header := make([]byte, preambleSize+len(magic))
	if _, err := io.ReadFull(f, header); err != nil {
		return false
	}
	return bytes.Equal(header[preambleSize:], []byte(magic))
}

// LargestSeriesFolder returns the directory under patientDir (itself
// included) that directly holds the most DICOM files. It returns "" when
// no directory holds any. Ties go to the directory reached first in
// lexical walk order.
func LargestSeriesFolder(patientDir string) (string, error) {
	best, bestCount := "", 0
	err := filepath.WalkDir(patientDir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		n, err := countDICOMFiles(path)
		if err != nil {
			return err
		}
		if n > bestCount {
			best, bestCount = path, n
		}
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("scan %s: %w", patientDir, err)
	}
	return best, nil
}

// DICOMFiles lists the DICOM files directly inside dir, sorted by name.
func DICOMFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.Type().IsRegular() {
			continue
		}
		path := filepath.Join(dir, e.Name())
		if IsDICOMFile(path) {
			files = append(files, path)
		}
	}
	return files, nil
}

func countDICOMFiles(dir string) (int, error) {
	files, err := DICOMFiles(dir)
	if err != nil {
		return 0, err
	}
	return len(files), nil
}
