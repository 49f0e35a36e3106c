package ingest

import (
	"os"
	"path/filepath"
	"strings"
)

const (
	// MokuroExt is the extension of the OCR sidecar data file.
	MokuroExt = ".mokuro"
	htmlExt   = ".html"
)

var imageExts = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".webp": true,
}

// ValidationResult describes what a chapter directory contains.
type ValidationResult struct {
	IsValid    bool   `json:"isValid"`
	HTMLFile   string `json:"htmlFile,omitempty"`
	MokuroFile string `json:"mokuroFile,omitempty"`
	ImageDir   string `json:"imageDir,omitempty"`
}

// ValidateChapterDir inspects the immediate children of dir. The directory is
// a valid chapter iff it holds an HTML viewer file and a .mokuro sidecar; an
// image directory is reported when present but is optional.
//
// Entries are visited in lexicographic order. When several candidates exist,
// an HTML/sidecar pair sharing a stem wins; otherwise the first of each kind.
func ValidateChapterDir(dir string) (ValidationResult, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return ValidationResult{}, ioError("validate", err)
	}

	var htmlFiles, mokuroFiles []string
	var imageDir string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() {
			if imageDir != "" {
				continue
			}
			ok, err := containsImages(filepath.Join(dir, name))
			if err != nil {
				return ValidationResult{}, ioError("validate", err)
			}
			if ok {
				imageDir = name
			}
			continue
		}
		if !entry.Type().IsRegular() {
			continue
		}
		switch strings.ToLower(filepath.Ext(name)) {
		case htmlExt:
			htmlFiles = append(htmlFiles, name)
		case MokuroExt:
			mokuroFiles = append(mokuroFiles, name)
		}
	}

	html, mokuro := pickPair(htmlFiles, mokuroFiles)
	return ValidationResult{
		IsValid:    html != "" && mokuro != "",
		HTMLFile:   html,
		MokuroFile: mokuro,
		ImageDir:   imageDir,
	}, nil
}

func pickPair(htmlFiles, mokuroFiles []string) (string, string) {
	stems := make(map[string]string, len(mokuroFiles))
	for _, m := range mokuroFiles {
		if _, ok := stems[stem(m)]; !ok {
			stems[stem(m)] = m
		}
	}
	for _, h := range htmlFiles {
		if m, ok := stems[stem(h)]; ok {
			return h, m
		}
	}
	var html, mokuro string
	if len(htmlFiles) > 0 {
		html = htmlFiles[0]
	}
	if len(mokuroFiles) > 0 {
		mokuro = mokuroFiles[0]
	}
	return html, mokuro
}

func stem(name string) string {
	return strings.TrimSuffix(name, filepath.Ext(name))
}

func containsImages(dir string) (bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return false, err
	}
	for _, entry := range entries {
		if entry.Type().IsRegular() && isImageName(entry.Name()) {
			return true, nil
		}
	}
	return false, nil
}

func isImageName(name string) bool {
	return imageExts[strings.ToLower(filepath.Ext(name))]
}
