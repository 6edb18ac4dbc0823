package upload

import (
	"fmt"
	"io"
	"mime/multipart"
	"os"
	"path/filepath"
	"strings"
	"time"

	"legalease/internal/logging"

	"github.com/ledongthuc/pdf"
	"go.uber.org/zap"
)

func sessionDir(baseDir, sessionID string) string {
	return filepath.Join(baseDir, filepath.Base(sessionID))
}

func getFilePath(baseDir, sessionID, filename string) (string, string) {
	destDir := sessionDir(baseDir, sessionID)
	return destDir, filepath.Join(destDir, filename)
}

func getUniqueFilePath(baseDir, sessionID, filename string) (string, string, string) {
	destDir, destPath := getFilePath(baseDir, sessionID, filename)
	if _, err := os.Stat(destPath); os.IsNotExist(err) {
		return destDir, destPath, filename
	}
	ext := filepath.Ext(filename)
	base := strings.TrimSuffix(filename, ext)
	for idx := 1; idx <= 1000; idx++ {
		candidate := fmt.Sprintf("%s (%d)%s", base, idx, ext)
		dir, path := getFilePath(baseDir, sessionID, candidate)
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return dir, path, candidate
		}
	}
	fallback := fmt.Sprintf("%s-%d%s", base, time.Now().UnixNano(), ext)
	return destDir, filepath.Join(destDir, fallback), fallback
}

func saveUploadedFile(fh *multipart.FileHeader, dst string) error {
	src, err := fh.Open()
	if err != nil {
		return err
	}
	defer src.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, src); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	return out.Close()
}

// pageCount reads the page tree of a staged PDF; 0 when it cannot be parsed.
func pageCount(path string) (pages int) {
	defer func() {
		// the parser panics on some malformed documents
		if r := recover(); r != nil {
			logging.L().Warn("pdf parser panicked", zap.String("path", path), zap.Any("panic", r))
			pages = 0
		}
	}()
	f, reader, err := pdf.Open(path)
	if err != nil {
		return 0
	}
	defer f.Close()
	return reader.NumPage()
}
