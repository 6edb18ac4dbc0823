package upload

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"legalease/internal/logging"
	"legalease/internal/models"
	"legalease/internal/remote"
	"legalease/internal/worker"

	"go.uber.org/zap"
)

const (
	PDFContentType = "application/pdf"

	MaxFileBytes  = 10 << 20 // 10 MB
	MaxBatchBytes = 50 << 20

	DefaultTTL = time.Hour
)

var (
	ErrNoFiles         = errors.New("no files selected")
	ErrUnsupportedType = errors.New("only PDF files can be uploaded")
	ErrTooLarge        = errors.New("upload too large")
)

// Forwarder sends a batch of PDFs upstream in one request.
type Forwarder interface {
	UploadPDFs(ctx context.Context, files []remote.UploadFile) error
}

// Scheduler runs jobs off the request goroutine.
type Scheduler interface {
	Submit(job worker.Job) error
}

// Service stages selected PDFs and forwards them upstream without waiting.
type Service struct {
	db        *sql.DB
	forwarder Forwarder
	scheduler Scheduler
	baseDir   string
	ttl       time.Duration
	notify    func(sessionID string)
}

func NewService(db *sql.DB, forwarder Forwarder, scheduler Scheduler, baseDir string, ttl time.Duration) *Service {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Service{
		db:        db,
		forwarder: forwarder,
		scheduler: scheduler,
		baseDir:   baseDir,
		ttl:       ttl,
	}
}

// OnSettled registers fn to run after a batch is forwarded or failed.
func (s *Service) OnSettled(fn func(sessionID string)) {
	s.notify = fn
}

// Accept stages files and schedules one upstream upload for all of them.
// The batch is rejected as a whole when any file is not a PDF.
func (s *Service) Accept(ctx context.Context, sessionID string, files []*multipart.FileHeader) ([]*models.Document, error) {
	if len(files) == 0 {
		return nil, ErrNoFiles
	}
	var total int64
	for _, fh := range files {
		if fh.Size > MaxFileBytes {
			return nil, fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, fh.Filename, MaxFileBytes)
		}
		total += fh.Size
		if err := checkPDF(fh); err != nil {
			return nil, err
		}
	}
	if total > MaxBatchBytes {
		return nil, fmt.Errorf("%w: batch exceeds %d bytes", ErrTooLarge, MaxBatchBytes)
	}

	docs := make([]*models.Document, 0, len(files))
	for _, fh := range files {
		doc, err := s.stage(ctx, sessionID, fh)
		if err != nil {
			s.markFailed(ctx, docs, err)
			return nil, err
		}
		docs = append(docs, doc)
	}

	job := worker.Job{
		Key:   sessionID,
		Name:  "upload",
		Run:   func(ctx context.Context) { s.forward(ctx, sessionID, docs) },
		Abort: func(err error) { s.markFailed(context.Background(), docs, err) },
	}
	if err := s.scheduler.Submit(job); err != nil {
		s.markFailed(ctx, docs, err)
		return nil, err
	}
	logging.WithCtx(ctx).Info("upload scheduled", zap.String("session_id", sessionID), zap.Int("files", len(docs)))
	return docs, nil
}

func checkPDF(fh *multipart.FileHeader) error {
	f, err := fh.Open()
	if err != nil {
		return fmt.Errorf("open %s: %w", fh.Filename, err)
	}
	defer f.Close()
	buf := make([]byte, 512)
	n, _ := io.ReadFull(f, buf)
	if http.DetectContentType(buf[:n]) != PDFContentType {
		return fmt.Errorf("%w: %s", ErrUnsupportedType, fh.Filename)
	}
	return nil
}

func (s *Service) stage(ctx context.Context, sessionID string, fh *multipart.FileHeader) (*models.Document, error) {
	name := filepath.Base(fh.Filename)
	destDir, destPath, finalName := getUniqueFilePath(s.baseDir, sessionID, name)
	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return nil, fmt.Errorf("create directory: %w", err)
	}
	if err := saveUploadedFile(fh, destPath); err != nil {
		return nil, fmt.Errorf("save %s: %w", name, err)
	}

	now := time.Now().UTC()
	doc := &models.Document{
		SessionID:  sessionID,
		FileName:   finalName,
		StoredPath: destPath,
		MimeType:   PDFContentType,
		Size:       fh.Size,
		Pages:      pageCount(destPath),
		Status:     models.DocumentPending,
		CreatedAt:  now,
		ExpiresAt:  now.Add(s.ttl),
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (session_id, file_name, stored_path, mime_type, size, pages, status, error, created_at, expires_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		doc.SessionID, doc.FileName, doc.StoredPath, doc.MimeType, doc.Size, doc.Pages, doc.Status, "", doc.CreatedAt, doc.ExpiresAt,
	)
	if err != nil {
		os.Remove(destPath)
		return nil, fmt.Errorf("record document: %w", err)
	}
	if doc.ID, err = res.LastInsertId(); err != nil {
		return nil, fmt.Errorf("document id: %w", err)
	}
	return doc, nil
}

func (s *Service) forward(ctx context.Context, sessionID string, docs []*models.Document) {
	logger := logging.WithCtx(ctx).With(zap.String("session_id", sessionID))
	files := make([]remote.UploadFile, 0, len(docs))
	var opened []*os.File
	defer func() {
		for _, f := range opened {
			f.Close()
		}
	}()
	for _, doc := range docs {
		f, err := os.Open(doc.StoredPath)
		if err != nil {
			logger.Error("open staged file", zap.String("file", doc.FileName), zap.Error(err))
			s.markFailed(ctx, docs, err)
			return
		}
		opened = append(opened, f)
		files = append(files, remote.UploadFile{Name: doc.FileName, Reader: f})
	}

	if err := s.forwarder.UploadPDFs(ctx, files); err != nil {
		logger.Warn("upload forward failed", zap.Error(err))
		s.markFailed(ctx, docs, err)
		return
	}
	s.setStatus(ctx, docs, models.DocumentForwarded, "")
	logger.Info("upload forwarded", zap.Int("files", len(docs)))
}

func (s *Service) markFailed(ctx context.Context, docs []*models.Document, cause error) {
	s.setStatus(ctx, docs, models.DocumentFailed, cause.Error())
}

func (s *Service) setStatus(ctx context.Context, docs []*models.Document, status models.DocumentStatus, reason string) {
	if len(docs) == 0 {
		return
	}
	ctx = context.WithoutCancel(ctx)
	for _, doc := range docs {
		if _, err := s.db.ExecContext(ctx, `UPDATE documents SET status = ?, error = ? WHERE id = ?`, status, reason, doc.ID); err != nil {
			logging.WithCtx(ctx).Error("update document status", zap.Int64("document_id", doc.ID), zap.Error(err))
		}
	}
	if s.notify != nil {
		s.notify(docs[0].SessionID)
	}
}

// List returns the documents of a session, newest first.
func (s *Service) List(ctx context.Context, sessionID string) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, file_name, stored_path, mime_type, size, pages, status, error, created_at, expires_at
		FROM documents WHERE session_id = ? ORDER BY id DESC`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer rows.Close()

	docs := []*models.Document{}
	for rows.Next() {
		doc := new(models.Document)
		if err := rows.Scan(&doc.ID, &doc.SessionID, &doc.FileName, &doc.StoredPath, &doc.MimeType,
			&doc.Size, &doc.Pages, &doc.Status, &doc.Error, &doc.CreatedAt, &doc.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, doc)
	}
	return docs, rows.Err()
}

// Purge removes every staged file and record of a session.
func (s *Service) Purge(ctx context.Context, sessionID string) error {
	if strings.TrimSpace(sessionID) == "" {
		return errors.New("session id is required")
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM documents WHERE session_id = ?`, sessionID); err != nil {
		return fmt.Errorf("delete documents: %w", err)
	}
	if err := os.RemoveAll(sessionDir(s.baseDir, sessionID)); err != nil {
		return fmt.Errorf("remove staged files: %w", err)
	}
	return nil
}
