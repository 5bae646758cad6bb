package clipboard

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	uploadField        = "file"
	defaultContentType = "application/octet-stream"
	// multipartOverhead is the allowance on top of the file size for boundaries, part headers and
	// any small non-file fields sent alongside the file.
	multipartOverhead = 1 << 20
)

var (
	// ErrNoFile is returned when an upload request carries no file part.
	ErrNoFile = errors.New("no file in upload")
	// ErrTooManyFiles is returned when an upload request carries more than one file part.
	ErrTooManyFiles = errors.New("more than one file in upload")
	// ErrFileTooLarge is returned when the file part exceeds the configured limit.
	ErrFileTooLarge = errors.New("file too large")
)

var dispositionEscaper = strings.NewReplacer(`\`, `\\`, `"`, `\"`)

func connAttr(c *Conn) attribute.KeyValue {
	return attribute.String("clipboard.conn", c.ID())
}

// readUpload streams the multipart body and returns the single file part held fully in memory.
// Nothing is written to disk, and nothing is returned unless the whole part was received.
func readUpload(request *http.Request, limit int64) (*File, error) {
	mr, err := request.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNoFile, err)
	}
	var file *File
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, fmt.Errorf("failed to read multipart body: %w", err)
		}
		if part.FormName() != uploadField || part.FileName() == "" {
			_ = part.Close()
			continue
		}
		if file != nil {
			_ = part.Close()
			return nil, ErrTooManyFiles
		}
		data, err := io.ReadAll(io.LimitReader(part, limit+1))
		_ = part.Close()
		if err != nil {
			return nil, fmt.Errorf("failed to read file part: %w", err)
		}
		if int64(len(data)) > limit {
			return nil, fmt.Errorf("%w: limit is %s", ErrFileTooLarge, humanize.IBytes(uint64(limit)))
		}
		contentType := part.Header.Get("Content-Type")
		if contentType == "" {
			contentType = defaultContentType
		}
		file = &File{Name: part.FileName(), ContentType: contentType, Data: data}
	}
	if file == nil {
		return nil, ErrNoFile
	}
	return file, nil
}

func (s *Server) upload(writer http.ResponseWriter, request *http.Request) {
	_, span := s.tracer.Start(request.Context(), "clipboard.upload")
	defer span.End()

	request.Body = http.MaxBytesReader(writer, request.Body, s.config.MaxUploadSize+multipartOverhead)
	f, err := readUpload(request, s.config.MaxUploadSize)
	if err != nil {
		status := http.StatusBadRequest
		message := "Failed to read upload"
		var maxBytesErr *http.MaxBytesError
		switch {
		case errors.Is(err, ErrNoFile):
			message = "No file"
		case errors.Is(err, ErrTooManyFiles):
			message = "Only one file may be uploaded"
		case errors.Is(err, ErrFileTooLarge) || errors.As(err, &maxBytesErr):
			status = http.StatusRequestEntityTooLarge
			message = "File too large"
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, message)
		s.metrics.fileOpsTotal.WithLabelValues("upload", strconv.Itoa(status)).Inc()
		slog.Warn("rejected upload", "err", err)
		http.Error(writer, message, status)
		return
	}

	queued := s.setFile(f)
	span.SetAttributes(
		attribute.String("file.name", f.Name),
		attribute.String("file.content_type", f.ContentType),
		attribute.Int("file.size", len(f.Data)),
	)
	s.metrics.fileOpsTotal.WithLabelValues("upload", strconv.Itoa(http.StatusOK)).Inc()
	s.metrics.uploadedBytes.Add(float64(len(f.Data)))
	slog.Info("file uploaded", "name", f.Name, "type", f.ContentType, "size", humanize.IBytes(uint64(len(f.Data))), "queued", queued)
	writeJSON(writer, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) deleteFile(writer http.ResponseWriter, request *http.Request) {
	_, span := s.tracer.Start(request.Context(), "clipboard.delete")
	defer span.End()

	if !s.clearFile() {
		span.SetAttributes(attribute.Bool("file.present", false))
		s.metrics.fileOpsTotal.WithLabelValues("delete", strconv.Itoa(http.StatusNotFound)).Inc()
		http.Error(writer, "No file to delete", http.StatusNotFound)
		return
	}
	s.metrics.fileOpsTotal.WithLabelValues("delete", strconv.Itoa(http.StatusOK)).Inc()
	slog.Info("file deleted")
	writeJSON(writer, http.StatusOK, map[string]bool{"success": true})
}

func (s *Server) download(writer http.ResponseWriter, request *http.Request) {
	_, span := s.tracer.Start(request.Context(), "clipboard.download", trace.WithSpanKind(trace.SpanKindServer))
	defer span.End()

	f := s.store.File()
	if f == nil {
		s.metrics.fileOpsTotal.WithLabelValues("download", strconv.Itoa(http.StatusNotFound)).Inc()
		http.Error(writer, "No file", http.StatusNotFound)
		return
	}
	span.SetAttributes(attribute.String("file.name", f.Name), attribute.Int("file.size", len(f.Data)))
	s.metrics.fileOpsTotal.WithLabelValues("download", strconv.Itoa(http.StatusOK)).Inc()
	writer.Header().Set("Content-Type", f.ContentType)
	writer.Header().Set("Content-Disposition", contentDisposition(f.Name))
	http.ServeContent(writer, request, "", time.Time{}, bytes.NewReader(f.Data))
}

// contentDisposition builds an attachment header with the name quoted as is. Names outside ASCII
// also get an RFC 5987 filename* parameter.
func contentDisposition(name string) string {
	v := `attachment; filename="` + dispositionEscaper.Replace(name) + `"`
	for i := 0; i < len(name); i++ {
		if name[i] >= 0x80 {
			return v + "; filename*=UTF-8''" + url.PathEscape(name)
		}
	}
	return v
}
