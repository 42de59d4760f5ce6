package logs

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/labring/testreport/pkg/client"
	"github.com/labring/testreport/pkg/common"
	apierrors "github.com/labring/testreport/pkg/errors"
	"github.com/labring/testreport/pkg/router"
	"github.com/labring/testreport/pkg/store"
)

// maxMemory is how much of a multipart request is kept in memory before spilling to disk
const maxMemory = 32 << 20

// LogHandler handles log batch uploads and log queries
type LogHandler struct {
	store         *store.Store
	maxUploadSize int64
}

// NewLogHandler creates a new log handler
func NewLogHandler(s *store.Store, maxUploadSize int64) *LogHandler {
	return &LogHandler{
		store:         s,
		maxUploadSize: maxUploadSize,
	}
}

// SaveLogs handles POST /api/v1/:project/log. Batches arrive as multipart
// requests; a plain JSON array of events without attachments is accepted too.
func (h *LogHandler) SaveLogs(w http.ResponseWriter, r *http.Request) {
	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))

	var rqs []*common.SaveLogRQ
	var files map[string][]*store.Attachment

	switch mediaType {
	case "application/json":
		if err := common.ParseJSONBodyReturn(w, r, &rqs); err != nil {
			return
		}
	case "multipart/form-data":
		var env *apierrors.ErrorEnvelope
		rqs, files, env = h.parseMultipart(w, r)
		if env != nil {
			apierrors.WriteError(w, env)
			return
		}
	default:
		apierrors.WriteError(w, apierrors.NewIncorrectRequestError("Unsupported content type '%s'", mediaType))
		return
	}

	if len(rqs) == 0 {
		apierrors.WriteError(w, apierrors.NewIncorrectRequestError("Log batch is empty"))
		return
	}

	results := h.store.SaveLogs(rqs, files)
	slog.Debug("log batch saved", slog.Int("events", len(rqs)), slog.Int("attachments", countFiles(files)))

	common.WriteJSONResponse(w, http.StatusCreated, common.BatchSaveOperatingRS{Responses: results})
}

func (h *LogHandler) parseMultipart(w http.ResponseWriter, r *http.Request) ([]*common.SaveLogRQ, map[string][]*store.Attachment, *apierrors.ErrorEnvelope) {
	if h.maxUploadSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadSize)
	}

	if err := r.ParseMultipartForm(maxMemory); err != nil {
		return nil, nil, apierrors.NewIncorrectRequestError("Failed to parse multipart form: %v", err)
	}
	defer r.MultipartForm.RemoveAll()

	values := r.MultipartForm.Value[client.JSONRequestPart]
	if len(values) != 1 {
		return nil, nil, apierrors.NewIncorrectRequestError("Expected exactly one '%s' part, got %d", client.JSONRequestPart, len(values))
	}

	var rqs []*common.SaveLogRQ
	if err := json.Unmarshal([]byte(values[0]), &rqs); err != nil {
		return nil, nil, apierrors.NewIncorrectRequestError("Invalid '%s' part: %v", client.JSONRequestPart, err)
	}

	files := make(map[string][]*store.Attachment)
	for _, header := range r.MultipartForm.File[client.BinaryPartField] {
		att, err := readAttachment(header)
		if err != nil {
			return nil, nil, apierrors.NewIncorrectRequestError("Failed to read attachment %s: %v", header.Filename, err)
		}
		files[att.Name] = append(files[att.Name], att)
	}

	return rqs, files, nil
}

func readAttachment(header *multipart.FileHeader) (*store.Attachment, error) {
	f, err := header.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = client.DefaultContentType
	}

	return &store.Attachment{
		Name:        header.Filename,
		ContentType: contentType,
		Size:        len(data),
		Data:        data,
	}, nil
}

func countFiles(files map[string][]*store.Attachment) int {
	n := 0
	for _, queue := range files {
		n += len(queue)
	}
	return n
}

// ItemLogs handles GET /api/v1/:project/item/:id/log?tail=N
func (h *LogHandler) ItemLogs(w http.ResponseWriter, r *http.Request) {
	id := router.Param(r, "id")
	if _, err := h.store.Item(id); err != nil {
		apierrors.WriteError(w, apierrors.NewNotFoundError("Test item", id))
		return
	}

	tail, err := parseTail(r)
	if err != nil {
		apierrors.WriteError(w, apierrors.NewIncorrectRequestError("%v", err))
		return
	}

	common.WriteSuccessResponse(w, h.store.ItemLogs(id, tail))
}

// Attachment handles GET /api/v1/:project/item/:id/log/:log/attachment
func (h *LogHandler) Attachment(w http.ResponseWriter, r *http.Request) {
	itemID := router.Param(r, "id")
	logID := router.Param(r, "log")

	for _, record := range h.store.ItemLogs(itemID, 0) {
		if record.ID != logID {
			continue
		}
		if record.Attachment == nil || record.Attachment.Data == nil {
			break
		}
		w.Header().Set("Content-Type", record.Attachment.ContentType)
		w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": record.Attachment.Name}))
		w.Header().Set("Content-Length", strconv.Itoa(record.Attachment.Size))
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write(record.Attachment.Data)
		return
	}

	apierrors.WriteError(w, apierrors.NewNotFoundError("Attachment of log", logID))
}

func parseTail(r *http.Request) (int, error) {
	raw := r.URL.Query().Get("tail")
	if raw == "" {
		return 0, nil
	}
	tail, err := strconv.Atoi(raw)
	if err != nil || tail < 0 {
		return 0, fmt.Errorf("invalid tail parameter '%s'", raw)
	}
	return tail, nil
}
