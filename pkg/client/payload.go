package client

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"

	"github.com/labring/testreport/pkg/common"
)

const (
	// JSONRequestPart is the multipart field carrying the array of log events
	JSONRequestPart = "json_request_part"
	// BinaryPartField is the multipart field carrying each attachment
	BinaryPartField = "file"
	// DefaultContentType is used for attachments without a content type
	DefaultContentType = "application/octet-stream"
)

// BinaryPart is one attachment of a log batch
type BinaryPart struct {
	FieldName   string
	FileName    string
	ContentType string
	Content     []byte
}

// LogPayload is one log batch: an ordered metadata array plus one binary part
// per event that carries an attachment.
type LogPayload struct {
	Requests []*common.SaveLogRQ
	Files    []BinaryPart
}

// NewLogPayload builds the payload for a batch of resolved events
func NewLogPayload(rqs []*common.SaveLogRQ) *LogPayload {
	payload := &LogPayload{Requests: rqs}
	for _, rq := range rqs {
		if rq == nil || rq.File == nil {
			continue
		}
		contentType := rq.File.ContentType
		if contentType == "" {
			contentType = DefaultContentType
		}
		payload.Files = append(payload.Files, BinaryPart{
			FieldName:   BinaryPartField,
			FileName:    rq.File.Name,
			ContentType: contentType,
			Content:     rq.File.Content,
		})
	}
	return payload
}

// WriteMultipart encodes the payload as multipart/form-data and returns the content type
func (p *LogPayload) WriteMultipart(w io.Writer) (string, error) {
	mw := multipart.NewWriter(w)

	meta, err := json.Marshal(p.Requests)
	if err != nil {
		return "", fmt.Errorf("failed to encode log requests: %w", err)
	}

	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"`, JSONRequestPart))
	header.Set("Content-Type", "application/json")
	part, err := mw.CreatePart(header)
	if err != nil {
		return "", err
	}
	if _, err := part.Write(meta); err != nil {
		return "", err
	}

	for _, file := range p.Files {
		header := make(textproto.MIMEHeader)
		header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="%s"; filename="%s"`, file.FieldName, escapeQuotes(file.FileName)))
		header.Set("Content-Type", file.ContentType)
		part, err := mw.CreatePart(header)
		if err != nil {
			return "", err
		}
		if _, err := io.Copy(part, bytes.NewReader(file.Content)); err != nil {
			return "", err
		}
	}

	if err := mw.Close(); err != nil {
		return "", err
	}
	return mw.FormDataContentType(), nil
}

func escapeQuotes(s string) string {
	var b bytes.Buffer
	for _, r := range s {
		if r == '\\' || r == '"' {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
