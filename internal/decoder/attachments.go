package decoder

import (
	"encoding/base64"
	"io"
	"mime"
	"mime/multipart"
	"strings"

	"github.com/mailcorpus/mailcorpus/internal/charset"
)

const defaultContentType = "application/octet-stream"

// extractAttachment reads one attachment part. Filename decoding falls
// back to a numbered placeholder, a missing content type defaults to
// binary, and a payload that fails to decode yields empty bytes: the
// record survives so siblings and the parent message are unaffected.
func extractAttachment(part *multipart.Part, index int) (Attachment, bool) {
	filename := part.FileName()
	if filename == "" {
		_, params, err := mime.ParseMediaType(part.Header.Get("Content-Type"))
		if err == nil {
			filename = params["name"]
		}
	}

	contentType := part.Header.Get("Content-Type")
	if contentType != "" {
		if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
			contentType = mediaType
		}
	}
	if contentType == "" {
		contentType = defaultContentType
	}

	content := readAttachmentPayload(part)

	return Attachment{
		Filename:    charset.SanitizeFilename(filename, index),
		ContentType: contentType,
		Content:     content,
		Size:        int64(len(content)),
	}, true
}

// readAttachmentPayload decodes the part body to raw bytes. Truncated
// base64 keeps whatever prefix decoded; a hard failure yields empty bytes.
func readAttachmentPayload(part *multipart.Part) []byte {
	var r io.Reader = part
	encoding := strings.ToLower(strings.TrimSpace(
		part.Header.Get("Content-Transfer-Encoding")))
	if encoding == "base64" {
		r = base64.NewDecoder(base64.StdEncoding, part)
	}
	data, err := io.ReadAll(r)
	if err != nil && len(data) == 0 {
		return []byte{}
	}
	return data
}
