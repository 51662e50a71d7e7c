package formstream

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultBoundary is the boundary token used when none is configured.
const DefaultBoundary = "----CaptureflowBoundary"

// FilenameLayout formats a capture time as YYYYMMDD-HHMMSS.
const FilenameLayout = "20060102-150405"

// Filename derives the upload filename from the capture wall-clock time.
func Filename(t time.Time) string {
	return t.Format(FilenameLayout)
}

// ContentType returns the request Content-Type for boundary.
func ContentType(boundary string) string {
	return "multipart/form-data; boundary=" + boundary
}

// ValidateBoundary checks boundary against the RFC 2046 character set and length.
func ValidateBoundary(boundary string) error {
	if boundary == "" {
		return errors.New("boundary token cannot be empty")
	}
	if len(boundary) > 70 {
		return fmt.Errorf("boundary token is %d characters, limit is 70", len(boundary))
	}
	if strings.HasSuffix(boundary, " ") {
		return errors.New("boundary token cannot end with a space")
	}
	for _, r := range boundary {
		switch {
		case 'a' <= r && r <= 'z', 'A' <= r && r <= 'Z', '0' <= r && r <= '9':
		case strings.ContainsRune("'()+_,-./:=? ", r):
		default:
			return fmt.Errorf("boundary token contains invalid character %q", r)
		}
	}
	return nil
}

// Header returns the form text that precedes the image bytes: a "name" field
// carrying filename, then the headers of the "image" file part.
func Header(boundary, filename string) string {
	var b strings.Builder
	b.WriteString("--" + boundary + "\r\n")
	b.WriteString("Content-Disposition: form-data; name=\"name\"\r\n\r\n")
	b.WriteString(filename + "\r\n")
	b.WriteString("--" + boundary + "\r\n")
	b.WriteString("Content-Disposition: form-data; name=\"image\"; filename=\"" + filename + "\"\r\n")
	b.WriteString("Content-Type: image/jpeg\r\n\r\n")
	return b.String()
}

// Trailer returns the text that closes the image part and the form.
func Trailer(boundary string) string {
	return "\r\n--" + boundary + "--\r\n"
}

// ImageForm streams a single JPEG as a multipart form upload.
type ImageForm struct {
	*SegmentStream
	boundary string
	filename string
}

// NewImageForm lays out header, image and trailer for jpeg. The image bytes are
// referenced, not copied.
func NewImageForm(boundary, filename string, jpeg []byte, opts ...Option) *ImageForm {
	return &ImageForm{
		SegmentStream: NewSegmentStream([]byte(Header(boundary, filename)), jpeg, []byte(Trailer(boundary)), opts...),
		boundary:      boundary,
		filename:      filename,
	}
}

// ContentType returns the Content-Type header value for this form.
func (f *ImageForm) ContentType() string { return ContentType(f.boundary) }

// Filename returns the filename announced in the form.
func (f *ImageForm) Filename() string { return f.filename }
