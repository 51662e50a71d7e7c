package imagehost

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrParseFailure is returned when a response body cannot be decoded.
	ErrParseFailure = errors.New("response parse failed")
	// ErrMissingFields is returned when a decodable response lacks url or thumbnail.
	ErrMissingFields = fmt.Errorf("%w: expected fields missing", ErrParseFailure)
)

// Fields are the references extracted from a host response. A nil field is absent.
type Fields struct {
	URL          *string
	ThumbnailURL *string
}

// Complete reports whether both references are present.
func (f Fields) Complete() bool {
	return f.URL != nil && f.ThumbnailURL != nil
}

// ResponseParser extracts Fields from a host response body.
type ResponseParser interface {
	Parse(body string) (Fields, error)
}

// ParserFunc adapts a function to ResponseParser.
type ParserFunc func(body string) (Fields, error)

// Parse calls f.
func (f ParserFunc) Parse(body string) (Fields, error) { return f(body) }

type imgbbResponse struct {
	Data *struct {
		DisplayURL *string `json:"display_url"`
		Thumb      *struct {
			URL *string `json:"url"`
		} `json:"thumb"`
	} `json:"data"`
}

// ParseImgBB projects data.display_url and data.thumb.url. An undecodable body
// yields empty Fields and ErrParseFailure; a decodable body without the fields
// yields whatever was found and ErrMissingFields.
func ParseImgBB(body string) (Fields, error) {
	var resp imgbbResponse
	if err := json.Unmarshal([]byte(body), &resp); err != nil {
		return Fields{}, fmt.Errorf("%w: %w", ErrParseFailure, err)
	}

	var f Fields
	if resp.Data != nil {
		f.URL = resp.Data.DisplayURL
		if resp.Data.Thumb != nil {
			f.ThumbnailURL = resp.Data.Thumb.URL
		}
	}
	if !f.Complete() {
		return f, missing(f)
	}
	return f, nil
}

// ParseObjectResponse reads the body produced by GCSHost. The object has no
// separate thumbnail, so its URL serves as both.
func ParseObjectResponse(body string) (Fields, error) {
	var obj objectResponse
	if err := json.Unmarshal([]byte(body), &obj); err != nil {
		return Fields{}, fmt.Errorf("%w: %w", ErrParseFailure, err)
	}
	if obj.URL == "" {
		return Fields{}, missing(Fields{})
	}
	u := obj.URL
	return Fields{URL: &u, ThumbnailURL: &u}, nil
}

func missing(f Fields) error {
	var names []string
	if f.URL == nil {
		names = append(names, "url")
	}
	if f.ThumbnailURL == nil {
		names = append(names, "thumbnail url")
	}
	return fmt.Errorf("%w: %s", ErrMissingFields, strings.Join(names, ", "))
}
