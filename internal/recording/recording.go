// Copyright 2025 Marc-Antoine Ruel. All rights reserved.
// Use of this source code is governed under the Apache License, Version 2.0
// that can be found in the LICENSE file.

// Package recording converts raw HTTP fields into the canonical
// RecordedRequest / RecordedResponse values persisted inside a cassette.
//
// Every function here is a pure conversion over byte inputs: no I/O, no
// failure modes beyond the configured body-size limit.
package recording

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"

	"github.com/maruel/vcrproxy"
)

// Redacted is the placeholder substituted for sensitive header values
// before persisting a cassette. The live response returned to the caller is
// never modified.
const Redacted = "[REDACTED]"

// ErrBodyTooLarge is returned by BuildRequest/BuildResponse when body
// exceeds the configured maxBodySize. The caller decides how to surface
// this (the Dispatcher turns it into a 413 response).
var ErrBodyTooLarge = errors.New("recording: body exceeds max_body_size")

var textContentTypes = []string{
	"application/json",
	"text/",
	"application/xml",
	"application/x-www-form-urlencoded",
}

// IsTextContent reports whether a body with this content type should be
// stored as UTF-8 text rather than base64. A nil/empty content type is
// treated as text, matching the reference behavior of trusting bodies by
// default unless told otherwise.
func IsTextContent(contentType string) bool {
	if contentType == "" {
		return true
	}
	for _, t := range textContentTypes {
		if strings.Contains(contentType, t) {
			return true
		}
	}
	return false
}

// BuildRequest constructs a RecordedRequest from raw HTTP components.
//
// queryString is the raw (undecoded) query string, without a leading '?'.
// headers keys may be any case; they are lowercased on storage. sensitive
// reports whether a (lowercased) header name must be redacted. maxBodySize
// of 0 means unlimited.
func BuildRequest(method, path, queryString string, headers map[string]string, body []byte, sensitive func(lowerHeader string) bool, maxBodySize int) (vcrproxy.RecordedRequest, error) {
	if maxBodySize > 0 && len(body) > maxBodySize {
		return vcrproxy.RecordedRequest{}, fmt.Errorf("%w: %d bytes > %d", ErrBodyTooLarge, len(body), maxBodySize)
	}

	query := map[string][]string{}
	if queryString != "" {
		values, err := url.ParseQuery(queryString)
		if err == nil {
			query = values
		}
	}

	lowered := make(map[string]string, len(headers))
	var contentType *string
	for k, v := range headers {
		lk := strings.ToLower(k)
		if lk == "content-type" {
			ct := v
			contentType = &ct
		}
		if sensitive != nil && sensitive(lk) {
			v = Redacted
		}
		lowered[lk] = v
	}

	bodyStr, encoding := encodeBody(body, derefOr(contentType, ""))

	return vcrproxy.RecordedRequest{
		Method:       strings.ToUpper(method),
		Path:         path,
		Query:        query,
		Headers:      lowered,
		Body:         bodyStr,
		BodyEncoding: encoding,
		ContentType:  contentType,
	}, nil
}

// BuildResponse constructs a RecordedResponse from raw HTTP components.
// Header case is preserved, matching the reference display requirement.
func BuildResponse(status int, headers map[string]string, body []byte, sensitive func(lowerHeader string) bool, maxBodySize int) (vcrproxy.RecordedResponse, error) {
	if maxBodySize > 0 && len(body) > maxBodySize {
		return vcrproxy.RecordedResponse{}, fmt.Errorf("%w: %d bytes > %d", ErrBodyTooLarge, len(body), maxBodySize)
	}

	var contentType string
	preserved := make(map[string]string, len(headers))
	for k, v := range headers {
		if strings.ToLower(k) == "content-type" {
			contentType = v
		}
		if sensitive != nil && sensitive(strings.ToLower(k)) {
			v = Redacted
		}
		preserved[k] = v
	}

	bodyStr, encoding := encodeBody(body, contentType)
	return vcrproxy.RecordedResponse{
		StatusCode:   status,
		Headers:      preserved,
		Body:         bodyStr,
		BodyEncoding: encoding,
	}, nil
}

func encodeBody(body []byte, contentType string) (*string, string) {
	if len(body) == 0 {
		return nil, "utf-8"
	}
	if IsTextContent(contentType) {
		s := toUTF8(body)
		return &s, "utf-8"
	}
	s := base64.StdEncoding.EncodeToString(body)
	return &s, "base64"
}

// toUTF8 decodes body as UTF-8, replacing invalid sequences with the Unicode
// replacement character, matching Python's str.decode("utf-8", errors="replace").
func toUTF8(body []byte) string {
	if utf8.Valid(body) {
		return string(body)
	}
	var b strings.Builder
	b.Grow(len(body))
	for len(body) > 0 {
		r, size := utf8.DecodeRune(body)
		b.WriteRune(r)
		body = body[size:]
	}
	return b.String()
}

func derefOr(s *string, def string) string {
	if s == nil {
		return def
	}
	return *s
}
