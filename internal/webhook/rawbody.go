// Package webhook turns inbound Slack HTTP requests into verified, classified payloads.
package webhook

import (
	"errors"
	"fmt"
	"io"
	"net/http"
)

var (
	ErrBodyTooLarge = errors.New("request body too large")
	ErrBodyRead     = errors.New("failed to read request body")
)

// InboundRequest is an HTTP request captured with its exact body bytes.
// It is not modified after capture.
type InboundRequest struct {
	Method string
	Header http.Header
	Body   []byte
}

// ReadRequest captures r with a body of at most maxBytes
func ReadRequest(r *http.Request, maxBytes int64) (InboundRequest, error) {
	body, err := ReadBody(r.Body, maxBytes)
	if err != nil {
		return InboundRequest{}, err
	}
	return InboundRequest{
		Method: r.Method,
		Header: r.Header.Clone(),
		Body:   body,
	}, nil
}

// ReadBody reads rd to the end and returns the bytes untouched.
// A body larger than maxBytes yields ErrBodyTooLarge.
func ReadBody(rd io.Reader, maxBytes int64) ([]byte, error) {
	if rd == nil {
		return []byte{}, nil
	}
	body, err := io.ReadAll(io.LimitReader(rd, maxBytes+1))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBodyRead, err)
	}
	if int64(len(body)) > maxBytes {
		return nil, ErrBodyTooLarge
	}
	return body, nil
}
