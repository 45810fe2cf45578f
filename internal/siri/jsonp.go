package siri

import (
	"bytes"
	"fmt"
)

// Unwrap strips a JSONP envelope of the form callback(<json>) and returns the
// JSON text. The interior runs from the first '(' to the final ')', so
// parentheses inside string values are kept intact. A trailing ';' is allowed.
func Unwrap(body []byte) ([]byte, error) {
	s := bytes.TrimSpace(body)
	s = bytes.TrimSpace(bytes.TrimSuffix(s, []byte(";")))

	open := bytes.IndexByte(s, '(')
	switch {
	case open < 0:
		return nil, fmt.Errorf("%w: no callback wrapper", ErrEnvelope)
	case len(bytes.TrimSpace(s[:open])) == 0:
		return nil, fmt.Errorf("%w: empty callback name", ErrEnvelope)
	case s[len(s)-1] != ')' || len(s)-1 <= open:
		return nil, fmt.Errorf("%w: missing closing parenthesis", ErrEnvelope)
	}

	inner := bytes.TrimSpace(s[open+1 : len(s)-1])
	if len(inner) == 0 {
		return nil, fmt.Errorf("%w: empty payload", ErrEnvelope)
	}
	return inner, nil
}

// DecodeJSONP unwraps and decodes a JSONP body.
func DecodeJSONP(body []byte) (Node, error) {
	inner, err := Unwrap(body)
	if err != nil {
		return Node{}, err
	}
	return Decode(inner)
}
