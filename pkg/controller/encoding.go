package controller

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"io"
	"strings"
)

// Encoder writes a page of already-marshaled JSON records in one of the
// three wire formats a GET collection request may negotiate via Accept.
// Every other response (single BSOs, info/*, PostResults) is always
// plain JSON regardless of Accept — the negotiable formats exist
// specifically for bulk collection reads.
type Encoder interface {
	ContentType() string
	EncodeList(w io.Writer, records []json.RawMessage) error
}

type jsonEncoder struct{}

func (jsonEncoder) ContentType() string { return "application/json" }

func (jsonEncoder) EncodeList(w io.Writer, records []json.RawMessage) error {
	if _, err := w.Write([]byte{'['}); err != nil {
		return err
	}
	for i, r := range records {
		if i > 0 {
			if _, err := w.Write([]byte{','}); err != nil {
				return err
			}
		}
		if _, err := w.Write(r); err != nil {
			return err
		}
	}
	_, err := w.Write([]byte{']'})
	return err
}

type newlinesEncoder struct{}

func (newlinesEncoder) ContentType() string { return "application/newlines" }

func (newlinesEncoder) EncodeList(w io.Writer, records []json.RawMessage) error {
	for _, r := range records {
		escaped := bytes.ReplaceAll(r, []byte("\n"), []byte("\\u000a"))
		if _, err := w.Write(escaped); err != nil {
			return err
		}
		if _, err := w.Write([]byte{'\n'}); err != nil {
			return err
		}
	}
	return nil
}

type whoisiEncoder struct{}

func (whoisiEncoder) ContentType() string { return "application/whoisi" }

func (whoisiEncoder) EncodeList(w io.Writer, records []json.RawMessage) error {
	for _, r := range records {
		var length [4]byte
		binary.BigEndian.PutUint32(length[:], uint32(len(r)))
		if _, err := w.Write(length[:]); err != nil {
			return err
		}
		if _, err := w.Write(r); err != nil {
			return err
		}
	}
	return nil
}

var errUnacceptable = errors.New("no acceptable response encoding")

// NegotiateEncoder picks a list encoder from an Accept header, defaulting
// to JSON when the header is empty or wildcard. An Accept header that
// names only formats we don't speak is a 400, per spec.md §7.
func NegotiateEncoder(accept string) (Encoder, error) {
	if accept == "" {
		return jsonEncoder{}, nil
	}
	for _, part := range strings.Split(accept, ",") {
		mt := strings.TrimSpace(strings.SplitN(part, ";", 2)[0])
		switch mt {
		case "application/json", "*/*":
			return jsonEncoder{}, nil
		case "application/newlines":
			return newlinesEncoder{}, nil
		case "application/whoisi":
			return whoisiEncoder{}, nil
		}
	}
	return nil, errUnacceptable
}
