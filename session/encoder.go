package session

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	// CurrentSchemaVersion is the version written by Encode.
	CurrentSchemaVersion = 2

	schemaVersionV1 = 1
)

var errUnsupportedSchema = errors.New("unsupported session schema version")

// Encode serializes s into the current binary schema.
//
// Layout: version | portal (u8 len) | kind | access (u16 len) | refresh (u16 len) |
// expires_at (i64) | created_at (i64). Integers are big-endian.
func Encode(s *Session) ([]byte, error) {
	if s == nil {
		return nil, errors.New("nil session")
	}
	if len(s.Portal) == 0 || len(s.Portal) > math.MaxUint8 {
		return nil, errors.New("portal length out of range")
	}
	if !s.Kind.Valid() {
		return nil, errors.New("invalid session kind")
	}
	if len(s.AccessToken) > math.MaxUint16 {
		return nil, errors.New("access token too long")
	}
	if len(s.RefreshToken) > math.MaxUint16 {
		return nil, errors.New("refresh token too long")
	}

	var buf bytes.Buffer
	buf.Grow(1 + 1 + len(s.Portal) + 1 + 2 + len(s.AccessToken) + 2 + len(s.RefreshToken) + 16)

	buf.WriteByte(CurrentSchemaVersion)
	buf.WriteByte(byte(len(s.Portal)))
	buf.WriteString(s.Portal)
	buf.WriteByte(byte(s.Kind))

	writeString16(&buf, s.AccessToken)
	writeString16(&buf, s.RefreshToken)

	if err := binary.Write(&buf, binary.BigEndian, s.ExpiresAt); err != nil {
		return nil, err
	}
	if err := binary.Write(&buf, binary.BigEndian, s.CreatedAt); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// Decode parses any supported schema version. Version 1 records carry no
// creation time; they decode with CreatedAt = 0 and SchemaVersion = 1 so
// callers can rewrite them.
func Decode(data []byte) (*Session, error) {
	reader := bytes.NewReader(data)

	version, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if version != CurrentSchemaVersion && version != schemaVersionV1 {
		return nil, fmt.Errorf("%w: %d", errUnsupportedSchema, version)
	}

	s := &Session{SchemaVersion: version}

	portalLen, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	portal := make([]byte, portalLen)
	if _, err := io.ReadFull(reader, portal); err != nil {
		return nil, err
	}
	s.Portal = string(portal)

	kind, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	s.Kind = Kind(kind)
	if !s.Kind.Valid() {
		return nil, errors.New("invalid session kind")
	}

	if s.AccessToken, err = readString16(reader); err != nil {
		return nil, err
	}
	if s.RefreshToken, err = readString16(reader); err != nil {
		return nil, err
	}

	if err := binary.Read(reader, binary.BigEndian, &s.ExpiresAt); err != nil {
		return nil, err
	}
	if version == CurrentSchemaVersion {
		if err := binary.Read(reader, binary.BigEndian, &s.CreatedAt); err != nil {
			return nil, err
		}
	}

	if reader.Len() != 0 {
		return nil, errors.New("trailing bytes after session record")
	}

	return s, nil
}

func writeString16(buf *bytes.Buffer, v string) {
	var n [2]byte
	binary.BigEndian.PutUint16(n[:], uint16(len(v)))
	buf.Write(n[:])
	buf.WriteString(v)
}

func readString16(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	if int(n) > r.Len() {
		return "", io.ErrUnexpectedEOF
	}
	out := make([]byte, n)
	if _, err := io.ReadFull(r, out); err != nil {
		return "", err
	}
	return string(out), nil
}
