package session

import (
	"bytes"
	"encoding/binary"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func testSession(portal string, kind Kind) *Session {
	s := &Session{
		Portal:      portal,
		Kind:        kind,
		AccessToken: "aaa.bbb.ccc",
		CreatedAt:   1700000000,
	}
	if kind == KindRefreshable {
		s.RefreshToken = "refresh-" + portal
		s.ExpiresAt = 1700003600
	}
	return s
}

func TestEncodeDecodeKeepsAllFields(t *testing.T) {
	in := testSession("client", KindRefreshable)
	in.AccessToken = strings.Repeat("x", 1200)

	data, err := Encode(in)
	require.NoError(t, err)

	out, err := Decode(data)
	require.NoError(t, err)
	require.Equal(t, uint8(CurrentSchemaVersion), out.SchemaVersion)
	require.Equal(t, in.Portal, out.Portal)
	require.Equal(t, in.Kind, out.Kind)
	require.Equal(t, in.AccessToken, out.AccessToken)
	require.Equal(t, in.RefreshToken, out.RefreshToken)
	require.Equal(t, in.ExpiresAt, out.ExpiresAt)
	require.Equal(t, in.CreatedAt, out.CreatedAt)
}

func TestDecodeRejectsUnsupportedSchemaVersion(t *testing.T) {
	_, err := Decode([]byte{99})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported session schema version")
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	data, err := Encode(testSession("admin", KindStatic))
	require.NoError(t, err)

	_, err = Decode(append(data, 0x01))
	require.Error(t, err)
}

func TestDecodeLegacyV1HasNoCreatedAt(t *testing.T) {
	legacy := testSession("expert", KindRefreshable)
	s, err := Decode(encodeLegacyV1(t, legacy))
	require.NoError(t, err)
	require.Equal(t, uint8(schemaVersionV1), s.SchemaVersion)
	require.Equal(t, legacy.AccessToken, s.AccessToken)
	require.Equal(t, legacy.ExpiresAt, s.ExpiresAt)
	require.Zero(t, s.CreatedAt)
}

func TestEncodeRejectsInvalidSlots(t *testing.T) {
	_, err := Encode(&Session{Portal: "", Kind: KindStatic, AccessToken: "x"})
	require.Error(t, err)

	_, err = Encode(&Session{Portal: "admin", Kind: Kind(9), AccessToken: "x"})
	require.Error(t, err)
}

func encodeLegacyV1(t *testing.T, s *Session) []byte {
	t.Helper()

	var buf bytes.Buffer
	buf.WriteByte(schemaVersionV1)
	buf.WriteByte(byte(len(s.Portal)))
	buf.WriteString(s.Portal)
	buf.WriteByte(byte(s.Kind))
	writeString16(&buf, s.AccessToken)
	writeString16(&buf, s.RefreshToken)
	if err := binary.Write(&buf, binary.BigEndian, s.ExpiresAt); err != nil {
		t.Fatalf("write expires_at: %v", err)
	}
	return buf.Bytes()
}
