package wire

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func TestStringRoundTrip(t *testing.T) {
	cases := []string{"", "hello", "stream-1", "unicode: éè"}
	for _, s := range cases {
		buf := AppendString(nil, s)
		r := Reader{Src: buf}
		got := r.String()
		require.NoError(t, r.Complete())
		require.Equal(t, s, got)
	}
}

func TestNullString(t *testing.T) {
	buf := AppendNullString(nil, "ignored", true)
	r := Reader{Src: buf}
	got, isNull := r.NullString()
	require.NoError(t, r.Complete())
	require.True(t, isNull)
	require.Empty(t, got)

	buf = AppendNullString(nil, "present", false)
	r = Reader{Src: buf}
	got, isNull = r.NullString()
	require.NoError(t, r.Complete())
	require.False(t, isNull)
	require.Equal(t, "present", got)
}

func TestBytesRoundTrip(t *testing.T) {
	payload := []byte{0x01, 0x02, 0x03, 0xff, 0x00}
	buf := AppendBytes(nil, payload)
	r := Reader{Src: buf}
	got := r.Bytes()
	require.NoError(t, r.Complete())
	if diff := cmp.Diff(payload, got); diff != "" {
		t.Fatalf("bytes round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestStringMapRoundTrip(t *testing.T) {
	m := map[string]string{"product": "rstream", "version": "1", "platform": "go"}
	buf := AppendStringMap(nil, m)
	r := Reader{Src: buf}
	got := r.StringMap()
	require.NoError(t, r.Complete())
	if diff := cmp.Diff(m, got); diff != "" {
		t.Fatalf("string map round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestStringArrayRoundTrip(t *testing.T) {
	ss := []string{"PLAIN", "SCRAM-SHA-256"}
	buf := AppendStringArray(nil, ss)
	r := Reader{Src: buf}
	got := r.StringArray()
	require.NoError(t, r.Complete())
	if diff := cmp.Diff(ss, got); diff != "" {
		t.Fatalf("string array round trip mismatch (-want +got):\n%s", diff)
	}
}

func TestIntegerRoundTrip(t *testing.T) {
	buf := AppendUint8(nil, 0xAB)
	buf = AppendUint16(buf, 0)
	buf = AppendUint16(buf, 0xBEEF)
	buf = AppendUint32(buf, 0xDEADBEEF)
	buf = AppendUint64(buf, 0x0102030405060708)
	buf = AppendInt16(buf, -1)
	buf = AppendInt32(buf, -2)
	buf = AppendInt64(buf, -3)

	r := Reader{Src: buf}
	require.EqualValues(t, 0xAB, r.Uint8())
	require.EqualValues(t, 0, r.Uint16())
	require.EqualValues(t, 0xBEEF, r.Uint16())
	require.EqualValues(t, 0xDEADBEEF, r.Uint32())
	require.EqualValues(t, 0x0102030405060708, r.Uint64())
	require.EqualValues(t, -1, r.Int16())
	require.EqualValues(t, -2, r.Int32())
	require.EqualValues(t, -3, r.Int64())
	require.NoError(t, r.Complete())
}

func TestReaderNotEnoughData(t *testing.T) {
	r := Reader{Src: []byte{0x00}}
	r.Uint32()
	require.ErrorIs(t, r.Err(), ErrNotEnoughData)
}

func TestCompleteRejectsTrailingBytes(t *testing.T) {
	r := Reader{Src: []byte{0x00, 0x00, 0x00, 0x01, 0xff}}
	_ = r.Uint32()
	require.Error(t, r.Complete())
}
