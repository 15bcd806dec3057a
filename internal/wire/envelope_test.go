package wire

import (
	"bytes"
	"math/rand"
	"testing"
	"testing/quick"
)

func TestPackUnpackRoundTrip(t *testing.T) {
	cases := []struct {
		typ     Type
		corrID  uint64
		payload []byte
	}{
		{TypeRequest, 1, []byte(`{"msisdn":"+14085551234","op":"route"}`)},
		{TypeResponse, 42, []byte(`{"status":"OK"}`)},
		{TypeRequest, 0, nil},
	}
	for _, c := range cases {
		out := Pack(c.typ, c.corrID, c.payload)
		h, payload, err := Unpack(out)
		if err != nil {
			t.Fatalf("unpack: %v", err)
		}
		if h.Type != c.typ || h.CorrID != c.corrID {
			t.Fatalf("header mismatch: %+v", h)
		}
		if !bytes.Equal(payload, c.payload) && !(len(payload) == 0 && len(c.payload) == 0) {
			t.Fatalf("payload mismatch: got %q want %q", payload, c.payload)
		}
	}
}

func TestPackUnpackRoundTripProperty(t *testing.T) {
	cfg := &quick.Config{Rand: rand.New(rand.NewSource(1)), MaxCount: 500}
	prop := func(corrID uint64, payload []byte, typeBit bool) bool {
		if len(payload) > 8168 {
			payload = payload[:8168]
		}
		typ := TypeRequest
		if typeBit {
			typ = TypeResponse
		}
		h, got, err := Unpack(Pack(typ, corrID, payload))
		if err != nil {
			return false
		}
		return h.Type == typ && h.CorrID == corrID && bytes.Equal(got, payload)
	}
	if err := quick.Check(prop, cfg); err != nil {
		t.Fatalf("round trip property failed: %v", err)
	}
}

func TestUnpackRejectsShort(t *testing.T) {
	if _, _, err := Unpack(make([]byte, HeaderSize-1)); err == nil {
		t.Fatal("expected error for short buffer")
	}
}

func TestUnpackRejectsBadMagic(t *testing.T) {
	env := Pack(TypeRequest, 1, []byte("x"))
	env[0] ^= 0xFF
	if _, _, err := Unpack(env); err == nil {
		t.Fatal("expected magic rejection")
	}
}

func TestUnpackRejectsBadVersion(t *testing.T) {
	env := Pack(TypeRequest, 1, []byte("x"))
	env[4] = 9
	if _, _, err := Unpack(env); err == nil {
		t.Fatal("expected version rejection")
	}
}

func TestUnpackRejectsLengthMismatch(t *testing.T) {
	env := Pack(TypeRequest, 1, []byte("hello"))
	env[16] = 200 // corrupt payload_len
	if _, _, err := Unpack(env); err == nil {
		t.Fatal("expected length mismatch rejection")
	}
}

func TestUnpackRejectsTruncatedPayload(t *testing.T) {
	env := Pack(TypeResponse, 7, []byte("payload"))
	if _, _, err := Unpack(env[:len(env)-1]); err == nil {
		t.Fatal("expected rejection of truncated payload")
	}
}

func FuzzUnpack(f *testing.F) {
	f.Add(Pack(TypeRequest, 1, []byte("seed")))
	f.Add([]byte{})
	f.Add(make([]byte, HeaderSize))
	f.Fuzz(func(t *testing.T, data []byte) {
		_, _, _ = Unpack(data)
	})
}
