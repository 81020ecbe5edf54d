package session

import "testing"

func TestEncodeDecodeRoundTrip(t *testing.T) {
	in := &Session{UserID: "user-42", Role: 2, CreatedAt: 1, LastAccessedAt: 2, ExpiresAt: 3}

	data, err := Encode(in)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	out, err := Decode(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.UserID != in.UserID || out.Role != in.Role || out.CreatedAt != 1 || out.LastAccessedAt != 2 || out.ExpiresAt != 3 {
		t.Fatalf("roundtrip mismatch: %+v", out)
	}
}

func TestDecodeRejectsTrailingBytes(t *testing.T) {
	data, _ := Encode(&Session{UserID: "u", Role: 1})
	if _, err := Decode(append(data, 0)); err == nil {
		t.Fatal("expected trailing bytes to be rejected")
	}
}

func TestEncodeRejectsEmptyUser(t *testing.T) {
	if _, err := Encode(&Session{}); err == nil {
		t.Fatal("expected empty user id to be rejected")
	}
}

// FuzzDecode exercises session decoding with arbitrary bytes.
func FuzzDecode(f *testing.F) {
	f.Add([]byte{})
	f.Add([]byte{1})
	f.Add([]byte{9, 1, 'u'})
	if seed, err := Encode(&Session{UserID: "seed", Role: 4, CreatedAt: 10, ExpiresAt: 20}); err == nil {
		f.Add(seed)
	}

	f.Fuzz(func(t *testing.T, data []byte) {
		s, err := Decode(data)
		if err != nil {
			return
		}
		again, err := Encode(s)
		if err != nil {
			t.Fatalf("re-encode failed: %v", err)
		}
		if string(again) != string(data) {
			t.Fatal("decode/encode is not canonical")
		}
	})
}
