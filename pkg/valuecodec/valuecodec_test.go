package valuecodec

import "testing"

func TestBoolRoundTrip(t *testing.T) {
	v := NewBool(true)
	got, err := v.Bool()
	if err != nil || !got {
		t.Fatalf("Bool() = %v, %v, want true, nil", got, err)
	}

	b := Encode(v)
	decoded, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	got2, err := decoded.Bool()
	if err != nil || !got2 {
		t.Fatalf("round-tripped Bool() = %v, %v, want true, nil", got2, err)
	}
}

func TestIntegerRoundTrips(t *testing.T) {
	if got, err := Decode(Encode(NewI8(-5))); err != nil {
		t.Fatal(err)
	} else if v, err := got.I8(); err != nil || v != -5 {
		t.Fatalf("I8 round trip = %v, %v", v, err)
	}

	if got, err := Decode(Encode(NewI64(-123456789))); err != nil {
		t.Fatal(err)
	} else if v, err := got.I64(); err != nil || v != -123456789 {
		t.Fatalf("I64 round trip = %v, %v", v, err)
	}

	if got, err := Decode(Encode(NewU32(4000000000))); err != nil {
		t.Fatal(err)
	} else if v, err := got.U32(); err != nil || v != 4000000000 {
		t.Fatalf("U32 round trip = %v, %v", v, err)
	}
}

func TestFloatRoundTrips(t *testing.T) {
	got, err := Decode(Encode(NewF64(3.14159)))
	if err != nil {
		t.Fatal(err)
	}
	v, err := got.F64()
	if err != nil || v != 3.14159 {
		t.Fatalf("F64 round trip = %v, %v", v, err)
	}
}

func TestStringRoundTrip(t *testing.T) {
	got, err := Decode(Encode(NewString("hello, world")))
	if err != nil {
		t.Fatal(err)
	}
	s, err := got.String()
	if err != nil || s != "hello, world" {
		t.Fatalf("String round trip = %q, %v", s, err)
	}
}

func TestBytesRoundTrip(t *testing.T) {
	original := []byte{0x00, 0xFF, 0x10, 0x20}
	got, err := Decode(Encode(NewBytes(original)))
	if err != nil {
		t.Fatal(err)
	}
	b, err := got.Bytes()
	if err != nil || string(b) != string(original) {
		t.Fatalf("Bytes round trip = %v, %v", b, err)
	}
}

func TestNilValue(t *testing.T) {
	v := NewNil()
	if !v.IsNil() {
		t.Fatal("expected IsNil to report true")
	}
	got, err := Decode(Encode(v))
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsNil() {
		t.Fatal("expected round-tripped value to still report IsNil")
	}
}

func TestAccessorMismatchReturnsError(t *testing.T) {
	v := NewI32(42)
	if _, err := v.String(); err == nil {
		t.Fatal("expected type mismatch error reading a String accessor off an I32 value")
	}
}

func TestDecodeTruncatedHeaderReturnsError(t *testing.T) {
	if _, err := Decode([]byte{1, 2, 3}); err == nil {
		t.Fatal("expected error for truncated header")
	}
}

func TestDecodeTruncatedPayloadReturnsError(t *testing.T) {
	b := Encode(NewString("abcdef"))
	if _, err := Decode(b[:len(b)-2]); err == nil {
		t.Fatal("expected error for truncated payload")
	}
}

func TestDecodeInvalidUTF8StringReturnsError(t *testing.T) {
	b := Encode(NewBytes([]byte{0xff, 0xfe, 0xfd}))
	b[0] = byte(TagString)
	if _, err := Decode(b); err == nil {
		t.Fatal("expected error decoding a string payload that is not valid UTF-8")
	}
}

func TestTagString(t *testing.T) {
	if TagI32.String() != "I32" {
		t.Fatalf("Tag.String() = %q, want I32", TagI32.String())
	}
	if Tag(99).String() == "" {
		t.Fatal("expected a non-empty fallback for an unknown tag")
	}
}
