package dataformat

import (
	"bytes"
	"testing"
)

func TestEncodeScenarios(t *testing.T) {
	cases := []struct {
		name   string
		format Format
		value  int32
		width  int
		want   []byte
	}{
		{"int_lu freq", IntLU, 14500000, 4, []byte{0xA0, 0x40, 0xDD, 0x00}},
		{"bcd_ls negative", BcdLS, -418, 4, []byte{0x18, 0x04, 0x00, 0xFF}},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			got, err := Encode(c.format, c.value, c.width)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if !bytes.Equal(got, c.want) {
				t.Fatalf("Encode(%v, %d, %d) = % X, want % X", c.format, c.value, c.width, got, c.want)
			}
		})
	}
}

func TestRoundTrip(t *testing.T) {
	formats := []Format{BcdBS, BcdBU, BcdLS, BcdLU, IntBS, IntBU, IntLS, IntLU}
	values := []int32{0, 1, 9, 10, 99, 255, 1234, -1, -99, -1234}
	for _, f := range formats {
		for _, w := range []int{2, 3, 4} {
			for _, v := range values {
				enc, err := Encode(f, v, w)
				if err != nil {
					continue // not representable at this width/sign
				}
				dec, err := Decode(f, enc)
				if err != nil {
					t.Fatalf("Decode(%v, % X) failed: %v", f, enc, err)
				}
				if dec != v {
					t.Fatalf("round trip %v width=%d value=%d: got %d via % X", f, w, v, dec, enc)
				}
			}
		}
	}
}

func TestUnsignedRejectsNegative(t *testing.T) {
	for _, f := range []Format{BcdBU, BcdLU, IntBU, IntLU} {
		if _, err := Encode(f, -1, 4); err == nil {
			t.Fatalf("%v: expected error encoding negative value", f)
		}
	}
}

func TestTextRejectsOverflow(t *testing.T) {
	if _, err := Encode(Text, 12345, 3); err == nil {
		t.Fatal("expected NumberTooLong for text overflow")
	}
	got, err := Encode(Text, 7, 3)
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	if string(got) != "007" {
		t.Fatalf("got %q, want %q", got, "007")
	}
}

func TestParseInvalidName(t *testing.T) {
	if _, err := Parse("bogus"); err == nil {
		t.Fatal("expected error for unknown format name")
	}
	f, err := Parse("int_lu")
	if err != nil || f != IntLU {
		t.Fatalf("Parse(int_lu) = %v, %v", f, err)
	}
}
