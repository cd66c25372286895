package utils

import (
	"strings"
	"testing"
)

func TestPasswordRoundTrip(t *testing.T) {
	hash, err := EncryptPassword("super secret")
	if err != nil {
		t.Fatalf("EncryptPassword: %v", err)
	}
	if hash == "super secret" {
		t.Fatal("hash equals plaintext")
	}

	if ok, err := VerifyPassword(hash, "super secret"); !ok || err != nil {
		t.Fatalf("VerifyPassword with correct password: ok=%v err=%v", ok, err)
	}
	if ok, _ := VerifyPassword(hash, "wrong"); ok {
		t.Fatal("VerifyPassword accepted a wrong password")
	}
}

func TestTruncate(t *testing.T) {
	cases := []struct {
		name string
		in   string
		max  int
		want string
	}{
		{"shorter than max", "hello", 10, "hello"},
		{"exactly max", "hello", 5, "hello"},
		{"cut ascii", "hello", 3, "hel"},
		{"cut multibyte on rune boundary", strings.Repeat("한", 5), 3, strings.Repeat("한", 3)},
		{"zero max disables", "hello", 0, "hello"},
		{"empty input", "", 3, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Truncate(tc.in, tc.max); got != tc.want {
				t.Fatalf("Truncate(%q, %d) = %q, want %q", tc.in, tc.max, got, tc.want)
			}
		})
	}
}
