// utils/normalize_test.go
package utils

import "testing"

func TestNormalizeKey(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"１２３４５６７８９０", "1234567890"}, // full-width digits
		{"　ＡＢＣ１２３ ", "abc123"},        // ideographic space + full-width latin
		{"YJコード", "yjコード"},
		{"  plain  ", "plain"},
		{"", ""},
	}
	for _, c := range cases {
		if got := NormalizeKey(c.in); got != c.want {
			t.Errorf("NormalizeKey(%q) = %q, want %q", c.in, got, c.want)
		}
	}
}

func TestNormalizeTextPreservesCase(t *testing.T) {
	if got := NormalizeText("　Ｔａｂｌｅｔ５０ｍｇ "); got != "Tablet50mg" {
		t.Errorf("NormalizeText = %q, want %q", got, "Tablet50mg")
	}
}
