package util

import "testing"

func TestFormatUSD(t *testing.T) {
	cases := map[int64]string{
		0:          "0.000000",
		4_200_000:  "4.200000",
		-65:        "-0.000065",
		25_000_001: "25.000001",
	}
	for micro, want := range cases {
		if got := FormatUSD(micro); got != want {
			t.Fatalf("FormatUSD(%d) = %q, want %q", micro, got, want)
		}
	}
}

func TestUSDToMicro(t *testing.T) {
	got, err := USDToMicro(" 25.5 ")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got != 25_500_000 {
		t.Fatalf("expected 25500000, got %d", got)
	}
	if got, _ := USDToMicro("0.0000019"); got != 1 {
		t.Fatalf("expected truncation to 1, got %d", got)
	}
	if _, err := USDToMicro("ten"); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestMaskSensitiveQuery(t *testing.T) {
	got := MaskSensitiveQuery("page=2&token=abcdefghijkl")
	if got != "page=2&token=abcd...ijkl" {
		t.Fatalf("unexpected masked query %q", got)
	}
	if got := MaskSensitiveQuery("page=2"); got != "page=2" {
		t.Fatalf("expected untouched query, got %q", got)
	}
}
