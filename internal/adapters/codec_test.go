package adapters

import (
	"errors"
	"testing"

	"scanbridge/internal/events"
	"scanbridge/internal/resolver"
)

func TestDecode(t *testing.T) {
	ev, err := Decode("udp", []byte(`{
		"action": "com.cipherlab.barcodebaseapi.PASS_DATA_2_APP",
		"extras": {"Decoder_Data": "4006381333931", "Decoder_CodeType": 13, "flag": null}
	}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ev.Tag != resolver.ActionPassToApp || ev.Source != "udp" {
		t.Fatalf("event = %+v", ev)
	}
	if v, ok := ev.String(resolver.KeyReaderData); !ok || v != "4006381333931" {
		t.Fatalf("Decoder_Data = %q, %v", v, ok)
	}
	if _, ok := ev.Fields[resolver.KeyReaderCodeType]; !ok {
		t.Fatal("non-string extra dropped")
	}
	if _, ok := ev.String(resolver.KeyReaderCodeType); ok {
		t.Fatal("numeric extra decoded as string")
	}
	if _, ok := ev.String("flag"); ok {
		t.Fatal("null extra decoded as string")
	}
}

func TestDecodeNullAction(t *testing.T) {
	ev, err := Decode("mqtt", []byte(`{"action": null, "extras": {"data": "x"}}`))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if ev.Tag != "" {
		t.Fatalf("tag = %q", ev.Tag)
	}
}

func TestDecodeRejects(t *testing.T) {
	cases := map[string]string{
		"empty":          "   ",
		"not json":       "Decoder_Data=1",
		"missing action": `{"extras": {}}`,
		"action number":  `{"action": 5}`,
		"extras array":   `{"action": "a", "extras": ["x"]}`,
		"top-level list": `[1, 2]`,
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := Decode("test", []byte(in)); err == nil {
				t.Fatalf("Decode(%q) succeeded", in)
			}
		})
	}
	if _, err := Decode("test", nil); !errors.Is(err, ErrEmptyPayload) {
		t.Fatalf("Decode(nil) = %v", err)
	}
}

func TestEncodeDecodeKeepsStrings(t *testing.T) {
	b, err := Encode(resolver.ActionPassToApp, map[string]*string{"data": events.Str("abc"), "n": nil})
	if err != nil {
		t.Fatalf("Encode: %v", err)
	}
	ev, err := Decode("test", b)
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if v, _ := ev.String("data"); v != "abc" {
		t.Fatalf("data = %q", v)
	}
	if p, ok := ev.Fields["n"]; !ok || p != nil {
		t.Fatal("null extra not preserved")
	}
}

func TestTruncate(t *testing.T) {
	if got := Truncate([]byte("abcdef"), 3); got != "abc..." {
		t.Fatalf("Truncate = %q", got)
	}
	if got := Truncate([]byte("ab"), 3); got != "ab" {
		t.Fatalf("Truncate = %q", got)
	}
}
