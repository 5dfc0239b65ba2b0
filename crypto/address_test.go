package crypto

import (
	"strings"
	"testing"
)

func TestAddressRoundTrip(t *testing.T) {
	raw := make([]byte, AddressLength)
	raw[19] = 0x2a
	addr := BytesToAddress(raw)
	encoded := addr.String()
	if !strings.HasPrefix(encoded, "rfx1") {
		t.Fatalf("unexpected encoding %s", encoded)
	}
	decoded, err := DecodeAddress(encoded)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded != addr {
		t.Fatalf("round trip mismatch: %s != %s", decoded, addr)
	}
}

func TestParseAddressAcceptsHex(t *testing.T) {
	addr, err := ParseAddress("0x000000000000000000000000000000000000002a")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if addr.Bytes()[19] != 0x2a {
		t.Fatalf("unexpected bytes %x", addr.Bytes())
	}
	if addr.Prefix() != AccountPrefix {
		t.Fatalf("unexpected prefix %s", addr.Prefix())
	}
}

func TestModuleAddressDeterministic(t *testing.T) {
	if ModuleAddress("staking") != ModuleAddress(" Staking ") {
		t.Fatalf("module address must be case and whitespace insensitive")
	}
	if ModuleAddress("staking") == ModuleAddress("custody") {
		t.Fatalf("distinct modules must not collide")
	}
	if ModuleAddress("staking").IsZero() {
		t.Fatalf("module address must not be zero")
	}
}

func TestAddressTextMarshalling(t *testing.T) {
	addr := ModuleAddress("staking")
	text, err := addr.MarshalText()
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out Address
	if err := out.UnmarshalText(text); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out != addr {
		t.Fatalf("mismatch after text round trip")
	}
}
