package main

import (
	"context"
	"log/slog"
	"testing"

	"reflexstake/config"
	"reflexstake/crypto"
	"reflexstake/native/oracle"
)

func TestBuildPriceFeedsManual(t *testing.T) {
	cfg := config.Default()
	cfg.Oracle.ManualPrice = "0.25"
	rt, err := cfg.Runtime()
	if err != nil {
		t.Fatalf("runtime: %v", err)
	}
	feeds, err := buildPriceFeeds(cfg, rt, slog.Default())
	if err != nil {
		t.Fatalf("feeds: %v", err)
	}
	defer feeds.Close()
	snap, err := feeds.adapter.Price(context.Background())
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	want, _ := oracle.ScaleDecimal("0.25", cfg.Oracle.ManualDecimals)
	if snap.Source != oracle.SourcePrimary || !snap.Price.Value.Eq(want) {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
}

func TestBuildPriceFeedsRejectsUnknownKind(t *testing.T) {
	cfg := config.Default()
	cfg.Oracle.Backup = "pyth"
	rt, err := cfg.Runtime()
	if err != nil {
		t.Fatalf("runtime: %v", err)
	}
	if _, err := buildPriceFeeds(cfg, rt, slog.Default()); err == nil {
		t.Fatalf("expected unknown feed error")
	}
}

func TestParseAccount(t *testing.T) {
	got, err := parseAccount("module:fee-converter")
	if err != nil || got != crypto.ModuleAddress("fee-converter") {
		t.Fatalf("module account: %v %v", got, err)
	}
	hex := "0x00000000000000000000000000000000000000aa"
	got, err = parseAccount(hex)
	if err != nil || got.Bytes()[19] != 0xaa {
		t.Fatalf("hex account: %v %v", got, err)
	}
	if _, err := parseAccount("nope"); err == nil {
		t.Fatalf("expected parse error")
	}
}
