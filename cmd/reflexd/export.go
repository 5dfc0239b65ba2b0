package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"reflexstake/core"
	"reflexstake/integrations/exports"
	"reflexstake/journal"
)

const exportEventLimit = 500

func writeExports(ctx context.Context, dir string, machine *core.Machine, jrnl *journal.Journal, logger *slog.Logger) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	data, checksum, err := exports.StakesCSV(machine.Stakes())
	if err != nil {
		return fmt.Errorf("export stakes: %w", err)
	}
	if err := writeFile(dir, "stakes.csv", data, checksum); err != nil {
		return err
	}
	logger.Info("wrote stake export", slog.String("checksum", checksum))
	if jrnl == nil {
		return nil
	}
	records, err := jrnl.Recent(ctx, journal.Query{Limit: exportEventLimit})
	if err != nil {
		return fmt.Errorf("export events: %w", err)
	}
	for i, j := 0, len(records)-1; i < j; i, j = i+1, j-1 {
		records[i], records[j] = records[j], records[i]
	}
	data, checksum, err = exports.EventsJSONL(records)
	if err != nil {
		return fmt.Errorf("export events: %w", err)
	}
	if err := writeFile(dir, "events.jsonl", data, checksum); err != nil {
		return err
	}
	logger.Info("wrote event export", slog.Int("events", len(records)), slog.String("checksum", checksum))
	return nil
}

func writeFile(dir, name string, data []byte, checksum string) error {
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(dir, name+".sha256"), []byte(checksum+"  "+name+"\n"), 0o644)
}
