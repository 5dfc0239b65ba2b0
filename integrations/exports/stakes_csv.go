package exports

import (
	"bytes"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"strconv"
	"time"

	"reflexstake/native/staking"
)

// StakesCSV builds a CSV export of the supplied stake records and returns the
// serialised data alongside a SHA-256 checksum of the payload.
func StakesCSV(records []staking.StakeRecord) ([]byte, string, error) {
	buffer := &bytes.Buffer{}
	writer := csv.NewWriter(buffer)
	header := []string{"owner", "principal", "first_lock_time", "last_lock_time", "tier_index"}
	if err := writer.Write(header); err != nil {
		return nil, "", err
	}
	for _, record := range records {
		principal := "0"
		if record.Principal != nil {
			principal = record.Principal.Dec()
		}
		row := []string{
			record.Owner.String(),
			principal,
			formatTime(record.FirstLockTime),
			formatTime(record.LastLockTime),
			strconv.Itoa(record.TierIndexAtLastUpdate),
		}
		if err := writer.Write(row); err != nil {
			return nil, "", err
		}
	}
	writer.Flush()
	if err := writer.Error(); err != nil {
		return nil, "", err
	}
	data := buffer.Bytes()
	checksum := sha256.Sum256(data)
	return data, hex.EncodeToString(checksum[:]), nil
}

func formatTime(ts time.Time) string {
	if ts.IsZero() {
		return ""
	}
	return ts.UTC().Format(time.RFC3339Nano)
}
