package snapshot

import (
	"crypto/sha256"
	"encoding/hex"
	"time"

	"FinStore/internal/domain/models"
	"FinStore/pkg/util"
)

const manifestFile = "manifest.json"

func checksum(b []byte) string {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// dateRange returns the min and max calendar dates of records.
func dateRange[T models.Dated](records []T) (first, last string) {
	var lo, hi time.Time
	for i, r := range records {
		d := r.RecordDate()
		if i == 0 || d.Before(lo) {
			lo = d
		}
		if i == 0 || d.After(hi) {
			hi = d
		}
	}
	if len(records) == 0 {
		return "", ""
	}
	return util.FormatDate(lo), util.FormatDate(hi)
}

func rollingRecords(s *models.RollingState) []models.PredictionRecord {
	if s == nil {
		return nil
	}
	out := make([]models.PredictionRecord, 0, len(s.Records))
	for _, r := range s.Records {
		out = append(out, r)
	}
	return out
}
