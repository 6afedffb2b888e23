package ingest

import (
	"fmt"
	"time"

	"github.com/brojonat/tradewatch/service/classifier"
)

// Stats counts what happened to one page.
type Stats struct {
	Total          int `json:"total"`
	Exchanges      int `json:"exchanges"`
	Counter        int `json:"counter"`
	Creates        int `json:"creates"`
	Cancels        int `json:"cancels"`
	Direct         int `json:"direct"`
	Unmapped       int `json:"unmapped"`
	Skipped        int `json:"skipped"`
	AlreadyPresent int `json:"already_present"`
	Written        int `json:"written_to_db"`

	Newest          string `json:"newest,omitempty"`
	NewestBlockTime *int64 `json:"newest_block_time,omitempty"`
	Oldest          string `json:"oldest,omitempty"`
	OldestBlockTime *int64 `json:"oldest_block_time,omitempty"`
}

func (s *Stats) count(c classifier.Category) {
	switch c {
	case classifier.Exchange:
		s.Exchanges++
	case classifier.CounterInit:
		s.Counter++
	case classifier.Create:
		s.Creates++
	case classifier.Cancel:
		s.Cancels++
	case classifier.DirectTransfer:
		s.Direct++
	default:
		s.Unmapped++
	}
}

// Summary is the per-page stats line.
func (s *Stats) Summary(mode string) string {
	return fmt.Sprintf(
		"%s: total=%d, exchanges=%d, counter=%d, created=%d, canceled=%d, direct=%d unmapped=%d written_to_db=%d skipped=%d already_present=%d",
		mode, s.Total, s.Exchanges, s.Counter, s.Creates, s.Cancels, s.Direct, s.Unmapped, s.Written, s.Skipped, s.AlreadyPresent,
	)
}

// Position is the "<oldest signature> - <timestamp>" line logged after
// the summary.
func (s *Stats) Position() string {
	var sec int64
	if s.OldestBlockTime != nil {
		sec = *s.OldestBlockTime
	}
	return fmt.Sprintf("%s - %s", s.Oldest, time.Unix(sec, 0).UTC().Format(time.RFC1123))
}
