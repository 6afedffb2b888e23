package nats

import (
	"encoding/json"
	"time"

	"github.com/brojonat/tradewatch/service/classifier"
)

// EventMessage is the payload published for every newly stored event on
// the subject "gm.events.{category}".
type EventMessage struct {
	Signature string              `json:"signature"`
	Category  classifier.Category `json:"category"`
	Symbol    string              `json:"symbol"`
	Size      *int64              `json:"size,omitempty"`
	Price     *int64              `json:"price,omitempty"`
	BlockTime *time.Time          `json:"block_time,omitempty"`
	Data      json.RawMessage     `json:"data,omitempty"`

	PublishedAt time.Time `json:"published_at"`
}

// FromEvent converts a classified event to its published form.
func FromEvent(e *classifier.Event) *EventMessage {
	msg := &EventMessage{
		Signature:   e.Signature,
		Category:    e.Category,
		Symbol:      e.Symbol,
		Size:        e.Size,
		Price:       e.Price,
		Data:        e.Raw,
		PublishedAt: time.Now().UTC(),
	}
	if e.BlockTime != nil {
		bt := time.Unix(*e.BlockTime, 0).UTC()
		msg.BlockTime = &bt
	}
	return msg
}

// Subject returns the subject events of category c are published on. An
// empty category gives the wildcard covering all of them.
func Subject(c classifier.Category) string {
	if c == "" {
		return StreamSubjects
	}
	return SubjectPrefix + string(c)
}
