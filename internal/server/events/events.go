// Package events publishes share lifecycle events.
package events

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Event types.
const (
	TypeUploaded   = "share.uploaded"
	TypeDownloaded = "share.downloaded"
	TypePurged     = "share.purged"
)

// Event describes one lifecycle transition of a share.
type Event struct {
	ID        uuid.UUID `json:"event_id"`
	Time      time.Time `json:"time"`
	Type      string    `json:"type"`
	ShareCode string    `json:"share_code"`
	FileName  string    `json:"file_name"`
	FileSize  int64     `json:"file_size"`
}

// New stamps an event with a fresh ID and the current time.
func New(typ, code, fileName string, fileSize int64) Event {
	return Event{
		ID:        uuid.New(),
		Time:      time.Now().UTC(),
		Type:      typ,
		ShareCode: code,
		FileName:  fileName,
		FileSize:  fileSize,
	}
}

// Publisher accepts events. Publish must not block the caller on the broker.
type Publisher interface {
	Publish(ctx context.Context, e Event)
}

// Nop discards every event.
type Nop struct{}

func (Nop) Publish(context.Context, Event) {}
