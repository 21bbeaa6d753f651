// Package natsfeed publishes transient diagnostics events to NATS JetStream.
// The feed is optional: with no NATS URL configured the constructor returns a
// nil feed whose methods are all no-ops, and the relay never knows the
// difference. Letter records carry routing metadata only, never the letter
// content.
package natsfeed

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"

	"github.com/driftpost/driftpost/models"
)

type Feed struct {
	nc     *nats.Conn
	js     jetstream.JetStream
	prefix string
}

// letterRecord is what goes on the wire for a delivered letter. Participant
// ids are fine here (the feed is operator-facing), the content is not.
type letterRecord struct {
	LetterID    string    `json:"letterId"`
	SenderID    string    `json:"senderId"`
	RecipientID string    `json:"recipientId"`
	ContentSize int       `json:"contentSize"`
	Timestamp   time.Time `json:"timestamp"`
}

type presenceRecord struct {
	Count int       `json:"count"`
	At    time.Time `json:"at"`
}

// New connects to NATS and ensures the diagnostics stream exists. An empty
// url disables the feed: the returned *Feed is nil and safe to use.
func New(url, streamName, prefix string) (*Feed, error) {
	if url == "" {
		return nil, nil
	}

	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("failed to create jetstream context: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if _, err := js.Stream(ctx, streamName); err != nil {
		log.Printf("Stream '%s' not found, attempting to create...", streamName)
		streamCfg := jetstream.StreamConfig{
			Name:        streamName,
			Description: "Transient letter-relay diagnostics events",
			Subjects:    []string{fmt.Sprintf("%s.>", prefix)},
			MaxAge:      24 * time.Hour,
			Storage:     jetstream.MemoryStorage,
		}
		if _, err := js.CreateStream(ctx, streamCfg); err != nil {
			nc.Close()
			return nil, fmt.Errorf("failed to create stream '%s': %w", streamName, err)
		}
		log.Printf("Stream '%s' created successfully", streamName)
	}

	return &Feed{nc: nc, js: js, prefix: prefix}, nil
}

// Close drops the NATS connection.
func (f *Feed) Close() {
	if f == nil || f.nc == nil {
		return
	}
	f.nc.Close()
}

// PublishLetter records a delivered letter. Fire-and-forget: publish errors
// are logged, never returned, and routing never waits on the broker.
func (f *Feed) PublishLetter(letter models.Letter) {
	if f == nil {
		return
	}
	f.publish(f.prefix+".letters", letterRecord{
		LetterID:    letter.ID,
		SenderID:    letter.SenderID,
		RecipientID: letter.RecipientID,
		ContentSize: len(letter.Content),
		Timestamp:   letter.Timestamp,
	})
}

// PublishPresence records an online-count change.
func (f *Feed) PublishPresence(count int) {
	if f == nil {
		return
	}
	f.publish(f.prefix+".presence", presenceRecord{Count: count, At: time.Now().UTC()})
}

func (f *Feed) publish(subject string, record any) {
	data, err := json.Marshal(record)
	if err != nil {
		log.Printf("Failed to marshal feed record for '%s': %v", subject, err)
		return
	}
	if _, err := f.js.PublishAsync(subject, data); err != nil {
		log.Printf("Failed to publish feed record to '%s': %v", subject, err)
	}
}
