// Package relay routes letters to uniformly random recipients and fans out
// presence updates to everyone online.
package relay

import (
	"errors"
	"fmt"
	"log"
	"math/rand/v2"

	"github.com/samber/lo"

	"github.com/driftpost/driftpost/models"
	"github.com/driftpost/driftpost/natsfeed"
	"github.com/driftpost/driftpost/registry"
)

// ErrNoRecipients means nobody besides the sender is online right now. The
// sender may simply try again later.
var ErrNoRecipients = errors.New("no online users available to receive your letter")

type Service struct {
	reg  *registry.Registry
	feed *natsfeed.Feed
}

func New(reg *registry.Registry, feed *natsfeed.Feed) *Service {
	return &Service{reg: reg, feed: feed}
}

// RouteLetter picks a random currently-online participant other than the
// sender and delivers the letter to both sides: receive_letter to the
// recipient, letter_sent to the sender. Each online non-sender participant
// has equal probability of being picked at call time.
//
// A pick can lose a race with that participant disconnecting; in that case
// the candidate pool is re-snapshotted and the pick retried, failing with
// ErrNoRecipients once the pool is empty. A letter is never delivered to an
// unregistered id.
func (s *Service) RouteLetter(senderID, content string) (models.Letter, error) {
	sender, ok := s.reg.Lookup(senderID)
	if !ok {
		return models.Letter{}, fmt.Errorf("sender %s is not registered", senderID)
	}

	for {
		candidates := lo.Filter(s.reg.Snapshot(), func(e registry.Entry, _ int) bool {
			return e.ID != senderID
		})
		if len(candidates) == 0 {
			return models.Letter{}, ErrNoRecipients
		}

		picked := candidates[rand.IntN(len(candidates))]

		// Revalidate against the registry: the snapshot may be stale by now.
		recipient, ok := s.reg.Lookup(picked.ID)
		if !ok {
			continue
		}

		letter := models.NewLetter(senderID, sender.Name, recipient.ID, recipient.Name, content)

		// The two deliveries are independent. A dead recipient becomes a
		// disconnect for the recipient, not an error for the sender: the
		// letter was validly constructed, so the sender still gets its
		// confirmation.
		if err := recipient.Conn.Send(models.NewReceiveLetterEvent(letter)); err != nil {
			log.Printf("Failed to deliver letter %s to %s: %v", letter.ID, recipient.ID, err)
			s.Evict(recipient.ID)
		}
		if err := sender.Conn.Send(models.NewLetterSentEvent(letter)); err != nil {
			log.Printf("Failed to confirm letter %s to sender %s: %v", letter.ID, senderID, err)
			s.Evict(senderID)
		}

		s.feed.PublishLetter(letter)
		return letter, nil
	}
}

// BroadcastOnlineCount pushes the current registry size to every registered
// participant. A send failure evicts that participant and never aborts
// delivery to the rest.
func (s *Service) BroadcastOnlineCount() {
	entries := s.reg.Snapshot()
	count := len(entries)
	event := models.NewOnlineCountEvent(count)

	var dead []registry.Entry
	for _, e := range entries {
		if err := e.Conn.Send(event); err != nil {
			log.Printf("Failed to broadcast online count to %s: %v", e.ID, err)
			dead = append(dead, e)
		}
	}

	s.feed.PublishPresence(count)

	if len(dead) == 0 {
		return
	}
	removed := false
	for _, e := range dead {
		if s.reg.Unregister(e.ID) {
			e.Conn.Close()
			removed = true
		}
	}
	// Registry shrank, so everyone still online gets the corrected count.
	// Terminates: each round removes at least one participant.
	if removed {
		s.BroadcastOnlineCount()
	}
}

// Evict removes one participant and closes its connection, then tells
// everyone left about the new count. Used when a connection proves dead
// outside its own read loop (failed delivery, failed probe).
func (s *Service) Evict(id string) {
	entry, ok := s.reg.Lookup(id)
	if !ok {
		return
	}
	if !s.reg.Unregister(id) {
		return
	}
	entry.Conn.Close()
	s.BroadcastOnlineCount()
}
