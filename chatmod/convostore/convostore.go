package convostore

import (
	"context"
)

// Number of recent messages retained per channel and handed to the text
// classifier as rolling context.
const WindowSize = 3

// A single prior message in a channel: who said it, and what they said.
type ConvoEntry struct {
	Speaker string `json:"speaker"`
	Content string `json:"content"`
}

// ConvoStore is a bounded per-channel window of recent messages. Entries are
// append-only except for the cap: once a channel holds WindowSize entries,
// appending drops the oldest.
//
// Reads and appends for a given channel are expected to come from a single
// inbound-message handler at a time; different channels are independent.
type ConvoStore interface {
	// Get returns up to WindowSize most recent entries for the channel, oldest
	// first. An unknown channel is not an error and yields an empty window.
	Get(ctx context.Context, channelID string) ([]ConvoEntry, error)
	Append(ctx context.Context, channelID string, entry ConvoEntry) error
}
