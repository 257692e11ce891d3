// Package publisher declares the topic publisher used to announce crawl run
// lifecycle changes to downstream consumers.
package publisher

import "context"

// Publisher delivers a JSON encoded payload to topic with string attributes
// and returns the broker assigned message ID.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any, attrs map[string]string) (string, error)
}
