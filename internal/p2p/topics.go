package p2p

import (
	"fmt"
)

// TopicScoreUpdates is the single gossipsub topic this node publishes
// and subscribes to: advisory score announcements, never raw
// experiences.
const TopicScoreUpdates = "trust/score-updates/1.0.0"

// TopicManager validates messages on the node's gossipsub topics. The
// node only ever runs one topic, but the validation shape is kept
// separate from the host so a second advisory topic can be added
// without touching Start/Stop/Publish.
type TopicManager struct {
	maxMessageSize int
}

// NewTopicManager creates a new topic manager.
func NewTopicManager(maxMessageSize int) *TopicManager {
	return &TopicManager{maxMessageSize: maxMessageSize}
}

// IsValidTopic reports whether topic is one this node handles.
func (tm *TopicManager) IsValidTopic(topic string) bool {
	return topic == TopicScoreUpdates
}

// GetCoreTopics returns the topics the host subscribes to on startup.
func (tm *TopicManager) GetCoreTopics() []string {
	return []string{TopicScoreUpdates}
}

// ValidateTopicMessage performs basic validation on a topic message.
func (tm *TopicManager) ValidateTopicMessage(topic string, data []byte) error {
	if !tm.IsValidTopic(topic) {
		return fmt.Errorf("invalid topic: %s", topic)
	}
	if len(data) == 0 {
		return fmt.Errorf("empty message data")
	}
	if len(data) > tm.maxMessageSize {
		return fmt.Errorf("message too large: %d bytes (max %d)", len(data), tm.maxMessageSize)
	}
	return nil
}
