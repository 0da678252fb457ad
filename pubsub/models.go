package pubsub

import "time"

// TopicInfo describes a Pub/Sub topic.
type TopicInfo struct {
	Name     string            `json:"name"`
	FullName string            `json:"full_name"`
	Labels   map[string]string `json:"labels,omitempty"`
}

// SubscriptionInfo describes a subscription.
type SubscriptionInfo struct {
	Name                string `json:"name"`
	FullName            string `json:"full_name"`
	Topic               string `json:"topic"`
	AckDeadlineSeconds  int64  `json:"ack_deadline_seconds"`
	RetainAckedMessages bool   `json:"retain_acked_messages"`
	PushEndpoint        string `json:"push_endpoint,omitempty"`
}

// BatchMessage is one message in a PublishBatch call.
type BatchMessage struct {
	Data        []byte            `json:"data"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	OrderingKey string            `json:"ordering_key,omitempty"`
}

// Message is a pulled message together with its acknowledgement ID.
type Message struct {
	AckID       string            `json:"ack_id"`
	MessageID   string            `json:"message_id"`
	Data        []byte            `json:"data"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	PublishTime time.Time         `json:"publish_time"`
}
