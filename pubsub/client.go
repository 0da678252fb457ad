// Package pubsub wraps Cloud Pub/Sub topics and subscriptions with
// typed publish, pull, and acknowledge operations. Topic short names
// get the configured prefix; message payloads travel base64-encoded on
// the wire.
package pubsub

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/api/option"
	pubsubapi "google.golang.org/api/pubsub/v1"

	"github.com/gcpkit/gcpkit/config"
	"github.com/gcpkit/gcpkit/gcperr"
)

const serviceName = "pubsub"

const defaultAckDeadlineSeconds = 10

// Client wraps the Pub/Sub API for the configured project.
type Client struct {
	service  *pubsubapi.Service
	settings *config.Settings
	logger   *slog.Logger
}

// NewClient builds a Pub/Sub client using the settings' credentials.
func NewClient(ctx context.Context, settings *config.Settings, opts ...option.ClientOption) (*Client, error) {
	if settings == nil {
		return nil, gcperr.Configuration("settings must not be nil", nil)
	}

	allOpts := append(settings.ClientOptions(), opts...)
	service, err := pubsubapi.NewService(ctx, allOpts...)
	if err != nil {
		return nil, gcperr.Unauthenticated(serviceName, "failed to create pubsub service", err)
	}

	return &Client{
		service:  service,
		settings: settings,
		logger:   slog.Default().With("service", serviceName),
	}, nil
}

// Topics

// CreateTopic creates a topic. The configured topic prefix is applied
// to the short name.
func (c *Client) CreateTopic(ctx context.Context, topicID string, labels map[string]string) (*TopicInfo, error) {
	if topicID == "" {
		return nil, gcperr.Validation(serviceName, "topic id is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "creating topic", "topic", topicID)

	topic, err := c.service.Projects.Topics.Create(c.topicPath(topicID), &pubsubapi.Topic{
		Labels: labels,
	}).Context(ctx).Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "create topic", err).WithDetail("topic", topicID)
	}
	return toTopicInfo(topic), nil
}

// GetTopic fetches one topic.
func (c *Client) GetTopic(ctx context.Context, topicID string) (*TopicInfo, error) {
	if topicID == "" {
		return nil, gcperr.Validation(serviceName, "topic id is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "getting topic", "topic", topicID)

	topic, err := c.service.Projects.Topics.Get(c.topicPath(topicID)).Context(ctx).Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "get topic", err).WithDetail("topic", topicID)
	}
	return toTopicInfo(topic), nil
}

// ListTopics lists every topic in the project.
func (c *Client) ListTopics(ctx context.Context) ([]TopicInfo, error) {
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "listing topics")

	var topics []TopicInfo
	err := c.service.Projects.Topics.List("projects/"+c.settings.ProjectID).
		Pages(ctx, func(resp *pubsubapi.ListTopicsResponse) error {
			for _, t := range resp.Topics {
				topics = append(topics, *toTopicInfo(t))
			}
			return nil
		})
	if err != nil {
		return nil, gcperr.Classify(serviceName, "list topics", err)
	}
	return topics, nil
}

// DeleteTopic removes a topic. Existing subscriptions survive but stop
// receiving messages.
func (c *Client) DeleteTopic(ctx context.Context, topicID string) error {
	if topicID == "" {
		return gcperr.Validation(serviceName, "topic id is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "deleting topic", "topic", topicID)

	if _, err := c.service.Projects.Topics.Delete(c.topicPath(topicID)).Context(ctx).Do(); err != nil {
		return gcperr.Classify(serviceName, "delete topic", err).WithDetail("topic", topicID)
	}
	return nil
}

// Publishing

// Publish sends one message and returns its server-assigned ID.
func (c *Client) Publish(ctx context.Context, topicID string, data []byte, attributes map[string]string, orderingKey string) (string, error) {
	if topicID == "" {
		return "", gcperr.Validation(serviceName, "topic id is required")
	}
	if len(data) == 0 {
		return "", gcperr.Validation(serviceName, "message data is empty")
	}
	ids, err := c.PublishBatch(ctx, topicID, []BatchMessage{
		{Data: data, Attributes: attributes, OrderingKey: orderingKey},
	})
	if err != nil {
		return "", err
	}
	return ids[0], nil
}

// PublishBatch sends several messages in one request and returns their
// IDs in order.
func (c *Client) PublishBatch(ctx context.Context, topicID string, messages []BatchMessage) ([]string, error) {
	if topicID == "" {
		return nil, gcperr.Validation(serviceName, "topic id is required")
	}
	if len(messages) == 0 {
		return nil, gcperr.Validation(serviceName, "messages list is empty")
	}
	for i := range messages {
		if len(messages[i].Data) == 0 {
			return nil, gcperr.Validation(serviceName, "every message requires data")
		}
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "publishing messages", "topic", topicID, "count", len(messages))

	wire := make([]*pubsubapi.PubsubMessage, len(messages))
	for i, m := range messages {
		wire[i] = &pubsubapi.PubsubMessage{
			Data:        base64.StdEncoding.EncodeToString(m.Data),
			Attributes:  m.Attributes,
			OrderingKey: m.OrderingKey,
		}
	}

	resp, err := c.service.Projects.Topics.Publish(c.topicPath(topicID), &pubsubapi.PublishRequest{
		Messages: wire,
	}).Context(ctx).Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "publish messages", err).WithDetail("topic", topicID)
	}
	return resp.MessageIds, nil
}

// Subscriptions

// CreateSubscription attaches a pull or push subscription to a topic.
// ackDeadlineSeconds <= 0 defaults to 10; a non-empty pushEndpoint
// makes it a push subscription.
func (c *Client) CreateSubscription(ctx context.Context, subscriptionID, topicID string, ackDeadlineSeconds int64, pushEndpoint string, retainAcked bool) (*SubscriptionInfo, error) {
	if subscriptionID == "" || topicID == "" {
		return nil, gcperr.Validation(serviceName, "subscription and topic ids are required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "creating subscription", "subscription", subscriptionID, "topic", topicID)

	if ackDeadlineSeconds <= 0 {
		ackDeadlineSeconds = defaultAckDeadlineSeconds
	}
	sub := &pubsubapi.Subscription{
		Topic:               c.topicPath(topicID),
		AckDeadlineSeconds:  ackDeadlineSeconds,
		RetainAckedMessages: retainAcked,
	}
	if pushEndpoint != "" {
		sub.PushConfig = &pubsubapi.PushConfig{PushEndpoint: pushEndpoint}
	}

	created, err := c.service.Projects.Subscriptions.Create(c.subscriptionPath(subscriptionID), sub).
		Context(ctx).Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "create subscription", err).
			WithDetail("subscription", subscriptionID).WithDetail("topic", topicID)
	}
	return toSubscriptionInfo(created), nil
}

// GetSubscription fetches one subscription.
func (c *Client) GetSubscription(ctx context.Context, subscriptionID string) (*SubscriptionInfo, error) {
	if subscriptionID == "" {
		return nil, gcperr.Validation(serviceName, "subscription id is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "getting subscription", "subscription", subscriptionID)

	sub, err := c.service.Projects.Subscriptions.Get(c.subscriptionPath(subscriptionID)).Context(ctx).Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "get subscription", err).
			WithDetail("subscription", subscriptionID)
	}
	return toSubscriptionInfo(sub), nil
}

// ListSubscriptions lists every subscription in the project.
func (c *Client) ListSubscriptions(ctx context.Context) ([]SubscriptionInfo, error) {
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "listing subscriptions")

	var subs []SubscriptionInfo
	err := c.service.Projects.Subscriptions.List("projects/"+c.settings.ProjectID).
		Pages(ctx, func(resp *pubsubapi.ListSubscriptionsResponse) error {
			for _, s := range resp.Subscriptions {
				subs = append(subs, *toSubscriptionInfo(s))
			}
			return nil
		})
	if err != nil {
		return nil, gcperr.Classify(serviceName, "list subscriptions", err)
	}
	return subs, nil
}

// DeleteSubscription removes a subscription and its backlog.
func (c *Client) DeleteSubscription(ctx context.Context, subscriptionID string) error {
	if subscriptionID == "" {
		return gcperr.Validation(serviceName, "subscription id is required")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "deleting subscription", "subscription", subscriptionID)

	if _, err := c.service.Projects.Subscriptions.Delete(c.subscriptionPath(subscriptionID)).Context(ctx).Do(); err != nil {
		return gcperr.Classify(serviceName, "delete subscription", err).
			WithDetail("subscription", subscriptionID)
	}
	return nil
}

// Pull fetches up to maxMessages from a subscription. With
// returnImmediately the call does not wait for messages to arrive.
func (c *Client) Pull(ctx context.Context, subscriptionID string, maxMessages int64, returnImmediately bool) ([]Message, error) {
	if subscriptionID == "" {
		return nil, gcperr.Validation(serviceName, "subscription id is required")
	}
	if maxMessages <= 0 {
		maxMessages = 10
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "pulling messages", "subscription", subscriptionID, "max", maxMessages)

	resp, err := c.service.Projects.Subscriptions.Pull(c.subscriptionPath(subscriptionID), &pubsubapi.PullRequest{
		MaxMessages:       maxMessages,
		ReturnImmediately: returnImmediately,
	}).Context(ctx).Do()
	if err != nil {
		return nil, gcperr.Classify(serviceName, "pull messages", err).
			WithDetail("subscription", subscriptionID)
	}

	messages := make([]Message, 0, len(resp.ReceivedMessages))
	for _, rm := range resp.ReceivedMessages {
		msg, err := decodeReceived(rm)
		if err != nil {
			return nil, gcperr.New(serviceName, "failed to decode pulled message", err).
				WithDetail("subscription", subscriptionID)
		}
		messages = append(messages, msg)
	}
	return messages, nil
}

// Acknowledge confirms processing of pulled messages.
func (c *Client) Acknowledge(ctx context.Context, subscriptionID string, ackIDs []string) error {
	if subscriptionID == "" {
		return gcperr.Validation(serviceName, "subscription id is required")
	}
	if len(ackIDs) == 0 {
		return gcperr.Validation(serviceName, "ack ids list is empty")
	}
	ctx, cancel := c.settings.OperationContext(ctx)
	defer cancel()
	c.logCall(ctx, "acknowledging messages", "subscription", subscriptionID, "count", len(ackIDs))

	_, err := c.service.Projects.Subscriptions.Acknowledge(c.subscriptionPath(subscriptionID), &pubsubapi.AcknowledgeRequest{
		AckIds: ackIDs,
	}).Context(ctx).Do()
	if err != nil {
		return gcperr.Classify(serviceName, "acknowledge messages", err).
			WithDetail("subscription", subscriptionID)
	}
	return nil
}

// Helpers

func (c *Client) topicPath(topicID string) string {
	return fmt.Sprintf("projects/%s/topics/%s%s",
		c.settings.ProjectID, c.settings.PubsubTopicPrefix, topicID)
}

func (c *Client) subscriptionPath(subscriptionID string) string {
	return fmt.Sprintf("projects/%s/subscriptions/%s", c.settings.ProjectID, subscriptionID)
}

func (c *Client) logCall(ctx context.Context, msg string, attrs ...any) {
	if c.settings.EnableRequestLogging {
		c.logger.DebugContext(ctx, msg, attrs...)
	}
}

func toTopicInfo(t *pubsubapi.Topic) *TopicInfo {
	return &TopicInfo{
		Name:     shortName(t.Name),
		FullName: t.Name,
		Labels:   t.Labels,
	}
}

func toSubscriptionInfo(s *pubsubapi.Subscription) *SubscriptionInfo {
	info := &SubscriptionInfo{
		Name:                shortName(s.Name),
		FullName:            s.Name,
		Topic:               s.Topic,
		AckDeadlineSeconds:  s.AckDeadlineSeconds,
		RetainAckedMessages: s.RetainAckedMessages,
	}
	if s.PushConfig != nil {
		info.PushEndpoint = s.PushConfig.PushEndpoint
	}
	return info
}

func decodeReceived(rm *pubsubapi.ReceivedMessage) (Message, error) {
	msg := Message{AckID: rm.AckId}
	if rm.Message == nil {
		return msg, nil
	}

	data, err := base64.StdEncoding.DecodeString(rm.Message.Data)
	if err != nil {
		return Message{}, err
	}
	msg.MessageID = rm.Message.MessageId
	msg.Data = data
	msg.Attributes = rm.Message.Attributes
	if rm.Message.PublishTime != "" {
		if t, err := time.Parse(time.RFC3339Nano, rm.Message.PublishTime); err == nil {
			msg.PublishTime = t
		}
	}
	return msg, nil
}

func shortName(name string) string {
	if name == "" {
		return ""
	}
	parts := strings.Split(name, "/")
	return parts[len(parts)-1]
}
