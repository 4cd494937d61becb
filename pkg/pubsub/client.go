package pubsub

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	gcppubsub "cloud.google.com/go/pubsub/v2"
	"cloud.google.com/go/pubsub/v2/apiv1/pubsubpb"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/angelmondragon/partner-dispatch/pkg/config"
	"github.com/angelmondragon/partner-dispatch/pkg/logger"
	"github.com/angelmondragon/partner-dispatch/pkg/outbox"
)

var errProjectIDRequired = errors.New("gcp project id is required")

// Client wraps Pub/Sub v2 for the relay (as an outbox.Sink) and for workers
// that consume delivery and analytics subscriptions.
type Client struct {
	client    *gcppubsub.Client
	projectID string
	cfg       config.PubSubConfig

	mu         sync.Mutex
	publishers map[string]*gcppubsub.Publisher
}

// NewClient creates a Pub/Sub client and verifies every configured
// subscription exists.
func NewClient(ctx context.Context, gcp config.GCPConfig, cfg config.PubSubConfig, logg *logger.Logger) (*Client, error) {
	if strings.TrimSpace(gcp.ProjectID) == "" {
		return nil, errProjectIDRequired
	}
	psClient, err := gcppubsub.NewClient(ctx, gcp.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("creating pubsub client: %w", err)
	}
	c := &Client{
		client:     psClient,
		projectID:  gcp.ProjectID,
		cfg:        cfg,
		publishers: map[string]*gcppubsub.Publisher{},
	}
	if err := c.checkSubscriptions(ctx); err != nil {
		_ = psClient.Close()
		return nil, err
	}
	if logg != nil {
		logg.Info(ctx, "pubsub client initialized")
	}
	return c, nil
}

func configuredSubscriptions(cfg config.PubSubConfig) []string {
	names := []string{}
	for _, name := range []string{cfg.DeliverySubscription, cfg.AnalyticsSubscription} {
		if trimmed := strings.TrimSpace(name); trimmed != "" {
			names = append(names, trimmed)
		}
	}
	return names
}

func (c *Client) checkSubscriptions(ctx context.Context) error {
	for _, name := range configuredSubscriptions(c.cfg) {
		_, err := c.client.SubscriptionAdminClient.GetSubscription(ctx, &pubsubpb.GetSubscriptionRequest{
			Subscription: resourceName(c.projectID, "subscriptions", name),
		})
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return fmt.Errorf("subscription %q does not exist", name)
			}
			return fmt.Errorf("checking subscription %q: %w", name, err)
		}
	}
	return nil
}

func (c *Client) checkTopics(ctx context.Context) error {
	for _, name := range []string{c.cfg.DispatchTopic, c.cfg.NotificationTopic} {
		if strings.TrimSpace(name) == "" {
			continue
		}
		_, err := c.client.TopicAdminClient.GetTopic(ctx, &pubsubpb.GetTopicRequest{
			Topic: resourceName(c.projectID, "topics", name),
		})
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return fmt.Errorf("topic %q does not exist", name)
			}
			return fmt.Errorf("checking topic %q: %w", name, err)
		}
	}
	return nil
}

// Subscriber returns a handle for a subscription id or full resource name.
func (c *Client) Subscriber(name string) *gcppubsub.Subscriber {
	if c == nil || c.client == nil || strings.TrimSpace(name) == "" {
		return nil
	}
	return c.client.Subscriber(resourceName(c.projectID, "subscriptions", name))
}

func (c *Client) DeliverySubscriber() *gcppubsub.Subscriber {
	return c.Subscriber(c.cfg.DeliverySubscription)
}

func (c *Client) AnalyticsSubscriber() *gcppubsub.Subscriber {
	return c.Subscriber(c.cfg.AnalyticsSubscription)
}

// Publisher returns a cached publisher for a topic id or resource name.
func (c *Client) Publisher(topic string) *gcppubsub.Publisher {
	if c == nil || c.client == nil || strings.TrimSpace(topic) == "" {
		return nil
	}
	full := resourceName(c.projectID, "topics", topic)
	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.publishers[full]; ok {
		return p
	}
	p := c.client.Publisher(full)
	p.EnableMessageOrdering = true
	c.publishers[full] = p
	return p
}

// Send publishes msg with the outbox key as ordering key and waits for the
// server id.
func (c *Client) Send(ctx context.Context, msg outbox.Message) error {
	pub := c.Publisher(msg.Topic)
	if pub == nil {
		return fmt.Errorf("publisher not configured for topic %q", msg.Topic)
	}
	result := pub.Publish(ctx, &gcppubsub.Message{
		Data:        msg.Data,
		Attributes:  msg.Attributes,
		OrderingKey: msg.Key,
	})
	if _, err := result.Get(ctx); err != nil {
		if msg.Key != "" {
			pub.ResumePublish(msg.Key)
		}
		return fmt.Errorf("pubsub publish to %s: %w", msg.Topic, err)
	}
	return nil
}

// Ping checks the configured topics and subscriptions.
func (c *Client) Ping(ctx context.Context) error {
	if c == nil || c.client == nil {
		return errors.New("pubsub client not initialized")
	}
	if err := c.checkTopics(ctx); err != nil {
		return err
	}
	return c.checkSubscriptions(ctx)
}

func (c *Client) Close() error {
	if c == nil || c.client == nil {
		return nil
	}
	c.mu.Lock()
	for _, p := range c.publishers {
		p.Stop()
	}
	c.publishers = map[string]*gcppubsub.Publisher{}
	c.mu.Unlock()
	return c.client.Close()
}

// resourceName expands a bare id into projects/<project>/<kind>/<id>.
func resourceName(projectID, kind, name string) string {
	n := strings.TrimSpace(name)
	if strings.HasPrefix(n, "projects/") && strings.Contains(n, "/"+kind+"/") {
		return n
	}
	return fmt.Sprintf("projects/%s/%s/%s", strings.TrimSpace(projectID), kind, n)
}

var _ outbox.Sink = (*Client)(nil)
