package dataset

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/JakeFAU/contextractor/internal/crawler"
)

// Notification is published once per appended record.
type Notification struct {
	RunID      string            `json:"run_id"`
	LoadedURL  string            `json:"loaded_url"`
	LoadedAt   string            `json:"loaded_at"`
	HTTPStatus int               `json:"http_status"`
	Artifacts  map[string]string `json:"artifacts"`
}

// NewNotification summarizes result for subscribers.
func NewNotification(runID string, result crawler.PageResult) Notification {
	artifacts := make(map[string]string)
	for name, ref := range result.Artifacts() {
		artifacts[name] = ref.Key
	}
	return Notification{
		RunID:      runID,
		LoadedURL:  result.LoadedURL,
		LoadedAt:   result.LoadedAt,
		HTTPStatus: result.HTTPStatus,
		Artifacts:  artifacts,
	}
}

// Notifying publishes a Notification after every successful append. Publish
// failures are logged; the record is already stored at that point.
type Notifying struct {
	next      crawler.Dataset
	publisher crawler.Publisher
	topic     string
	runID     string
	logger    *zap.Logger
}

// NewNotifying wraps next.
func NewNotifying(next crawler.Dataset, publisher crawler.Publisher, topic, runID string, logger *zap.Logger) (*Notifying, error) {
	if next == nil {
		return nil, fmt.Errorf("dataset is required")
	}
	if publisher == nil {
		return nil, fmt.Errorf("publisher is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Notifying{
		next:      next,
		publisher: publisher,
		topic:     topic,
		runID:     runID,
		logger:    logger.Named("dataset_notify"),
	}, nil
}

// Append stores result and then announces it.
func (n *Notifying) Append(ctx context.Context, result crawler.PageResult) error {
	if err := n.next.Append(ctx, result); err != nil {
		return err //nolint:wrapcheck // already wrapped by the backend
	}
	id, err := n.publisher.Publish(ctx, n.topic, NewNotification(n.runID, result))
	if err != nil {
		n.logger.Warn("publish notification failed",
			zap.String("url", result.LoadedURL),
			zap.String("topic", n.topic),
			zap.Error(err),
		)
		return nil
	}
	n.logger.Debug("notification published", zap.String("url", result.LoadedURL), zap.String("message_id", id))
	return nil
}

// Close closes the wrapped dataset when it supports closing.
func (n *Notifying) Close() error {
	if c, ok := n.next.(Store); ok {
		return c.Close() //nolint:wrapcheck // backend error is descriptive
	}
	return nil
}
