package eventsink

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/elastic/go-elasticsearch/v8"

	"notification-workers/internal/delivery"
)

const DefaultAuditIndex = "notification-delivery-events"

const auditMapping = `{
  "mappings": {
    "properties": {
      "type":           {"type": "keyword"},
      "channel":        {"type": "keyword"},
      "notificationId": {"type": "keyword"},
      "deliveryId":     {"type": "keyword"},
      "retryCount":     {"type": "integer"},
      "available":      {"type": "boolean"},
      "error":          {"type": "text"},
      "payload":        {"type": "object", "enabled": false},
      "timestamp":      {"type": "date"}
    }
  }
}`

// ElasticsearchAudit indexes delivery events for later inspection.
type ElasticsearchAudit struct {
	client *elasticsearch.Client
	index  string
}

func NewElasticsearchAudit(client *elasticsearch.Client, index string) *ElasticsearchAudit {
	if index == "" {
		index = DefaultAuditIndex
	}
	return &ElasticsearchAudit{client: client, index: index}
}

func (a *ElasticsearchAudit) Name() string { return "elasticsearch" }

// EnsureIndex creates the index with its mapping when it does not exist.
func (a *ElasticsearchAudit) EnsureIndex(ctx context.Context) error {
	res, err := a.client.Indices.Exists([]string{a.index}, a.client.Indices.Exists.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch index check failed: %w", err)
	}
	res.Body.Close()
	if res.StatusCode == 200 {
		return nil
	}

	res, err = a.client.Indices.Create(a.index,
		a.client.Indices.Create.WithContext(ctx),
		a.client.Indices.Create.WithBody(strings.NewReader(auditMapping)),
	)
	if err != nil {
		return fmt.Errorf("elasticsearch index create failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch index create error: %s", res.Status())
	}
	return nil
}

func (a *ElasticsearchAudit) Handle(ctx context.Context, e delivery.Event) error {
	body, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}
	res, err := a.client.Index(a.index, bytes.NewReader(body), a.client.Index.WithContext(ctx))
	if err != nil {
		return fmt.Errorf("elasticsearch index failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return fmt.Errorf("elasticsearch index error: %s", res.Status())
	}
	return nil
}

type searchResponse struct {
	Hits struct {
		Hits []struct {
			Source delivery.Event `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// EventsForNotification returns the audit trail of one notification, oldest first.
func (a *ElasticsearchAudit) EventsForNotification(ctx context.Context, notificationID string, size int) ([]delivery.Event, error) {
	if size <= 0 {
		size = 100
	}
	query := map[string]interface{}{
		"query": map[string]interface{}{
			"term": map[string]interface{}{"notificationId": notificationID},
		},
		"sort": []interface{}{map[string]interface{}{"timestamp": "asc"}},
		"size": size,
	}
	body, err := json.Marshal(query)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	res, err := a.client.Search(
		a.client.Search.WithContext(ctx),
		a.client.Search.WithIndex(a.index),
		a.client.Search.WithBody(bytes.NewReader(body)),
	)
	if err != nil {
		return nil, fmt.Errorf("elasticsearch search failed: %w", err)
	}
	defer res.Body.Close()
	if res.IsError() {
		return nil, fmt.Errorf("elasticsearch search error: %s", res.Status())
	}

	var parsed searchResponse
	if err := json.NewDecoder(res.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("failed to decode search response: %w", err)
	}
	events := make([]delivery.Event, 0, len(parsed.Hits.Hits))
	for _, h := range parsed.Hits.Hits {
		events = append(events, h.Source)
	}
	return events, nil
}
