package subscriptions

import (
	"time"
)

// Event is one committed change to the graph.
type Event struct {
	ID        string    `json:"id"`
	Type      string    `json:"type"` // node.created, property.set, link.created, index.added, ...
	Timestamp time.Time `json:"timestamp"`
	TxID      string    `json:"tx_id"`

	// Node event fields
	NodeID string `json:"node_id,omitempty"`

	// Link event fields
	LinkID     string `json:"link_id,omitempty"`
	LinkSource string `json:"link_source,omitempty"`
	LinkTarget string `json:"link_target,omitempty"`
	LinkType   string `json:"link_type,omitempty"`

	// Index event fields
	Index string `json:"index,omitempty"`

	// Property key and value for property and index events
	Meta map[string]interface{} `json:"meta,omitempty"`
}

// Event type constants
const (
	EventNodeCreated     = "node.created"
	EventNodeDeleted     = "node.deleted"
	EventPropertySet     = "property.set"
	EventPropertyRemoved = "property.removed"
	EventLinkCreated     = "link.created"
	EventLinkDeleted     = "link.deleted"
	EventIndexAdded      = "index.added"
	EventIndexRemoved    = "index.removed"
)

// SubscriptionPattern defines what events a subscription matches
type SubscriptionPattern struct {
	EventTypes []string               `json:"event_types,omitempty"`
	LinkTypes  []string               `json:"link_types,omitempty"` // only checked on link events
	Indexes    []string               `json:"indexes,omitempty"`    // only checked on index events
	MetaMatch  map[string]interface{} `json:"meta_match,omitempty"`

	// Query, when set, must return a non-empty result (or a non-zero
	// count) for the subscription to fire.
	Query string `json:"query,omitempty"`
}

// Subscription is a standing pattern that fires a webhook when a
// committed event matches.
type Subscription struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`

	Pattern SubscriptionPattern `json:"pattern"`
	Webhook string              `json:"webhook"`

	Enabled   bool       `json:"enabled"`
	Created   time.Time  `json:"created"`
	Modified  time.Time  `json:"modified"`
	LastFired *time.Time `json:"last_fired,omitempty"`
	FireCount int        `json:"fire_count"`
}

// Notification is sent when a subscription pattern matches
type Notification struct {
	SubscriptionID   string    `json:"subscription_id"`
	SubscriptionName string    `json:"subscription_name"`
	Event            Event     `json:"event"`
	MatchedAt        time.Time `json:"matched_at"`

	QueryResults []map[string]interface{} `json:"query_results,omitempty"`
}

// CreateSubscriptionRequest is the API request to create a subscription
type CreateSubscriptionRequest struct {
	Name        string              `json:"name"`
	Description string              `json:"description,omitempty"`
	Pattern     SubscriptionPattern `json:"pattern"`
	Webhook     string              `json:"webhook"`
}

// UpdateSubscriptionRequest is the API request to update a subscription
type UpdateSubscriptionRequest struct {
	Name        *string              `json:"name,omitempty"`
	Description *string              `json:"description,omitempty"`
	Pattern     *SubscriptionPattern `json:"pattern,omitempty"`
	Webhook     *string              `json:"webhook,omitempty"`
	Enabled     *bool                `json:"enabled,omitempty"`
}

// SubscriptionResponse is the API response for subscription operations
type SubscriptionResponse struct {
	Subscription *Subscription `json:"subscription,omitempty"`
	Error        string        `json:"error,omitempty"`
}

// ListSubscriptionsResponse is the API response for listing subscriptions
type ListSubscriptionsResponse struct {
	Subscriptions []*Subscription `json:"subscriptions"`
	Count         int             `json:"count"`
}
