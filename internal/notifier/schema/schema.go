// Package schema decodes raw queue payloads into the six recognized
// service-notification variants.
package schema

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
)

// Kind is the event discriminator carried by every notification.
type Kind string

const (
	KindLogin               Kind = "login"
	KindDelete               Kind = "delete"
	KindPrimaryEmailChanged  Kind = "primaryEmailChanged"
	KindProfileDataChange    Kind = "profileDataChange"
	KindPasswordChange       Kind = "passwordChange"
	KindReset                Kind = "reset"
	KindSubscriptionUpdate   Kind = "subscription:update"
)

// eventType is the label value each handler records on message.type.
func (k Kind) eventType() string {
	switch k {
	case KindDelete:
		return "delete"
	case KindPrimaryEmailChanged, KindProfileDataChange:
		return "profile"
	case KindPasswordChange, KindReset:
		return "password"
	default:
		return string(k)
	}
}

// Notification is the result of decoding a raw message: exactly one of the
// typed variants is non-nil, or Unwanted is true.
type Notification struct {
	Kind Kind

	Login        *LoginNotification
	Subscription *SubscriptionUpdateNotification
	Generic      *GenericNotification // delete, profile, password variants

	// Unwanted marks an unrecognized or unvalidatable payload: swallowed
	// silently with a debug log, never retried.
	Unwanted bool
}

// EventType returns the message.type counter label for this notification.
func (n *Notification) EventType() string {
	return n.Kind.eventType()
}

// LoginNotification corresponds to the `login` wire event.
type LoginNotification struct {
	UID          string
	ClientID     string // optional; empty means "no client_id"
	ChangeTimeMS int64
	DeviceCount  int
}

// SubscriptionUpdateNotification corresponds to `subscription:update`.
type SubscriptionUpdateNotification struct {
	UID                 string
	EventCreatedAtSec    int64
	IsActive             bool
	ProductCapabilities  []string
}

// ChangeTimeMS is eventCreatedAt coerced to milliseconds.
func (s *SubscriptionUpdateNotification) ChangeTimeMS() int64 {
	return s.EventCreatedAtSec * 1000
}

// GenericNotification covers delete, profile-change (primaryEmailChanged /
// profileDataChange) and password-change (passwordChange / reset) variants:
// all three share the same shape.
type GenericNotification struct {
	UID          string
	ChangeTimeMS int64
}

// wireMessage is the superset shape used to sniff the discriminator and
// coerce timestamps before dispatching to a variant-specific decode.
type wireMessage struct {
	Event     string          `json:"event"`
	UID       string          `json:"uid"`
	ClientID  string          `json:"clientId"`
	Timestamp json.Number     `json:"timestamp"` // ms
	TS        json.Number     `json:"ts"`        // seconds
	DeviceCount int           `json:"deviceCount"`

	EventCreatedAt      json.Number `json:"eventCreatedAt"` // seconds
	IsActive            *bool       `json:"isActive"`
	ProductCapabilities []string    `json:"productCapabilities"`
}

// changeTimeMS resolves the common timestamp fields to milliseconds:
// timestamp is already ms, ts is seconds and gets ×1000.
func (w *wireMessage) changeTimeMS() (int64, bool) {
	if w.Timestamp != "" {
		if v, err := w.Timestamp.Int64(); err == nil {
			return v, true
		}
	}
	if w.TS != "" {
		if v, err := w.TS.Int64(); err == nil {
			return v * 1000, true
		}
	}
	return 0, false
}

// Decode parses a raw queue payload into a Notification. Malformed JSON or a
// recognized event missing required fields yields Unwanted=true rather than
// an error: parse failures are dropped, not retried.
func Decode(raw []byte) (*Notification, error) {
	var w wireMessage
	if err := json.Unmarshal(raw, &w); err != nil {
		return &Notification{Unwanted: true}, nil
	}

	switch Kind(w.Event) {
	case KindLogin:
		if w.UID == "" {
			return &Notification{Unwanted: true}, nil
		}
		ct, _ := w.changeTimeMS() // absence is tolerated; login doesn't require it for the uid-only case
		return &Notification{
			Kind: KindLogin,
			Login: &LoginNotification{
				UID:          w.UID,
				ClientID:     w.ClientID,
				ChangeTimeMS: ct,
				DeviceCount:  w.DeviceCount,
			},
		}, nil

	case KindSubscriptionUpdate:
		if w.UID == "" || w.EventCreatedAt == "" || w.IsActive == nil || w.ProductCapabilities == nil {
			return &Notification{Unwanted: true}, nil
		}
		sec, err := w.EventCreatedAt.Int64()
		if err != nil {
			return &Notification{Unwanted: true}, nil
		}
		return &Notification{
			Kind: KindSubscriptionUpdate,
			Subscription: &SubscriptionUpdateNotification{
				UID:                 w.UID,
				EventCreatedAtSec:   sec,
				IsActive:            *w.IsActive,
				ProductCapabilities: w.ProductCapabilities,
			},
		}, nil

	case KindDelete, KindPrimaryEmailChanged, KindProfileDataChange, KindPasswordChange, KindReset:
		if w.UID == "" {
			return &Notification{Unwanted: true}, nil
		}
		ct, ok := w.changeTimeMS()
		if !ok {
			return &Notification{Unwanted: true}, nil
		}
		kind := Kind(w.Event)
		return &Notification{
			Kind: kind,
			Generic: &GenericNotification{
				UID:          w.UID,
				ChangeTimeMS: ct,
			},
		}, nil

	default:
		return &Notification{Unwanted: true}, nil
	}
}

// OutboundBody renders the outbound topic-message body for a generic
// (delete/profile/password) fan-out target. Each call generates a fresh
// random messageId: a producer-level resend of the rendered body keeps it,
// while a re-render after upstream redelivery gets a new one.
func (n *Notification) OutboundBody(nowMS int64) (map[string]any, error) {
	if n.Generic == nil {
		return nil, fmt.Errorf("schema: OutboundBody called on non-generic notification %q", n.Kind)
	}
	return map[string]any{
		"messageId":  uuid.NewString(),
		"event":      string(n.Kind),
		"uid":        n.Generic.UID,
		"changeTime": n.Generic.ChangeTimeMS,
		"timestamp":  nowMS,
	}, nil
}

// SubscriptionOutboundBody renders the outbound body for one client in a
// subscription fan-out. Each call generates a fresh random messageId, as
// OutboundBody does.
func (n *Notification) SubscriptionOutboundBody(capabilities []string, nowMS int64) (map[string]any, error) {
	if n.Subscription == nil {
		return nil, fmt.Errorf("schema: SubscriptionOutboundBody called on non-subscription notification")
	}
	return map[string]any{
		"messageId":    uuid.NewString(),
		"event":        string(KindSubscriptionUpdate),
		"uid":          n.Subscription.UID,
		"isActive":     n.Subscription.IsActive,
		"changeTime":   n.Subscription.ChangeTimeMS(),
		"capabilities": capabilities,
		"timestamp":    nowMS,
	}, nil
}
