package payments

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

const (
	StatusComplete = "COMPLETE"
	StatusFailed   = "FAILED"
	StatusPending  = "PENDING"
)

var ErrMalformedNotification = errors.New("malformed notification")

type Field struct {
	Key   string
	Value string
}

// Notification is a provider settlement notification with its fields in received order.
// Order matters: the provider signs the fields in the sequence it sent them.
type Notification struct {
	Fields []Field
	Raw    []byte
}

// ParseNotification decodes a form-encoded body without losing field order.
func ParseNotification(body []byte) (*Notification, error) {
	raw := strings.TrimSpace(string(body))
	if raw == "" {
		return nil, ErrMalformedNotification
	}
	n := &Notification{Raw: body}
	for _, pair := range strings.Split(raw, "&") {
		if pair == "" {
			continue
		}
		k, v, _ := strings.Cut(pair, "=")
		key, err := url.QueryUnescape(k)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
		}
		val, err := url.QueryUnescape(v)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedNotification, err)
		}
		n.Fields = append(n.Fields, Field{Key: key, Value: val})
	}
	if len(n.Fields) == 0 {
		return nil, ErrMalformedNotification
	}
	return n, nil
}

// Get returns the first value for key.
func (n *Notification) Get(key string) string {
	for _, f := range n.Fields {
		if f.Key == key {
			return f.Value
		}
	}
	return ""
}

func (n *Notification) Values() url.Values {
	v := url.Values{}
	for _, f := range n.Fields {
		v.Add(f.Key, f.Value)
	}
	return v
}

func (n *Notification) MerchantID() string    { return n.Get("merchant_id") }
func (n *Notification) PaymentStatus() string { return strings.ToUpper(strings.TrimSpace(n.Get("payment_status"))) }
func (n *Notification) AmountGross() string   { return n.Get("amount_gross") }
func (n *Notification) Signature() string     { return n.Get("signature") }

// OrderID is the order correlation id the checkout placed in custom_str1.
func (n *Notification) OrderID() string { return n.Get("custom_str1") }

// PaymentID prefers the provider's own id and falls back to the merchant reference.
func (n *Notification) PaymentID() string {
	if id := n.Get("pf_payment_id"); id != "" {
		return id
	}
	return n.Get("m_payment_id")
}
