package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog/log"
)

// AddressSetMonitor implements venue.MonitorClient over a single Client
// connection: it diffs the desired wallet address set against what is
// currently subscribed and issues only the subscribe/unsubscribe calls
// needed to converge, rather than tearing down and resubscribing everything
// on every reconcile. This generalizes WalletMonitor's single fixed address
// into the address-set-replace-wholesale shape the Webhook Sync Controller
// drives.
type AddressSetMonitor struct {
	client  *Client
	onEvent func(address string, data json.RawMessage)

	mu   sync.Mutex
	subs map[string]uint64 // address -> subscription id
}

// NewAddressSetMonitor wraps client. onEvent, if non-nil, is called with the
// raw account notification payload for any subscribed address; a nil
// onEvent still lets ReplaceAddresses maintain the subscription set, useful
// when only liveness (not the decoded payload) matters.
func NewAddressSetMonitor(client *Client, onEvent func(address string, data json.RawMessage)) *AddressSetMonitor {
	return &AddressSetMonitor{client: client, onEvent: onEvent, subs: make(map[string]uint64)}
}

// ReplaceAddresses converges the subscribed set to exactly addresses,
// unsubscribing anything no longer desired before subscribing anything new.
// A failure partway through leaves subs reflecting whatever succeeded; the
// caller (Webhook Sync Controller) retries the whole set on its own
// backoff, so a partial convergence here is recovered on the next call.
func (m *AddressSetMonitor) ReplaceAddresses(ctx context.Context, addresses []string) error {
	desired := make(map[string]struct{}, len(addresses))
	for _, a := range addresses {
		desired[a] = struct{}{}
	}

	m.mu.Lock()
	var toRemove []string
	for addr := range m.subs {
		if _, want := desired[addr]; !want {
			toRemove = append(toRemove, addr)
		}
	}
	var toAdd []string
	for _, addr := range addresses {
		if _, have := m.subs[addr]; !have {
			toAdd = append(toAdd, addr)
		}
	}
	m.mu.Unlock()

	for _, addr := range toRemove {
		m.mu.Lock()
		subID, ok := m.subs[addr]
		delete(m.subs, addr)
		m.mu.Unlock()
		if ok {
			m.client.Unsubscribe("accountUnsubscribe", subID)
		}
	}

	for _, addr := range toAdd {
		address := addr
		subID, err := m.client.AccountSubscribe(address, func(data json.RawMessage) {
			if m.onEvent != nil {
				m.onEvent(address, data)
			}
		})
		if err != nil {
			log.Warn().Err(err).Str("address", address).Msg("websocket: account subscribe failed")
			return err
		}
		m.mu.Lock()
		m.subs[address] = subID
		m.mu.Unlock()
	}

	return nil
}

// TrackedCount returns the number of addresses currently subscribed.
func (m *AddressSetMonitor) TrackedCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.subs)
}
