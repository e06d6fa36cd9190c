//go:build integration

package mqtt

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"
)

// Integration tests against a live broker at 127.0.0.1:1883.
//
// Run with:
//   go test -tags=integration -count=1 -v ./internal/infrastructure/mqtt/...

func connectTest(t *testing.T, clientID string) *Client {
	t.Helper()
	cfg := testConfig()
	cfg.Broker.ClientID = clientID

	client, err := Connect(cfg)
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { client.Close() })
	return client
}

func TestIntegration_Connect(t *testing.T) {
	client := connectTest(t, "busnephew-int-connect")

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
	if err := client.HealthCheck(t.Context()); err != nil {
		t.Errorf("HealthCheck() = %v", err)
	}
}

func TestIntegration_ConnectRefused(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 19998

	_, err := Connect(cfg)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestIntegration_SubscriptionTracking(t *testing.T) {
	client := connectTest(t, "busnephew-int-sub-track")
	topics := client.Topics()
	handler := func(string, []byte) error { return nil }

	for _, topic := range []string{topics.TransitUpdate(), topics.AllDeviceCommands(), topics.BroadcastCommand()} {
		if err := client.Subscribe(topic, 1, handler); err != nil {
			t.Fatalf("Subscribe(%s) error = %v", topic, err)
		}
	}
	if client.SubscriptionCount() != 3 {
		t.Errorf("SubscriptionCount() = %d, want 3", client.SubscriptionCount())
	}

	if err := client.Unsubscribe(topics.TransitUpdate()); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if client.SubscriptionCount() != 2 {
		t.Errorf("SubscriptionCount() after unsubscribe = %d, want 2", client.SubscriptionCount())
	}
}

func TestIntegration_CommandRoundtrip(t *testing.T) {
	pub := connectTest(t, "busnephew-int-pub")
	sub := connectTest(t, "busnephew-int-sub")
	topics := sub.Topics()

	type received struct {
		deviceID string
		payload  string
	}
	got := make(chan received, 1)
	var once sync.Once

	err := sub.Subscribe(topics.AllDeviceCommands(), 1, func(topic string, p []byte) error {
		id, _ := topics.DeviceIDFromCommand(topic)
		once.Do(func() { got <- received{deviceID: id, payload: string(p)} })
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	time.Sleep(100 * time.Millisecond)

	body := `{"type":"display_update","data":{}}`
	if err := pub.Publish(topics.DeviceCommand("dev-42"), []byte(body), 1, false); err != nil {
		t.Fatalf("Publish() error = %v", err)
	}

	select {
	case r := <-got:
		if r.deviceID != "dev-42" || r.payload != body {
			t.Errorf("received %+v", r)
		}
	case <-time.After(5 * time.Second):
		t.Error("timeout waiting for command")
	}
}

func TestIntegration_OnlineStatusRetained(t *testing.T) {
	hub := connectTest(t, "busnephew-int-status")
	observer := connectTest(t, "busnephew-int-status-obs")

	got := make(chan statusPayload, 4)
	err := observer.Subscribe(hub.Topics().SystemStatus(), 1, func(_ string, p []byte) error {
		var s statusPayload
		if err := json.Unmarshal(p, &s); err != nil {
			return err
		}
		got <- s
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	select {
	case s := <-got:
		if s.Status != "online" && s.Status != "offline" {
			t.Errorf("status = %q", s.Status)
		}
	case <-time.After(5 * time.Second):
		t.Error("no retained status received")
	}
}
