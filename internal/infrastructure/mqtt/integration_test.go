//go:build integration

package mqtt

import (
	"errors"
	"testing"
	"time"
)

// Integration tests against a running broker at 127.0.0.1:1883.
//
// Run with:
//
//	go test -tags=integration -v ./internal/infrastructure/mqtt/...

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
	client := connectTest(t, "grayhub-int-connect")

	if !client.IsConnected() {
		t.Error("IsConnected() = false, want true")
	}
}

func TestIntegration_ConnectRefused(t *testing.T) {
	cfg := testConfig()
	cfg.Broker.Port = 19999

	_, err := Connect(cfg)
	if !errors.Is(err, ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestIntegration_NotifyRoundTrip(t *testing.T) {
	client := connectTest(t, "grayhub-int-notify")

	received := make(chan string, 1)
	err := client.Subscribe(Topics{}.AllNotify(), 1, func(topic string, _ []byte) error {
		group, err := GroupFromNotifyTopic(topic)
		if err != nil {
			return err
		}
		received <- group
		return nil
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}
	if !client.HasSubscription(Topics{}.AllNotify()) {
		t.Error("HasSubscription() = false after Subscribe")
	}

	if err := client.PublishEvent(Topics{}.Notify("user-7"), []byte(`{"method":"ping"}`)); err != nil {
		t.Fatalf("PublishEvent() error = %v", err)
	}

	select {
	case group := <-received:
		if group != "user-7" {
			t.Errorf("received group %q, want user-7", group)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("notify message not received")
	}

	if err := client.Unsubscribe(Topics{}.AllNotify()); err != nil {
		t.Fatalf("Unsubscribe() error = %v", err)
	}
	if client.SubscriptionCount() != 0 {
		t.Errorf("SubscriptionCount() = %d, want 0", client.SubscriptionCount())
	}
}

func TestIntegration_RetainedPresence(t *testing.T) {
	publisher := connectTest(t, "grayhub-int-presence-pub")

	topic := Topics{}.DevicePresence(4242)
	if err := publisher.PublishRetained(topic, []byte(`{"status":"online"}`)); err != nil {
		t.Fatalf("PublishRetained() error = %v", err)
	}

	subscriber := connectTest(t, "grayhub-int-presence-sub")
	received := make(chan []byte, 1)
	if err := subscriber.Subscribe(topic, 1, func(_ string, payload []byte) error {
		received <- payload
		return nil
	}); err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	select {
	case payload := <-received:
		if string(payload) != `{"status":"online"}` {
			t.Errorf("retained payload = %s", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("retained presence not delivered")
	}

	// Clear the retained message.
	_ = publisher.PublishRetained(topic, nil)
}
