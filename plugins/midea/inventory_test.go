package midea

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/joshp123/midea/internal/blob"
)

type recordingPublisher struct {
	mu       sync.Mutex
	messages map[string][]byte
	err      error
}

func (p *recordingPublisher) Publish(topic string, payload []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	if p.messages == nil {
		p.messages = map[string][]byte{}
	}
	p.messages[topic] = payload
	return nil
}

type memoryStore struct {
	mu   sync.Mutex
	docs map[string][]byte
}

func (s *memoryStore) Load(_ context.Context, name string) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	data, ok := s.docs[name]
	if !ok {
		return nil, blob.ErrNotFound
	}
	return data, nil
}

func (s *memoryStore) Save(_ context.Context, name string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.docs == nil {
		s.docs = map[string][]byte{}
	}
	s.docs[name] = data
	return nil
}

func TestInventoryPollFansOut(t *testing.T) {
	cloud := newFakeCloud(t)
	client := newTestClient(t, cloud)
	publisher := &recordingPublisher{}
	store := &memoryStore{}
	now := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

	poller := NewInventoryPoller(client, time.Minute, publisher, store, "home/midea")
	poller.now = func() time.Time { return now }
	var observed []error
	poller.onResult = func(err error) { observed = append(observed, err) }

	if err := poller.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	payload, ok := publisher.messages["home/midea/1001/state"]
	if !ok {
		t.Fatalf("missing appliance message, got %v", publisher.messages)
	}
	var appliance Appliance
	if err := json.Unmarshal(payload, &appliance); err != nil || appliance.Name != "Living room" {
		t.Fatalf("unexpected payload %s (%v)", payload, err)
	}
	if len(publisher.messages) != 2 {
		t.Fatalf("expected one message per appliance, got %d", len(publisher.messages))
	}

	var snapshot InventorySnapshot
	if err := json.Unmarshal(store.docs[inventoryBlobName], &snapshot); err != nil {
		t.Fatalf("decode snapshot: %v", err)
	}
	if !snapshot.FetchedAt.Equal(now) || len(snapshot.Appliances) != 2 {
		t.Fatalf("unexpected snapshot %+v", snapshot)
	}
	if len(observed) != 1 || observed[0] != nil {
		t.Fatalf("unexpected observed results %v", observed)
	}
}

func TestInventoryPollKeepsMirroringWhenPublishFails(t *testing.T) {
	cloud := newFakeCloud(t)
	client := newTestClient(t, cloud)
	publishErr := errors.New("broker down")
	store := &memoryStore{}

	poller := NewInventoryPoller(client, time.Minute, &recordingPublisher{err: publishErr}, store, "midea")
	err := poller.Poll(context.Background())
	if !errors.Is(err, publishErr) {
		t.Fatalf("expected publish error, got %v", err)
	}
	if store.docs[inventoryBlobName] == nil {
		t.Fatalf("expected inventory mirrored despite publish failure")
	}
}

func TestInventoryPollReportsListFailure(t *testing.T) {
	cloud := newFakeCloud(t)
	client := newTestClient(t, cloud)
	cloud.update(func(f *fakeCloud) { f.always[endpointAppliances] = "1234" })

	poller := NewInventoryPoller(client, time.Minute, nil, nil, "midea")
	var observed error
	poller.onResult = func(err error) { observed = err }

	err := poller.Poll(context.Background())
	var authErr AuthError
	if !errors.As(err, &authErr) || !errors.As(observed, &authErr) {
		t.Fatalf("expected AuthError, got %v / %v", err, observed)
	}
}

func TestInventoryPollSkipsDeferredListing(t *testing.T) {
	cloud := newFakeCloud(t)
	client := newTestClient(t, cloud)
	publisher := &recordingPublisher{}
	store := &memoryStore{}
	cloud.failNext(endpointHomeGroups, "3176")

	poller := NewInventoryPoller(client, time.Minute, publisher, store, "midea")
	if err := poller.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if len(publisher.messages) != 0 || len(store.docs) != 0 {
		t.Fatalf("expected no fan-out before the cloud answers, got %v / %v", publisher.messages, store.docs)
	}
}

func TestInventoryRestoreSeedsClient(t *testing.T) {
	cloud := newFakeCloud(t)
	client := newTestClient(t, cloud)
	fetched := time.Date(2024, 4, 30, 8, 0, 0, 0, time.UTC)
	data, err := json.Marshal(InventorySnapshot{
		FetchedAt:  fetched,
		Appliances: []Appliance{{ID: "1001", Name: "Living room", Online: true}},
	})
	if err != nil {
		t.Fatalf("encode snapshot: %v", err)
	}
	store := &memoryStore{docs: map[string][]byte{inventoryBlobName: data}}

	poller := NewInventoryPoller(client, time.Minute, nil, store, "midea")
	if err := poller.Restore(context.Background()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	restored := client.Appliances()
	if len(restored) != 1 || restored[0].Name != "Living room" || !client.InventoryAt().Equal(fetched) {
		t.Fatalf("unexpected restored inventory %+v at %s", restored, client.InventoryAt())
	}
	if cloud.hitCount(endpointAppliances) != 0 {
		t.Fatalf("restore must not call the cloud")
	}

	// A live listing wins over the mirrored snapshot.
	if err := poller.Poll(context.Background()); err != nil {
		t.Fatalf("Poll: %v", err)
	}
	if err := poller.Restore(context.Background()); err != nil {
		t.Fatalf("second Restore: %v", err)
	}
	if len(client.Appliances()) != 2 {
		t.Fatalf("expected live inventory to survive restore, got %+v", client.Appliances())
	}
}

func TestInventoryRestoreTolerantOfMissingSnapshot(t *testing.T) {
	cloud := newFakeCloud(t)
	client := newTestClient(t, cloud)

	poller := NewInventoryPoller(client, time.Minute, nil, &memoryStore{}, "midea")
	if err := poller.Restore(context.Background()); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if client.Appliances() != nil {
		t.Fatalf("expected empty inventory")
	}

	corrupt := &memoryStore{docs: map[string][]byte{inventoryBlobName: []byte("{")}}
	poller = NewInventoryPoller(client, time.Minute, nil, corrupt, "midea")
	if err := poller.Restore(context.Background()); err == nil {
		t.Fatalf("expected decode error")
	}
}

func TestInventoryRunStopsOnCancel(t *testing.T) {
	cloud := newFakeCloud(t)
	client := newTestClient(t, cloud)
	poller := NewInventoryPoller(client, time.Hour, nil, nil, "midea")

	ctx, cancel := context.WithCancel(context.Background())
	polled := make(chan struct{}, 1)
	poller.onResult = func(error) {
		select {
		case polled <- struct{}{}:
		default:
		}
	}

	done := make(chan error, 1)
	go func() { done <- poller.Run(ctx) }()

	select {
	case <-polled:
	case <-time.After(5 * time.Second):
		t.Fatalf("expected an immediate poll")
	}
	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("Run did not stop after cancel")
	}
}

type scriptedToken struct {
	done bool
	err  error
}

func (t scriptedToken) Wait() bool                     { return t.done }
func (t scriptedToken) WaitTimeout(time.Duration) bool { return t.done }
func (t scriptedToken) Error() error                   { return t.err }
func (t scriptedToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	if t.done {
		close(ch)
	}
	return ch
}

// scriptedMQTT answers Connect with a fixed token and records Disconnect.
type scriptedMQTT struct {
	mqtt.Client
	token        scriptedToken
	disconnected int
}

func (c *scriptedMQTT) Connect() mqtt.Token { return c.token }
func (c *scriptedMQTT) Disconnect(uint)     { c.disconnected++ }

func TestMQTTConnectFailureDisconnects(t *testing.T) {
	cases := []struct {
		name    string
		token   scriptedToken
		wantErr bool
	}{
		{name: "connected", token: scriptedToken{done: true}},
		{name: "refused", token: scriptedToken{done: true, err: errors.New("not authorized")}, wantErr: true},
		{name: "timed out", token: scriptedToken{}, wantErr: true},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			client := &scriptedMQTT{token: tc.token}
			err := connect(client, "tcp://broker:1883", time.Millisecond)
			if (err != nil) != tc.wantErr {
				t.Fatalf("unexpected error %v", err)
			}
			want := 0
			if tc.wantErr {
				want = 1
			}
			if client.disconnected != want {
				t.Fatalf("expected %d disconnects, got %d", want, client.disconnected)
			}
		})
	}
}

func TestApplianceTopic(t *testing.T) {
	if got := applianceTopic("midea/", "42"); got != "midea/42/state" {
		t.Fatalf("unexpected topic %q", got)
	}
	if !isTLSBroker("ssl://broker:8883") || isTLSBroker("tcp://broker:1883") {
		t.Fatalf("unexpected TLS detection")
	}
}
