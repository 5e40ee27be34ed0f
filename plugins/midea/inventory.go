package midea

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/joshp123/midea/internal/blob"
)

const inventoryBlobName = "appliances"

// InventorySnapshot is the document mirrored to object storage.
type InventorySnapshot struct {
	FetchedAt  time.Time   `json:"fetched_at"`
	Appliances []Appliance `json:"appliances"`
}

type inventorySource interface {
	ListAppliances(ctx context.Context, homeGroupID string) ([]Appliance, error)
	SeedAppliances(appliances []Appliance, at time.Time) bool
}

// InventoryPoller refreshes the appliance inventory on an interval and fans
// it out to the optional publisher and blob store.
type InventoryPoller struct {
	source      inventorySource
	interval    time.Duration
	publisher   Publisher
	store       blob.Store
	topicPrefix string
	now         func() time.Time

	// onResult observes every poll outcome.
	onResult func(error)
}

func NewInventoryPoller(source inventorySource, interval time.Duration, publisher Publisher, store blob.Store, topicPrefix string) *InventoryPoller {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &InventoryPoller{
		source:      source,
		interval:    interval,
		publisher:   publisher,
		store:       store,
		topicPrefix: topicPrefix,
		now:         time.Now,
	}
}

// Run restores the mirrored inventory, polls immediately and then on every
// tick until ctx is done.
func (p *InventoryPoller) Run(ctx context.Context) error {
	if err := p.Restore(ctx); err != nil {
		log.Printf("midea inventory: %v", err)
	}

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		if err := p.Poll(ctx); err != nil && ctx.Err() == nil {
			log.Printf("midea inventory: %v", err)
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// Restore seeds the source with the last mirrored snapshot so the inventory
// is served before the cloud answers. A missing snapshot is not an error.
func (p *InventoryPoller) Restore(ctx context.Context) error {
	if p.store == nil {
		return nil
	}
	data, err := p.store.Load(ctx, inventoryBlobName)
	if errors.Is(err, blob.ErrNotFound) || (err == nil && len(data) == 0) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("load inventory: %w", err)
	}
	var snapshot InventorySnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return fmt.Errorf("decode inventory: %w", err)
	}
	if snapshot.Appliances == nil {
		return nil
	}
	if p.source.SeedAppliances(snapshot.Appliances, snapshot.FetchedAt) {
		log.Printf("midea inventory: restored %d appliances from %s", len(snapshot.Appliances), snapshot.FetchedAt.Format(time.RFC3339))
	}
	return nil
}

// Poll performs one refresh. Fan-out failures do not stop the other sinks.
func (p *InventoryPoller) Poll(ctx context.Context) error {
	err := p.poll(ctx)
	if p.onResult != nil {
		p.onResult(err)
	}
	return err
}

func (p *InventoryPoller) poll(ctx context.Context) error {
	appliances, err := p.source.ListAppliances(ctx, "")
	if err != nil {
		return fmt.Errorf("list appliances: %w", err)
	}
	if appliances == nil {
		log.Printf("midea inventory: cloud has not answered yet, skipping fan-out")
		return nil
	}

	var errs []error
	if p.publisher != nil {
		for _, appliance := range appliances {
			payload, err := json.Marshal(appliance)
			if err != nil {
				errs = append(errs, fmt.Errorf("encode appliance %s: %w", appliance.ID, err))
				continue
			}
			if err := p.publisher.Publish(applianceTopic(p.topicPrefix, appliance.ID), payload); err != nil {
				errs = append(errs, fmt.Errorf("publish appliance %s: %w", appliance.ID, err))
			}
		}
	}

	if p.store != nil {
		data, err := json.Marshal(InventorySnapshot{FetchedAt: p.now().UTC(), Appliances: appliances})
		if err != nil {
			errs = append(errs, fmt.Errorf("encode inventory: %w", err))
		} else if err := p.store.Save(ctx, inventoryBlobName, data); err != nil {
			errs = append(errs, fmt.Errorf("mirror inventory: %w", err))
		}
	}

	return errors.Join(errs...)
}
