// Package directory holds the read-only buyer directory and ranks buyers for a zone.
package directory

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"sort"

	"microhub-redistribution-api/internal/model"

	"github.com/rs/zerolog/log"
)

// Source supplies raw buyer records. Rows that fail to parse are returned as rejected.
type Source interface {
	ListBuyers(ctx context.Context) (buyers []model.BuyerProfile, rejected []*model.DataError, err error)
}

// Directory is the immutable set of buyers loaded at process start.
// It is safe for concurrent reads; nothing writes after New returns.
type Directory struct {
	buyers  []model.BuyerProfile
	zones   map[string][]int
	version string
}

// New builds a directory from buyers, skipping invalid profiles.
func New(buyers []model.BuyerProfile) (*Directory, []*model.DataError) {
	d := &Directory{
		buyers: make([]model.BuyerProfile, 0, len(buyers)),
		zones:  make(map[string][]int),
	}

	var rejected []*model.DataError
	for _, b := range buyers {
		if derr := b.Validate(); derr != nil {
			rejected = append(rejected, derr)
			continue
		}
		d.zones[b.Zone] = append(d.zones[b.Zone], len(d.buyers))
		d.buyers = append(d.buyers, b)
	}
	d.version = fingerprint(d.buyers)

	return d, rejected
}

// Load reads every buyer from src and builds a directory.
func Load(ctx context.Context, src Source) (*Directory, []*model.DataError, error) {
	buyers, rejected, err := src.ListBuyers(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list buyers: %w", err)
	}

	d, invalid := New(buyers)
	rejected = append(rejected, invalid...)

	for _, derr := range rejected {
		log.Warn().Str("component", "directory").Str("key", derr.Key).Str("field", derr.Field).
			Str("reason", derr.Reason).Msg("buyer record rejected")
	}
	log.Info().Str("component", "directory").Int("buyers", d.Len()).Int("zones", len(d.zones)).
		Int("rejected", len(rejected)).Msg("buyer directory loaded")

	return d, rejected, nil
}

// Len returns the number of buyers.
func (d *Directory) Len() int {
	return len(d.buyers)
}

// Version identifies the directory contents.
func (d *Directory) Version() string {
	return d.version
}

// Buyers returns a copy of all buyers in load order.
func (d *Directory) Buyers() []model.BuyerProfile {
	out := make([]model.BuyerProfile, len(d.buyers))
	copy(out, d.buyers)
	return out
}

// InZone returns the buyers registered in zone, in load order.
func (d *Directory) InZone(zone string) []model.BuyerProfile {
	idx := d.zones[zone]
	out := make([]model.BuyerProfile, len(idx))
	for i, j := range idx {
		out[i] = d.buyers[j]
	}
	return out
}

// Zones returns the sorted set of zones with at least one buyer.
func (d *Directory) Zones() []string {
	zones := make([]string, 0, len(d.zones))
	for z := range d.zones {
		zones = append(zones, z)
	}
	sort.Strings(zones)
	return zones
}

func fingerprint(buyers []model.BuyerProfile) string {
	h := fnv.New64a()
	enc := json.NewEncoder(h)
	for _, b := range buyers {
		_ = enc.Encode(b)
	}
	return fmt.Sprintf("%x", h.Sum64())
}
