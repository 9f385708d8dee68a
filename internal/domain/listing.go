package domain

import (
	"github.com/shopspring/decimal"
)

// Listing represents an offer of a fixed total energy volume over a fixed
// time window. Corresponds to listings table in PostgreSQL.
type Listing struct {
	ListingID       string          // hex SHA256, see idhash
	OwnerID         string          // opaque user id of the listing owner
	ListingType     string          // "supply" | "demand"
	EnergyType      string          // "solar" | "wind"
	TotalVolume     decimal.Decimal // total tradable volume, positive
	RemainingVolume decimal.Decimal // 0 <= remaining <= total
	PricePerUnit    decimal.Decimal // asking price per volume unit, informational
	Location        string          // location of the farm/energy source
	Description     string          // optional free text
	StartTime       int64           // window start, Unix ms
	EndTime         int64           // window end, Unix ms, StartTime < EndTime
	Status          string          // "active" | "closed"
	Version         int64           // optimistic concurrency counter, +1 per committed write
	CreatedAt       int64           // record creation timestamp (ms)
	UpdatedAt       int64           // last committed write timestamp (ms)
}

// Listing status constants. A listing is soft-closed, never deleted.
const (
	ListingStatusActive = "active"
	ListingStatusClosed = "closed"
)

// Listing type constants
const (
	ListingTypeSupply = "supply"
	ListingTypeDemand = "demand"
)

// Energy type constants
const (
	EnergyTypeSolar = "solar"
	EnergyTypeWind  = "wind"
)

// ValidWindow reports whether the listing time window is well-formed.
func ValidWindow(start, end int64) bool {
	return start < end
}

// ValidListingType reports whether t is a known listing type.
func ValidListingType(t string) bool {
	return t == ListingTypeSupply || t == ListingTypeDemand
}

// ValidEnergyType reports whether t is a known energy type.
func ValidEnergyType(t string) bool {
	return t == EnergyTypeSolar || t == EnergyTypeWind
}
