package model

import (
	"strings"
	"time"
)

// Channel is the outreach medium used to contact a buyer.
type Channel string

const (
	ChannelWhatsApp Channel = "WhatsApp"
	ChannelEmail    Channel = "Email"
	ChannelSMS      Channel = "SMS"
	ChannelSlack    Channel = "Slack"
	ChannelOther    Channel = "Other"
)

// ParseChannel maps free text to a known channel. Unknown values become ChannelOther.
func ParseChannel(s string) Channel {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "whatsapp":
		return ChannelWhatsApp
	case "email", "e-mail":
		return ChannelEmail
	case "sms":
		return ChannelSMS
	case "slack":
		return ChannelSlack
	default:
		return ChannelOther
	}
}

// Bonus returns the ranking bonus for the channel.
func (c Channel) Bonus() float64 {
	switch c {
	case ChannelWhatsApp:
		return 5
	case ChannelEmail:
		return 3
	case ChannelSMS:
		return 2
	case ChannelSlack:
		return 1
	default:
		return 0
	}
}

// BuyerProfile is a downstream buyer registered in the directory.
// Profiles are immutable once the directory is loaded.
type BuyerProfile struct {
	Name            string    `json:"name"`
	Zone            string    `json:"zone"`
	Channel         Channel   `json:"channel"`
	DistanceKm      float64   `json:"distance_km"`
	EngagementScore float64   `json:"engagement_score"`
	LastEngaged     time.Time `json:"last_engaged"`
}

// Validate reports the first missing or out-of-range field.
func (b BuyerProfile) Validate() *DataError {
	switch {
	case strings.TrimSpace(b.Name) == "":
		return NewDataError(SourceBuyer, b.Name, "name", "required")
	case strings.TrimSpace(b.Zone) == "":
		return NewDataError(SourceBuyer, b.Name, "zone", "required")
	case b.DistanceKm < 0:
		return NewDataError(SourceBuyer, b.Name, "distance_km", "must be >= 0")
	case b.LastEngaged.IsZero():
		return NewDataError(SourceBuyer, b.Name, "last_engaged", "required")
	}
	return nil
}
