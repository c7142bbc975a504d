package domain

import (
	"strings"
	"time"
)

// LeadRecord is the finalized output of one completed session, handed to
// the persistence gateway exactly once per successful write.
type LeadRecord struct {
	SessionID string
	Agent     string
	Campaign  string

	// Fields holds collected profile data in collection order.
	Fields []FieldValue

	PremiumAnnual  string
	PremiumMonthly string
	Consent        string

	CreatedAt time.Time
}

// FieldValue is a single collected profile entry.
type FieldValue struct {
	Name  string
	Value string
}

// RecordFromSession assembles the lead record for a completed session.
// Display-only echo fields (the "_display" keys) are prompt formatting,
// not collected data, and are not persisted.
func RecordFromSession(s *Session, now time.Time) *LeadRecord {
	rec := &LeadRecord{
		SessionID: s.ID,
		Agent:     s.Agent,
		Campaign:  s.ActiveFlow,
		CreatedAt: now,
	}
	m := s.Profile.Map()
	for _, k := range s.Profile.Keys() {
		switch {
		case k == "premium_annual":
			rec.PremiumAnnual = m[k]
		case k == "premium_monthly":
			rec.PremiumMonthly = m[k]
		case k == "consent":
			rec.Consent = m[k]
		case strings.HasSuffix(k, "_display"):
			continue
		default:
			rec.Fields = append(rec.Fields, FieldValue{Name: k, Value: m[k]})
		}
	}
	return rec
}
