package redisstore

import (
	"time"

	"github.com/dmitrymomot/verdict/pkg/entitlement"
	"github.com/dmitrymomot/verdict/pkg/identity"
)

// document is the stored JSON form of a record.
type document struct {
	Key           string    `json:"key"`
	Plan          string    `json:"plan"`
	FreeUsed      int       `json:"free_used"`
	FreeTotal     int       `json:"free_total"`
	PeriodStart   time.Time `json:"period_start,omitzero"`
	Credits       int       `json:"credits"`
	Unlimited     bool      `json:"unlimited"`
	PlanChangedAt time.Time `json:"plan_changed_at,omitzero"`
	CreatedAt     time.Time `json:"created_at,omitzero"`
	UpdatedAt     time.Time `json:"updated_at,omitzero"`
	Version       int64     `json:"version"`
}

func toDocument(rec entitlement.Record) document {
	return document{
		Key:           rec.Key.String(),
		Plan:          string(rec.Plan),
		FreeUsed:      rec.FreeUsed,
		FreeTotal:     rec.FreeTotal,
		PeriodStart:   utc(rec.PeriodStart),
		Credits:       rec.Credits,
		Unlimited:     rec.Unlimited,
		PlanChangedAt: utc(rec.PlanChangedAt),
		CreatedAt:     utc(rec.CreatedAt),
		UpdatedAt:     utc(rec.UpdatedAt),
		Version:       rec.Version,
	}
}

func (d document) record() entitlement.Record {
	return entitlement.Record{
		Key:           identity.Key(d.Key),
		Plan:          entitlement.Plan(d.Plan),
		FreeUsed:      d.FreeUsed,
		FreeTotal:     d.FreeTotal,
		PeriodStart:   d.PeriodStart,
		Credits:       d.Credits,
		Unlimited:     d.Unlimited,
		PlanChangedAt: d.PlanChangedAt,
		CreatedAt:     d.CreatedAt,
		UpdatedAt:     d.UpdatedAt,
		Version:       d.Version,
	}
}

func utc(t time.Time) time.Time {
	if t.IsZero() {
		return time.Time{}
	}
	return t.UTC()
}
