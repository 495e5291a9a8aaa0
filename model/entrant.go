package model

// Status is an entrant's classification state.
type Status string

const (
	StatusActive   Status = "ACTIVE"
	StatusDisabled Status = "DISABLED"
	StatusDNF      Status = "DNF"
	StatusDQ       Status = "DQ"
)

// ValidStatus reports whether s is a recognized entrant status.
func ValidStatus(s Status) bool {
	switch s {
	case StatusActive, StatusDisabled, StatusDNF, StatusDQ:
		return true
	}
	return false
}

// EntrantSpec is one roster row, both as stored and as submitted to
// Engine.Load. Enabled nil means enabled; Status "" means ACTIVE.
type EntrantSpec struct {
	ID           int64  `json:"entrant_id"`
	Number       string `json:"number,omitempty"`
	Name         string `json:"name"`
	Tag          string `json:"tag,omitempty"`
	Enabled      *bool  `json:"enabled,omitempty"`
	Status       Status `json:"status,omitempty"`
	Organization string `json:"organization,omitempty"`
	SpokenName   string `json:"spoken_name,omitempty"`
	Color        string `json:"color,omitempty"`
	Logo         string `json:"logo,omitempty"`
}

// IsEnabled resolves the optional Enabled field.
func (e *EntrantSpec) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

// EffectiveStatus resolves the optional Status field.
func (e *EntrantSpec) EffectiveStatus() Status {
	if e.Status == "" {
		return StatusActive
	}
	return e.Status
}
