package models

import (
	"slices"
	"time"
)

// Lead is a prospective customer being qualified through a WFM project.
type Lead struct {
	ID                 string    `json:"id"`
	Name               string    `json:"name"                 validate:"required"`
	ContactName        string    `json:"contact_name"`
	ContactEmail       string    `json:"contact_email"        validate:"omitempty,email"`
	Source             string    `json:"source"`
	CreatedBy          string    `json:"created_by"`
	AssignedToUserID   string    `json:"assigned_to_user_id"`
	WFMProjectID       string    `json:"wfm_project_id"`
	IsQualified        bool      `json:"is_qualified"`
	QualificationLevel float64   `json:"qualification_level"`
	StageName          string    `json:"stage_name"`
	CreatedAt          time.Time `json:"created_at"`
	UpdatedAt          time.Time `json:"updated_at"`
}

// Deal is a sales opportunity progressing through a WFM project.
type Deal struct {
	ID                      string     `json:"id"`
	Name                    string     `json:"name"                                validate:"required"`
	Amount                  float64    `json:"amount"                              validate:"min=0"`
	Currency                string     `json:"currency"                            validate:"omitempty,len=3"`
	ExpectedCloseDate       *time.Time `json:"expected_close_date,omitempty"`
	CreatedBy               string     `json:"created_by"`
	AssignedToUserID        string     `json:"assigned_to_user_id"`
	WFMProjectID            string     `json:"wfm_project_id"`
	DealSpecificProbability *float64   `json:"deal_specific_probability,omitempty" validate:"omitempty,min=0,max=1"`
	StepProbability         *float64   `json:"step_probability,omitempty"`
	StageName               string     `json:"stage_name"`
	CreatedAt               time.Time  `json:"created_at"`
	UpdatedAt               time.Time  `json:"updated_at"`
}

// EffectiveProbability is the user override when present, otherwise the probability derived from the current step.
func (d *Deal) EffectiveProbability() *float64 {
	if d.DealSpecificProbability != nil {
		return d.DealSpecificProbability
	}

	return d.StepProbability
}

// LeadStepFields are the lead fields set from step metadata. Nil fields are left untouched.
type LeadStepFields struct {
	IsQualified        *bool
	QualificationLevel *float64
	StageName          *string
}

func (f LeadStepFields) Apply(lead *Lead) {
	if f.IsQualified != nil {
		lead.IsQualified = *f.IsQualified
	}

	if f.QualificationLevel != nil {
		lead.QualificationLevel = *f.QualificationLevel
	}

	if f.StageName != nil {
		lead.StageName = *f.StageName
	}
}

func (f LeadStepFields) Empty() bool {
	return f.IsQualified == nil && f.QualificationLevel == nil && f.StageName == nil
}

// DealStepFields are the deal fields set from step metadata. Nil fields are left untouched.
type DealStepFields struct {
	StepProbability *float64
	StageName       *string
}

func (f DealStepFields) Apply(deal *Deal) {
	if f.StepProbability != nil {
		deal.StepProbability = f.StepProbability
	}

	if f.StageName != nil {
		deal.StageName = *f.StageName
	}
}

func (f DealStepFields) Empty() bool {
	return f.StepProbability == nil && f.StageName == nil
}

// Permissions recognised by the entity adapters.
const (
	PermissionLeadUpdateAny = "lead:update_any"
	PermissionDealUpdateAny = "deal:update_any"
	PermissionWFMAdmin      = "wfm:admin"
)

// Actor is the authenticated caller of a mutation.
type Actor struct {
	UserID      string   `json:"user_id"`
	Permissions []string `json:"permissions"`
}

// Has reports whether the actor holds the given permission.
func (a Actor) Has(permission string) bool {
	return slices.Contains(a.Permissions, permission)
}

// Entity is a business record driven by a WFM project.
type Entity interface {
	Ref() EntityRef
	DisplayName() string
	OwnerID() string
	AssigneeID() string
	ProjectID() string
	LinkProject(projectID string)
}

func (l *Lead) Ref() EntityRef { return EntityRef{ID: l.ID, Kind: EntityKindLead} }
func (l *Lead) DisplayName() string { return l.Name }
func (l *Lead) OwnerID() string { return l.CreatedBy }
func (l *Lead) AssigneeID() string { return l.AssignedToUserID }
func (l *Lead) ProjectID() string { return l.WFMProjectID }
func (l *Lead) LinkProject(projectID string) { l.WFMProjectID = projectID }

func (d *Deal) Ref() EntityRef { return EntityRef{ID: d.ID, Kind: EntityKindDeal} }
func (d *Deal) DisplayName() string { return d.Name }
func (d *Deal) OwnerID() string { return d.CreatedBy }
func (d *Deal) AssigneeID() string { return d.AssignedToUserID }
func (d *Deal) ProjectID() string { return d.WFMProjectID }
func (d *Deal) LinkProject(projectID string) { d.WFMProjectID = projectID }
