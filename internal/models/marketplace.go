package models

import (
	"strings"
	"time"
)

type Role string

const (
	RoleNone     Role = ""
	RoleClient   Role = "client"
	RoleMarketer Role = "marketer"
)

func ParseRole(s string) Role {
	switch Role(strings.ToLower(strings.TrimSpace(s))) {
	case RoleClient:
		return RoleClient
	case RoleMarketer:
		return RoleMarketer
	}
	return RoleNone
}

func (r Role) Valid() bool { return r == RoleClient || r == RoleMarketer }

type Category string

const (
	CategoryInstagram Category = "instagram"
	CategoryPPC       Category = "ppc"
	CategorySEO       Category = "seo"
)

type PackageTier string

const (
	TierBasic    PackageTier = "basic"
	TierAdvanced PackageTier = "advanced"
	TierPro      PackageTier = "pro"
)

type Timeline string

const (
	TimelineUrgent   Timeline = "urgent"
	TimelineNormal   Timeline = "normal"
	TimelineFlexible Timeline = "flexible"
)

func ParseTimeline(s string) (Timeline, bool) {
	switch t := Timeline(strings.ToLower(strings.TrimSpace(s))); t {
	case TimelineUrgent, TimelineNormal, TimelineFlexible:
		return t, true
	}
	return "", false
}

type ProjectStatus string

const (
	ProjectOpen       ProjectStatus = "open"
	ProjectPending    ProjectStatus = "pending"
	ProjectActive     ProjectStatus = "active"
	ProjectInProgress ProjectStatus = "in_progress"
	ProjectCompleted  ProjectStatus = "completed"
)

type ProposalStatus string

const (
	ProposalOpen      ProposalStatus = "open"
	ProposalSubmitted ProposalStatus = "submitted"
	ProposalAccepted  ProposalStatus = "accepted"
)

// Origin tells remote rows apart from entries still waiting in the local cache.
type Origin string

const (
	OriginRemote Origin = "remote"
	OriginLocal  Origin = "local"
)

type Session struct {
	UserID       ID        `json:"user_id"`
	Email        string    `json:"email,omitempty"`
	AccessToken  string    `json:"access_token"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Role         Role      `json:"role,omitempty"`
	ExpiresAt    time.Time `json:"expires_at"`
}

func (s *Session) Expired(now time.Time) bool {
	return s == nil || (!s.ExpiresAt.IsZero() && now.After(s.ExpiresAt))
}

type Profile struct {
	ID       ID      `json:"id"`
	Role     Role    `json:"role"`
	MinPrice float64 `json:"min_price,omitempty"`
}

type Project struct {
	ID             ID            `json:"id"`
	ClientID       ID            `json:"client_id"`
	Title          string        `json:"title"`
	Category       Category      `json:"service"`
	Package        PackageTier   `json:"package"`
	Description    string        `json:"description"`
	Budget         float64       `json:"budget"`
	Timeline       Timeline      `json:"urgency"`
	Status         ProjectStatus `json:"status"`
	CreatedAt      time.Time     `json:"created_at"`
	Origin         Origin        `json:"source,omitempty"`
	ProposalsCount int           `json:"proposals_count"`
}

type Proposal struct {
	ID           ID             `json:"id"`
	ProjectID    ID             `json:"project_id"`
	ProjectTitle string         `json:"project_title,omitempty"`
	MarketerID   ID             `json:"marketer_id,omitempty"`
	MarketerRole Role           `json:"marketer_role"`
	Amount       float64        `json:"amount"`
	Pitch        string         `json:"pitch"`
	Status       ProposalStatus `json:"status"`
	CreatedAt    time.Time      `json:"created_at"`
	Origin       Origin         `json:"source,omitempty"`
}

type ActivityLog struct {
	ID        int64     `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID    string    `gorm:"index;not null" json:"user_id"`
	Action    string    `gorm:"not null" json:"action"`
	Metadata  JSONB     `gorm:"type:jsonb;default:'{}'::jsonb" json:"metadata"`
	CreatedAt time.Time `json:"created_at"`
}

type CacheEntry struct {
	Namespace string    `gorm:"primaryKey;size:64" json:"namespace"`
	Key       string    `gorm:"primaryKey;size:128" json:"key"`
	Value     []byte    `gorm:"not null" json:"value"`
	UpdatedAt time.Time `json:"updated_at"`
}
