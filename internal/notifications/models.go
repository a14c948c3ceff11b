package notifications

import (
	"time"

	"gorm.io/datatypes"

	"impact-escrow/escrow-engine/internal/validators"
	"impact-escrow/escrow-engine/pkg/geospatial"
)

// Status is the response state of a validator notification
type Status string

const (
	StatusPending   Status = "PENDING"
	StatusAccepted  Status = "ACCEPTED"
	StatusDeclined  Status = "DECLINED"
	StatusCompleted Status = "COMPLETED"
)

// ValidatorNotification invites one validator to attest a project
type ValidatorNotification struct {
	ID                  string                    `json:"id" gorm:"primaryKey;type:uuid"`
	ProjectID           string                    `json:"project_id" gorm:"not null;index"`
	ProjectTitle        string                    `json:"project_title" gorm:"not null"`
	ValidatorAddress    string                    `json:"validator_address" gorm:"not null;index"`
	EstimatedDistanceKm float64                   `json:"estimated_distance_km"`
	Reward              float64                   `json:"reward"`
	Deadline            time.Time                 `json:"deadline" gorm:"not null"`
	SentAt              time.Time                 `json:"sent_at" gorm:"not null"`
	Status              Status                    `json:"status" gorm:"not null;index"`
	Score               float64                   `json:"score"`
	Recommendation      validators.Recommendation `json:"recommendation"`
	Metadata            datatypes.JSONMap         `json:"metadata" gorm:"type:jsonb"`
	RespondedAt         *time.Time                `json:"responded_at,omitempty"`
	CreatedAt           time.Time                 `json:"created_at" gorm:"autoCreateTime"`
	UpdatedAt           time.Time                 `json:"updated_at" gorm:"autoUpdateTime"`
}

// TableName overrides the gorm default
func (ValidatorNotification) TableName() string {
	return "validator_notifications"
}

// Recipient is where a notification is delivered
type Recipient struct {
	Address string             `json:"address"`
	Name    string             `json:"name"`
	Contact validators.Contact `json:"contact"`
}

// RecipientOf builds the delivery target of a registered validator
func RecipientOf(v *validators.Validator) Recipient {
	return Recipient{Address: v.Address, Name: v.Name, Contact: v.Contact}
}

// NotifyRequest describes the project validators are recruited for
type NotifyRequest struct {
	ProjectID     string                `json:"project_id" binding:"required"`
	ProjectTitle  string                `json:"project_title" binding:"required"`
	Location      geospatial.Coordinate `json:"location"`
	Category      validators.Category   `json:"category" binding:"required"`
	Urgency       validators.Urgency    `json:"urgency"`
	Amount        float64               `json:"amount"`
	RiskLevel     float64               `json:"risk_level"`
	RequiredCount int                   `json:"required_count"`
	MaxDistanceKm float64               `json:"max_distance_km"`
	Reward        float64               `json:"reward"`
}

// ProjectContext is the selector input for the request
func (r NotifyRequest) ProjectContext() validators.ProjectContext {
	return validators.ProjectContext{
		Location:  r.Location,
		Category:  r.Category,
		Urgency:   r.Urgency,
		Amount:    r.Amount,
		RiskLevel: r.RiskLevel,
	}
}

// DispatchResult is the outcome of NotifyValidators
type DispatchResult struct {
	Notifications      []*ValidatorNotification `json:"notifications"`
	SuccessProbability float64                  `json:"success_probability"`
}

// Addresses lists the notified validators in selection order
func (r *DispatchResult) Addresses() []string {
	out := make([]string, 0, len(r.Notifications))
	for _, n := range r.Notifications {
		out = append(out, n.ValidatorAddress)
	}
	return out
}

// RespondRequest is a validator's answer to a notification
type RespondRequest struct {
	Status Status `json:"status" binding:"required"`
}

// WebSocketMessage is the frame pushed to connected validators
type WebSocketMessage struct {
	Type      string         `json:"type"`
	Data      datatypes.JSON `json:"data"`
	Timestamp time.Time      `json:"timestamp"`
	Channel   string         `json:"channel"`
	Target    string         `json:"target"`
}

const (
	WSMessageTypeNotification = "validator_notification"
	WSMessageTypeStatus       = "status"
	WSMessageTypePresence     = "presence"
	WSMessageTypeBroadcast    = "broadcast"
)
