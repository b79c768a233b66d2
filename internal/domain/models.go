// Package domain defines the persistence models for offer profiles, their
// authors, and the threaded discussion attached to each profile. These types
// are mapped with GORM and form the core data layer of the comments service.
package domain

import (
	"time"
)

// User is the author of discussion entries. The service references users by
// identifier only; account management lives elsewhere.
type User struct {
	ID        string    `json:"id"         gorm:"type:varchar(64);primaryKey"`
	Name      string    `json:"name"       gorm:"type:varchar(255)"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// TableName returns the database table name for User.
func (User) TableName() string { return "users" }

// Profile is an offer profile that owns a discussion thread.
//
// Fields:
//   - ID: primary key.
//   - ProfileName: display name of the profile.
//   - EditToken: secret granting anonymous edit rights; nil when the profile
//     is owned by a full account. Never serialized.
//   - UserID: optional owning account.
//   - Discussion: every reply posted on the profile (roots and replies).
type Profile struct {
	ID          string    `json:"id"           gorm:"type:varchar(64);primaryKey"`
	ProfileName string    `json:"profile_name" gorm:"type:varchar(255);not null;default:''"`
	EditToken   *string   `json:"-"            gorm:"type:varchar(255)"`
	UserID      *string   `json:"user_id,omitempty" gorm:"type:varchar(64);index"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	Discussion []Reply `json:"discussion,omitempty" gorm:"foreignKey:ProfileID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Profile.
func (Profile) TableName() string { return "offers_profiles" }

// Reply is a single message in a profile's discussion. A reply with a nil
// ReplyingToID is a top-level thread root; otherwise it answers the root it
// points at, which must belong to the same profile.
//
// Fields:
//   - ID: UUID primary key (char(36)).
//   - Message: the text body; the only mutable field.
//   - UserID: author (required FK).
//   - ProfileID: owning profile (required FK).
//   - ReplyingToID: optional parent reply.
//   - User / ReplyingTo / Replies: associations resolved on demand.
type Reply struct {
	ID           string    `json:"id"                       gorm:"type:char(36);primaryKey"`
	Message      string    `json:"message"                  gorm:"type:text;not null"`
	UserID       string    `json:"user_id"                  gorm:"type:varchar(64);not null;index"`
	ProfileID    string    `json:"profile_id"               gorm:"type:varchar(64);not null;index:idx_profile_replies,priority:1"`
	ReplyingToID *string   `json:"replying_to_id"           gorm:"type:char(36);index"`
	CreatedAt    time.Time `json:"created_at"               gorm:"index:idx_profile_replies,priority:2"`
	UpdatedAt    time.Time `json:"updated_at"`

	User       *User   `json:"user,omitempty"        gorm:"foreignKey:UserID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	ReplyingTo *Reply  `json:"replying_to,omitempty" gorm:"foreignKey:ReplyingToID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
	Replies    []Reply `json:"replies,omitempty"     gorm:"foreignKey:ReplyingToID;references:ID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE"`
}

// TableName returns the database table name for Reply.
func (Reply) TableName() string { return "offers_replies" }

// IsTopLevel reports whether r starts a thread.
func (r Reply) IsTopLevel() bool { return r.ReplyingToID == nil }
