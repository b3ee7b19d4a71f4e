package schema

import "time"

// UserProfile represents the user_profiles table. Only the owned token count is maintained here.
type UserProfile struct {
	ID            int64     `gorm:"column:id;primaryKey;autoIncrement"`
	WalletAddress string    `gorm:"column:wallet_address;not null;uniqueIndex;type:text"`
	NFTsOwned     int       `gorm:"column:nfts_owned;not null;default:0"`
	UpdatedAt     time.Time `gorm:"column:updated_at;not null;default:now()"`
}

// TableName specifies the table name for the UserProfile model
func (UserProfile) TableName() string {
	return "user_profiles"
}
