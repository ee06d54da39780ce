// Package backend implements the telemetry ingestion service: payload
// decoding, the persistent store, the recent-reading cache and the HTTP API.
package backend

// Reading is one timestamped set of sensor values.
//
// ID is assigned by the store on insert and never changes afterwards.
// Timestamp is set by the server at receipt time; clients cannot supply it.
type Reading struct {
	ID        uint    `gorm:"primaryKey;autoIncrement" json:"id"`
	Timestamp string  `gorm:"type:text;not null" json:"timestamp"`
	Latitude  float64 `gorm:"not null" json:"latitude"`
	Longitude float64 `gorm:"not null" json:"longitude"`
	Flame     float64 `gorm:"not null" json:"flame"`
	Smoke     float64 `gorm:"not null" json:"smoke"`
	Distance  float64 `gorm:"not null" json:"distance"`
	AccX      float64 `gorm:"column:acc_x;not null" json:"acc_x"`
	AccY      float64 `gorm:"column:acc_y;not null" json:"acc_y"`
	AccZ      float64 `gorm:"column:acc_z;not null" json:"acc_z"`
}

// TableName specifies the table name for Reading.
func (Reading) TableName() string {
	return "readings"
}
