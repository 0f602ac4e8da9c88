package database

// Run is one release pipeline execution. Status moves running -> success or
// running -> failed; FinishedAt stays zero while the run is in flight.
type Run struct {
	ID          string `gorm:"primaryKey"`
	Version     string `gorm:"not null"`
	IsBeta      bool   `gorm:"not null"`
	Candidate   string
	Branch      string
	Commit      string
	RequestedBy string `gorm:"not null"`
	Status      string `gorm:"default:running"`
	Error       string
	StartedAt   int64 `gorm:"not null;index"`
	FinishedAt  int64
}
