package model

const (
	ElectionStatusScheduled = "SCHEDULED"
	ElectionStatusActive    = "ACTIVE"
	ElectionStatusClosed    = "CLOSED"
	ElectionStatusPublished = "PUBLISHED"
)

type Election struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Status  string `json:"status"`
	EndDate int64  `json:"end_date"`
	Ctime   int64  `json:"ctime"`
	Mtime   int64  `json:"mtime"`
}

// ElectionConfig is the snapshot handed to the distribution engine when an
// election event fires. CreatedAt marks the election generation.
type ElectionConfig struct {
	ID        string `json:"id"`
	CreatedAt int64  `json:"created_at"`
	EndDate   int64  `json:"end_date"`
	Status    string `json:"status"`
}

func (e *Election) Config() ElectionConfig {
	return ElectionConfig{ID: e.ID, CreatedAt: e.Ctime, EndDate: e.EndDate, Status: e.Status}
}
