package models

// Requests for the read-only inspection API.

type PredictionsRequest struct {
	Symbols string `query:"symbols" json:"symbols"` // comma separated, empty means all
	Limit   int    `query:"limit" json:"limit" default:"200" validate:"gte=1,lte=10000"`
	SortBy  string `query:"sort" json:"sort" default:"confidence" validate:"oneof=confidence score symbol"`
}

type SnapshotRequest struct {
	Date string `param:"date" json:"date" validate:"required,datetime=2006-01-02"`
}

type ArtifactRequest struct {
	Name string `param:"name" json:"name" validate:"required,max=64,excludesall=./"`
}
