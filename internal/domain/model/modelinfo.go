package model

// ModelInfo is one entry in the upstream provider's model catalog.
type ModelInfo struct {
	ID   string
	Name string
}
