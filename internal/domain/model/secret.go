package model

// SecretName describes a stored secret without exposing its value.
// Listing endpoints return only the name and an existence flag; neither
// plaintext nor ciphertext ever crosses the domain boundary in a listing.
type SecretName struct {
	Name     string
	HasValue bool
}
