package types

// OrphanFilter narrows orphan listings
type OrphanFilter struct {
	// Graduated filters by graduation state when non-nil
	Graduated *bool
	// ProductArea filters by product area when non-empty
	ProductArea string
	// Limit caps the number of rows returned (0 = no limit)
	Limit int
}
