package payments

// Dialog is the payment dialog state owned by the screen that shows it:
// either closed or open for one entity.
type Dialog struct {
	entityID string
	open     bool
}

// OpenDialog returns a dialog open for entityID.
func OpenDialog(entityID string) Dialog {
	return Dialog{entityID: entityID, open: true}
}

// Close returns the closed dialog.
func (d Dialog) Close() Dialog {
	return Dialog{}
}

// IsOpen reports whether the dialog is open for any entity.
func (d Dialog) IsOpen() bool {
	return d.open
}

// IsOpenFor reports whether the dialog is open for entityID.
func (d Dialog) IsOpenFor(entityID string) bool {
	return d.open && d.entityID == entityID
}

// EntityID returns the entity the dialog is open for, or "".
func (d Dialog) EntityID() string {
	return d.entityID
}
