package api

// PageObject maps a named selector on a named page to a concrete locator. It
// is read-only from the engine's perspective
type PageObject struct {
	Page     string `json:"page"`
	Name     string `json:"name"`
	Selector string `json:"selector"`
}
