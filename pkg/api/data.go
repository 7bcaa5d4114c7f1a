package api

type (
	// DatasetType identifies how a dataset's content is encoded
	DatasetType string

	// Dataset is a named external collection that loop nodes can iterate
	Dataset struct {
		Name    string      `json:"name"`
		Type    DatasetType `json:"type"`
		Content string      `json:"content"`
	}

	// Function is a named, sandboxed user code unit. Code is the body of a
	// Lua function that receives the variable context as its only argument
	Function struct {
		Name        string `json:"name"`
		Description string `json:"description,omitempty"`
		Code        string `json:"code"`
	}
)

const (
	DatasetCSV  DatasetType = "csv"
	DatasetJSON DatasetType = "json"
)
