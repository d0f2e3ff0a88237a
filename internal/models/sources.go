package models

type VectorStoreType string

const (
	VectorStoreInMemory   VectorStoreType = "in_memory"
	VectorStorePersistent VectorStoreType = "persistent"
)

type VectorStoreProps struct {
	ID         string          `json:"id" mapstructure:"id"`
	Type       VectorStoreType `json:"type" mapstructure:"type"`
	Path       string          `json:"path,omitempty" mapstructure:"path"`
	Collection string          `json:"collection,omitempty" mapstructure:"collection"`
}

type DatabaseProps struct {
	ID  string `json:"id" mapstructure:"id"`
	URI string `json:"-" mapstructure:"uri"`
}
