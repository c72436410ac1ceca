package configstore

// ConfigStore loads and saves a configuration document.
type ConfigStore interface {
	Load(out any) error
	Save(data any) error
}
