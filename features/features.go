// Package features holds the agent-pushed capability flags and fans updates
// out to attached observers.
package features

// ConfigFeatures is an immutable snapshot of the capability flags pushed by
// the agent. Snapshots are replaced wholesale; fields are never merged, and a
// flag missing from a push is off.
type ConfigFeatures struct {
	Chat             bool `json:"chat,omitempty"`
	AutoComplete     bool `json:"autoComplete,omitempty"`
	Commands         bool `json:"commands,omitempty"`
	Attribution      bool `json:"attribution,omitempty"`
	ServerSentModels bool `json:"serverSentModels,omitempty"`
}

// Disabled is the conservative snapshot a Hub starts with.
var Disabled = ConfigFeatures{}
