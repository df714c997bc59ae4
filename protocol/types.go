package protocol

// Position is a zero-based line and character offset.
type Position struct {
	Line      int `json:"line"`
	Character int `json:"character"`
}

// Range is a half-open span between two positions.
type Range struct {
	Start Position `json:"start"`
	End   Position `json:"end"`
}

// TextDocument is the document payload of the textDocument/* notifications.
// Content and Selection are optional on editor events; documents sent to the
// agent by the synchronization cache always carry Content.
type TextDocument struct {
	URI       string  `json:"uri"`
	Content   *string `json:"content,omitempty"`
	Selection *Range  `json:"selection,omitempty"`
}

// ClientInfo is the initialize request payload.
type ClientInfo struct {
	Name                   string                  `json:"name"`
	Version                string                  `json:"version"`
	IDEVersion             string                  `json:"ideVersion,omitempty"`
	WorkspaceRootURI       string                  `json:"workspaceRootUri"`
	ExtensionConfiguration *ExtensionConfiguration `json:"extensionConfiguration,omitempty"`
	Capabilities           *ClientCapabilities     `json:"capabilities,omitempty"`
}

// ExtensionConfiguration carries the host-side settings the agent needs.
type ExtensionConfiguration struct {
	ServerEndpoint    string            `json:"serverEndpoint"`
	AccessToken       string            `json:"accessToken,omitempty"`
	CustomHeaders     map[string]string `json:"customHeaders,omitempty"`
	AutocompleteModel string            `json:"autocompleteAdvancedModel,omitempty"`
	Debug             bool              `json:"debug,omitempty"`
	Verbose           bool              `json:"verboseDebug,omitempty"`
}

// ClientCapabilities advertises which agent-initiated methods the host serves.
type ClientCapabilities struct {
	Secrets           string `json:"secrets,omitempty"`
	UntitledDocuments string `json:"untitledDocuments,omitempty"`
}

// ServerInfo is the initialize result.
type ServerInfo struct {
	Name          string `json:"name"`
	Authenticated *bool  `json:"authenticated,omitempty"`
	AgentVersion  string `json:"codyVersion,omitempty"`
}

type SecretsGetParams struct {
	Key string `json:"key"`
}

type SecretsStoreParams struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type SecretsDeleteParams struct {
	Key string `json:"key"`
}

// UntitledTextDocument asks the host to open a new, unsaved document.
type UntitledTextDocument struct {
	URI      string  `json:"uri,omitempty"`
	Content  *string `json:"content,omitempty"`
	Language string  `json:"language,omitempty"`
}

type DidChangeContextParams struct {
	Key   string `json:"key"`
	Value any    `json:"value,omitempty"`
}

type DebugMessage struct {
	Channel string `json:"channel"`
	Message string `json:"message"`
}
