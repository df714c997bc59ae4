// Package protocol names the JSON-RPC methods exchanged between the host and
// the agent and defines their payloads.
package protocol

// Method is a JSON-RPC method name.
type Method string

// Host to agent.
const (
	InitializeMethod  Method = "initialize"
	InitializedMethod Method = "initialized"
	ShutdownMethod    Method = "shutdown"
	ExitMethod        Method = "exit"

	TextDocumentDidOpenMethod   Method = "textDocument/didOpen"
	TextDocumentDidFocusMethod  Method = "textDocument/didFocus"
	TextDocumentDidChangeMethod Method = "textDocument/didChange"
	TextDocumentDidSaveMethod   Method = "textDocument/didSave"
	TextDocumentDidCloseMethod  Method = "textDocument/didClose"

	ExtensionConfigurationDidChangeMethod Method = "extensionConfiguration/didChange"
)

// Agent to host.
const (
	ConfigFeaturesDidChangeMethod Method = "configFeatures/didChange"

	SecretsGetMethod    Method = "secrets/get"
	SecretsStoreMethod  Method = "secrets/store"
	SecretsDeleteMethod Method = "secrets/delete"

	OpenUntitledDocumentMethod Method = "textDocument/openUntitledDocument"

	WindowDidChangeContextMethod Method = "window/didChangeContext"
	DebugMessageMethod           Method = "debug/message"

	TextDocumentShowMethod    Method = "textDocument/show"
	AuthStatusDidUpdateMethod Method = "authStatus/didUpdate"
	IgnoreDidChangeMethod     Method = "ignore/didChange"
)

// Agent to host, served only by a host with a UI. The client registers no
// default handler for these.
const (
	WorkspaceEditMethod     Method = "workspace/edit"
	TextDocumentEditMethod  Method = "textDocument/edit"
	WindowShowMessageMethod Method = "window/showMessage"
	EnvOpenExternalMethod   Method = "env/openExternal"
)
