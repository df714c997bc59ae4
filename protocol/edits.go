package protocol

// Text edit kinds.
const (
	TextEditReplace = "replace"
	TextEditInsert  = "insert"
	TextEditDelete  = "delete"
)

// TextEdit is one change to a document. Replace and delete use Range; insert
// uses Position. Value is the new text for replace and insert.
type TextEdit struct {
	Type     string    `json:"type"`
	Range    *Range    `json:"range,omitempty"`
	Position *Position `json:"position,omitempty"`
	Value    string    `json:"value,omitempty"`
}

// TextDocumentEditParams is the payload of textDocument/edit.
type TextDocumentEditParams struct {
	URI     string           `json:"uri"`
	Edits   []TextEdit       `json:"edits"`
	Options *TextEditOptions `json:"options,omitempty"`
}

type TextEditOptions struct {
	UndoStopBefore bool `json:"undoStopBefore,omitempty"`
	UndoStopAfter  bool `json:"undoStopAfter,omitempty"`
}

// Workspace edit operation kinds.
const (
	WorkspaceEditCreateFile = "create-file"
	WorkspaceEditRenameFile = "rename-file"
	WorkspaceEditDeleteFile = "delete-file"
	WorkspaceEditEditFile   = "edit-file"
)

// WorkspaceEditOperation is one step of a workspace/edit. Which fields are set
// depends on Type.
type WorkspaceEditOperation struct {
	Type         string                `json:"type"`
	URI          string                `json:"uri,omitempty"`
	OldURI       string                `json:"oldUri,omitempty"`
	NewURI       string                `json:"newUri,omitempty"`
	TextContents string                `json:"textContents,omitempty"`
	Edits        []TextEdit            `json:"edits,omitempty"`
	Options      *FileOperationOptions `json:"options,omitempty"`
}

type FileOperationOptions struct {
	Overwrite      bool `json:"overwrite,omitempty"`
	IgnoreIfExists bool `json:"ignoreIfExists,omitempty"`
	Recursive      bool `json:"recursive,omitempty"`
}

// WorkspaceEditParams is the payload of workspace/edit.
type WorkspaceEditParams struct {
	Operations []WorkspaceEditOperation `json:"operations"`
}

// TextDocumentShowParams asks the host to reveal a document.
type TextDocumentShowParams struct {
	URI     string                   `json:"uri"`
	Options *TextDocumentShowOptions `json:"options,omitempty"`
}

type TextDocumentShowOptions struct {
	PreserveFocus bool   `json:"preserveFocus,omitempty"`
	Preview       bool   `json:"preview,omitempty"`
	Selection     *Range `json:"selection,omitempty"`
}

// Message severities for window/showMessage.
const (
	SeverityError       = "error"
	SeverityWarning     = "warning"
	SeverityInformation = "information"
)

// ShowWindowMessageParams is the payload of window/showMessage. The host
// answers with the chosen item, or null if dismissed.
type ShowWindowMessageParams struct {
	Severity string          `json:"severity"`
	Message  string          `json:"message"`
	Options  *MessageOptions `json:"options,omitempty"`
	Items    []string        `json:"items,omitempty"`
}

type MessageOptions struct {
	Modal  bool   `json:"modal,omitempty"`
	Detail string `json:"detail,omitempty"`
}

// OpenExternalParams is the payload of env/openExternal.
type OpenExternalParams struct {
	URI string `json:"uri"`
}

// AuthStatus is pushed by the agent with authStatus/didUpdate.
type AuthStatus struct {
	Endpoint      string `json:"endpoint"`
	Authenticated bool   `json:"authenticated,omitempty"`
	Username      string `json:"username,omitempty"`
	DisplayName   string `json:"displayName,omitempty"`
	PrimaryEmail  string `json:"primaryEmail,omitempty"`
	Error         any    `json:"error,omitempty"`
}
