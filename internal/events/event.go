package events

import "fmt"

type Kind string

const (
	KindAuthorized                 Kind = "authorized"
	KindUnauthorized               Kind = "unauthorized"
	KindAuthorizationError         Kind = "authorization-error"
	KindNoConnection               Kind = "no-connection"
	KindRequiredModulesUnavailable Kind = "required-modules-unavailable"
	KindFileAvailable              Kind = "file-available"
	KindFileProcessing             Kind = "file-processing"
	KindFileNoExist                Kind = "file-no-exist"
	KindFolderNoExist              Kind = "folder-no-exist"
	KindFolderEmpty                Kind = "folder-empty"
	KindFileDeleted                Kind = "file-deleted"
	KindFileError                  Kind = "file-error"
)

// Event is the single value type delivered to a Sink. Which fields are set
// depends on Kind.
type Event struct {
	Kind       Kind   `json:"event"`
	FilePath   string `json:"filePath,omitempty"`
	FileURL    string `json:"fileUrl,omitempty"`
	Message    string `json:"msg,omitempty"`
	Detail     string `json:"detail,omitempty"`
	StatusCode int    `json:"statusCode,omitempty"`
}

func (e Event) String() string {
	switch {
	case e.FilePath != "" && e.FileURL != "":
		return fmt.Sprintf("%s %s -> %s", e.Kind, e.FilePath, e.FileURL)
	case e.FilePath != "":
		return fmt.Sprintf("%s %s", e.Kind, e.FilePath)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s status=%d", e.Kind, e.StatusCode)
	case e.Detail != "":
		return fmt.Sprintf("%s: %s", e.Kind, e.Detail)
	default:
		return string(e.Kind)
	}
}

func Verdict(authorized bool) Event {
	if authorized {
		return Event{Kind: KindAuthorized}
	}
	return Event{Kind: KindUnauthorized}
}

func AuthorizationError(detail string) Event {
	return Event{Kind: KindAuthorizationError, Detail: detail}
}

func AuthorizationStatusError(statusCode int) Event {
	return Event{Kind: KindAuthorizationError, StatusCode: statusCode}
}

func FileAvailable(filePath, fileURL string) Event {
	return Event{Kind: KindFileAvailable, FilePath: filePath, FileURL: fileURL}
}

func FileError(filePath, msg, detail string) Event {
	return Event{Kind: KindFileError, FilePath: filePath, Message: msg, Detail: detail}
}

func ForPath(kind Kind, filePath string) Event {
	return Event{Kind: kind, FilePath: filePath}
}
