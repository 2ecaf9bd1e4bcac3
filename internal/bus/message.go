package bus

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

const (
	TopicClientListRequest       = "client-list-request"
	TopicClientList              = "CLIENT-LIST"
	TopicStorageLicensingRequest = "storage-licensing-request"
	TopicStorageLicensingUpdate  = "STORAGE-LICENSING-UPDATE"
	TopicRPPLicensingRequest     = "rpp-licensing-request"
	TopicRPPLicensingUpdate      = "RPP-LICENSING-UPDATE"
	TopicLicensingUpdate         = "licensing-update"
	TopicWatch                   = "WATCH"
	TopicFileUpdate              = "FILE-UPDATE"
	TopicFileError               = "FILE-ERROR"
	TopicLog                     = "log"
)

var ErrMalformedMessage = errors.New("malformed message")

// Message is one flat JSON object on the bus. Body always carries the topic
// field alongside the payload fields.
type Message struct {
	Topic string
	Body  json.RawMessage
}

// NewMessage flattens payload, which must encode to a JSON object or be nil,
// into a message body tagged with topic.
func NewMessage(topic string, payload any) (Message, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return Message{}, fmt.Errorf("%w: topic is required", ErrMalformedMessage)
	}
	fields := map[string]json.RawMessage{}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return Message{}, err
		}
		if err := json.Unmarshal(data, &fields); err != nil {
			return Message{}, fmt.Errorf("%w: payload for %s is not an object: %v", ErrMalformedMessage, topic, err)
		}
		if fields == nil {
			fields = map[string]json.RawMessage{}
		}
	}
	encodedTopic, err := json.Marshal(topic)
	if err != nil {
		return Message{}, err
	}
	fields["topic"] = encodedTopic
	body, err := json.Marshal(fields)
	if err != nil {
		return Message{}, err
	}
	return Message{Topic: topic, Body: body}, nil
}

func MustMessage(topic string, payload any) Message {
	msg, err := NewMessage(topic, payload)
	if err != nil {
		panic(err)
	}
	return msg
}

// Is reports whether the message carries topic, ignoring case.
func (m Message) Is(topic string) bool {
	return NormalizeTopic(m.Topic) == NormalizeTopic(topic)
}

func (m Message) Decode(v any) error {
	if len(m.Body) == 0 {
		return fmt.Errorf("%w: empty body for %s", ErrMalformedMessage, m.Topic)
	}
	if err := json.Unmarshal(m.Body, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformedMessage, m.Topic, err)
	}
	return nil
}

func (m Message) MarshalJSON() ([]byte, error) {
	if len(m.Body) > 0 {
		return m.Body, nil
	}
	return json.Marshal(map[string]string{"topic": m.Topic})
}

func (m *Message) UnmarshalJSON(data []byte) error {
	var head struct {
		Topic any `json:"topic"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedMessage, err)
	}
	topic, _ := head.Topic.(string)
	m.Topic = topic
	m.Body = append(json.RawMessage(nil), data...)
	return nil
}

// NormalizeTopic upper-cases a topic for comparison. Casers are stateful, so
// one is built per call.
func NormalizeTopic(topic string) string {
	return cases.Upper(language.Und).String(strings.TrimSpace(topic))
}

type ClientList struct {
	Clients []string `json:"clients"`
}

func (c ClientList) Has(names ...string) bool {
	present := make(map[string]struct{}, len(c.Clients))
	for _, client := range c.Clients {
		present[client] = struct{}{}
	}
	for _, name := range names {
		if _, ok := present[name]; !ok {
			return false
		}
	}
	return true
}

type LicensingUpdate struct {
	IsAuthorized       bool   `json:"isAuthorized"`
	UserFriendlyStatus string `json:"userFriendlyStatus,omitempty"`
}

type Watch struct {
	FilePath string `json:"filePath"`
}

type FileUpdate struct {
	FilePath string `json:"filePath"`
	Status   string `json:"status"`
	OSURL    string `json:"osurl,omitempty"`
	OSPath   string `json:"ospath,omitempty"`
}

// LocalURL prefers the URL form of the local copy and falls back to its path.
func (u FileUpdate) LocalURL() string {
	if strings.TrimSpace(u.OSURL) != "" {
		return u.OSURL
	}
	return u.OSPath
}

type FileError struct {
	FilePath string          `json:"filePath"`
	Msg      string          `json:"msg"`
	Detail   json.RawMessage `json:"detail,omitempty"`
}

// DetailText returns detail unquoted when it is a JSON string and as raw JSON
// text otherwise.
func (e FileError) DetailText() string {
	if len(e.Detail) == 0 || string(e.Detail) == "null" {
		return ""
	}
	var text string
	if err := json.Unmarshal(e.Detail, &text); err == nil {
		return text
	}
	return string(e.Detail)
}
