package analytics

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/eyeconictv/common-component/internal/bus"
)

const (
	DefaultProjectName = "client-side-events"
	DefaultDatasetName = "Component_Events"
	DefaultDisplayID   = "preview"

	EventPlaylist = "Playlist Event"
	EventError    = "Error"
)

var ErrInvalidEntry = errors.New("invalid analytics entry")

// Config names the table that receives rows for one component.
type Config struct {
	ProjectName     string
	DatasetName     string
	FailedEntryFile string
	Table           string
	ComponentName   string
}

// Context identifies where the component is running. It is passed in
// explicitly rather than read from shared settings.
type Context struct {
	DisplayID        string
	CompanyID        string
	ComponentVersion string
}

type Envelope struct {
	ProjectName     string `json:"projectName"`
	DatasetName     string `json:"datasetName"`
	FailedEntryFile string `json:"failedEntryFile"`
	Table           string `json:"table"`
	Data            Row    `json:"data"`
}

type Row struct {
	Event         string `json:"event"`
	DisplayID     string `json:"display_id"`
	CompanyID     string `json:"company_id"`
	ComponentName string `json:"component_name"`
	EventDetails  string `json:"event_details"`
	Version       string `json:"version"`
}

// Logger publishes analytics rows on the bus "log" topic.
type Logger struct {
	bus    bus.Bus
	cfg    Config
	ctx    Context
	logger logrus.FieldLogger
}

func New(b bus.Bus, cfg Config, ctx Context, logger logrus.FieldLogger) *Logger {
	if cfg.ProjectName == "" {
		cfg.ProjectName = DefaultProjectName
	}
	if cfg.DatasetName == "" {
		cfg.DatasetName = DefaultDatasetName
	}
	if ctx.DisplayID == "" {
		ctx.DisplayID = DefaultDisplayID
	}
	if ctx.CompanyID == "" {
		ctx.CompanyID = "unknown"
	}
	if ctx.ComponentVersion == "" {
		ctx.ComponentVersion = "unknown"
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Logger{
		bus:    b,
		cfg:    cfg,
		ctx:    ctx,
		logger: logger.WithFields(logrus.Fields{"component": "analytics", "componentName": cfg.ComponentName}),
	}
}

// Event publishes one row. Invalid rows and rows produced while the bus is
// down are dropped with a log line.
func (l *Logger) Event(name string, details map[string]any) {
	if l == nil || l.bus == nil {
		return
	}
	if len(details) == 0 {
		l.drop(name, fmt.Errorf("%w: detail is required", ErrInvalidEntry))
		return
	}
	encoded, err := json.Marshal(details)
	if err != nil {
		l.drop(name, fmt.Errorf("%w: encode detail: %v", ErrInvalidEntry, err))
		return
	}
	l.publish(name, string(encoded))
}

// PlaylistEvent records a playlist lifecycle step such as "Ready Event".
func (l *Logger) PlaylistEvent(step string) {
	if l == nil || l.bus == nil {
		return
	}
	if strings.TrimSpace(step) == "" {
		l.drop(EventPlaylist, fmt.Errorf("%w: detail is required", ErrInvalidEntry))
		return
	}
	l.publish(EventPlaylist, step)
}

func (l *Logger) Error(details map[string]any) {
	l.Event(EventError, details)
}

func (l *Logger) publish(name, details string) {
	msg, err := l.Build(name, details)
	if err != nil {
		l.drop(name, err)
		return
	}
	if !l.bus.Connected() {
		l.drop(name, bus.ErrNotConnected)
		return
	}
	if err := l.bus.Broadcast(msg); err != nil {
		l.drop(name, err)
	}
}

// Build returns the "log" message for one row, or an error naming the first
// missing required field.
func (l *Logger) Build(name, details string) (bus.Message, error) {
	envelope := Envelope{
		ProjectName:     l.cfg.ProjectName,
		DatasetName:     l.cfg.DatasetName,
		FailedEntryFile: l.cfg.FailedEntryFile,
		Table:           l.cfg.Table,
		Data: Row{
			Event:         name,
			DisplayID:     l.ctx.DisplayID,
			CompanyID:     l.ctx.CompanyID,
			ComponentName: l.cfg.ComponentName,
			EventDetails:  details,
			Version:       l.ctx.ComponentVersion,
		},
	}
	if err := envelope.validate(); err != nil {
		return bus.Message{}, err
	}
	return bus.NewMessage(bus.TopicLog, struct {
		Data Envelope `json:"data"`
	}{Data: envelope})
}

func (e Envelope) validate() error {
	required := []struct {
		value string
		name  string
	}{
		{e.ProjectName, "project name"},
		{e.DatasetName, "dataset name"},
		{e.FailedEntryFile, "failed entry file"},
		{e.Table, "table"},
		{e.Data.Event, "event"},
		{e.Data.EventDetails, "detail"},
	}
	for _, field := range required {
		if strings.TrimSpace(field.value) == "" {
			return fmt.Errorf("%w: %s is required", ErrInvalidEntry, field.name)
		}
	}
	return nil
}

func (l *Logger) drop(name string, err error) {
	l.logger.WithError(err).WithField("event", name).Warn("analytics entry dropped")
}
