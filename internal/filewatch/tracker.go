package filewatch

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/sirupsen/logrus"

	"github.com/eyeconictv/common-component/internal/bus"
	"github.com/eyeconictv/common-component/internal/events"
	"github.com/eyeconictv/common-component/internal/licensing"
	"github.com/eyeconictv/common-component/internal/retry"
)

const (
	PeerLocalStorage = "local-storage"
	PeerLicensing    = "licensing"
)

var ErrInvalidInput = errors.New("invalid input")

// Authorizer is the part of the licensing resolver the tracker depends on.
type Authorizer interface {
	IsAuthorized() licensing.Status
	RequestAuthorization()
}

type Options struct {
	// RequiredPeers must all appear in one CLIENT-LIST before licensing starts.
	RequiredPeers     []string
	DiscoveryInterval time.Duration
	DiscoveryAttempts int
	Clock             clock.Clock
	Logger            logrus.FieldLogger
}

// Tracker registers watched paths with the storage host and turns its
// FILE-UPDATE and FILE-ERROR messages into events.
type Tracker struct {
	bus    bus.Bus
	auth   Authorizer
	sink   events.Sink
	opts   Options
	logger logrus.FieldLogger

	mu              sync.Mutex
	entries         map[string]*Entry
	folders         []string
	filter          FileType
	peersReady      bool
	discoveryFailed bool
	closed          bool
	discovery       *retry.Timer
	unsubscribe     func()
}

// NewTracker subscribes to the bus and starts peer discovery. When the bus is
// not connected it emits no-connection and does nothing else.
func NewTracker(b bus.Bus, auth Authorizer, sink events.Sink, opts Options) (*Tracker, error) {
	if b == nil {
		return nil, fmt.Errorf("%w: bus is required", ErrInvalidInput)
	}
	if auth == nil {
		return nil, fmt.Errorf("%w: authorizer is required", ErrInvalidInput)
	}
	if sink == nil {
		sink = events.Discard
	}
	if len(opts.RequiredPeers) == 0 {
		opts.RequiredPeers = []string{PeerLocalStorage, PeerLicensing}
	}
	if opts.Clock == nil {
		opts.Clock = clock.New()
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	t := &Tracker{
		bus:     b,
		auth:    auth,
		sink:    sink,
		opts:    opts,
		logger:  logger.WithField("component", "filewatch"),
		entries: make(map[string]*Entry),
	}
	t.unsubscribe = b.Subscribe(t.handleMessage)
	t.startDiscovery()
	return t, nil
}

func (t *Tracker) startDiscovery() {
	if !t.bus.Connected() {
		t.sink.Emit(events.Event{Kind: events.KindNoConnection})
		return
	}
	request := bus.MustMessage(bus.TopicClientListRequest, nil)
	timer := retry.New(func(attempt int) {
		if err := t.bus.Broadcast(request); err != nil {
			t.logger.WithError(err).WithField("attempt", attempt).Warn("client list request failed")
		}
	}, retry.Options{
		Interval:    t.opts.DiscoveryInterval,
		MaxAttempts: t.opts.DiscoveryAttempts,
		Clock:       t.opts.Clock,
		OnExhausted: t.discoveryExhausted,
	})

	t.mu.Lock()
	if t.peersReady || t.closed {
		t.mu.Unlock()
		return
	}
	t.discovery = timer
	t.mu.Unlock()

	timer.Start()
}

func (t *Tracker) discoveryExhausted() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.discovery = nil
	if t.peersReady || t.discoveryFailed || t.closed {
		return
	}
	t.discoveryFailed = true
	t.logger.WithField("peers", t.opts.RequiredPeers).Warn("required peers never appeared")
	t.sink.Emit(events.Event{Kind: events.KindRequiredModulesUnavailable})
}

func (t *Tracker) IsAuthorized() licensing.Status {
	return t.auth.IsAuthorized()
}

func (t *Tracker) IsConnected() bool {
	return t.bus.Connected()
}

// WatchFiles registers paths with the host. Paths ending in "/" are folders.
// It does nothing unless the component is authorized and connected.
func (t *Tracker) WatchFiles(filter FileType, paths ...string) {
	if len(paths) == 0 {
		return
	}
	if t.auth.IsAuthorized() != licensing.Authorized || !t.bus.Connected() {
		t.logger.WithField("paths", len(paths)).Debug("watch skipped: not authorized or not connected")
		return
	}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.filter = filter
	var outbound []bus.Message
	for _, filePath := range paths {
		if filePath == "" {
			continue
		}
		if _, exists := t.entries[filePath]; exists {
			continue
		}
		if isFolderPath(filePath) {
			t.entries[filePath] = &Entry{Path: filePath, Kind: KindFolder}
			t.folders = append(t.folders, filePath)
		} else {
			if !filter.Accepts(filePath) {
				continue
			}
			t.entries[filePath] = &Entry{Path: filePath, Kind: KindFile}
		}
		outbound = append(outbound, bus.MustMessage(bus.TopicWatch, bus.Watch{FilePath: filePath}))
	}
	t.mu.Unlock()

	for _, msg := range outbound {
		if err := t.bus.Broadcast(msg); err != nil {
			t.logger.WithError(err).Warn("watch request failed")
		}
	}
}

// Entries returns a snapshot of every registered path, sorted by path.
func (t *Tracker) Entries() []Entry {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]Entry, 0, len(t.entries))
	for _, entry := range t.entries {
		out = append(out, *entry)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

func (t *Tracker) Status(filePath string) (Status, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	entry, ok := t.entries[filePath]
	if !ok {
		return StatusUnknown, false
	}
	return entry.Status, true
}

func (t *Tracker) Close() {
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return
	}
	t.closed = true
	discovery := t.discovery
	t.discovery = nil
	unsubscribe := t.unsubscribe
	t.unsubscribe = nil
	t.mu.Unlock()

	if discovery != nil {
		discovery.Stop()
	}
	if unsubscribe != nil {
		unsubscribe()
	}
}

func (t *Tracker) handleMessage(msg bus.Message) {
	switch {
	case msg.Is(bus.TopicClientList):
		t.handleClientList(msg)
	case msg.Is(bus.TopicFileUpdate):
		t.handleFileUpdate(msg)
	case msg.Is(bus.TopicFileError):
		t.handleFileError(msg)
	}
}

func (t *Tracker) handleClientList(msg bus.Message) {
	var list bus.ClientList
	if err := bus.DecodeValid(msg, &list); err != nil {
		t.logger.WithError(err).Warn("dropping client list")
		return
	}

	t.mu.Lock()
	if t.peersReady || t.discoveryFailed || t.closed || !list.Has(t.opts.RequiredPeers...) {
		t.mu.Unlock()
		return
	}
	t.peersReady = true
	discovery := t.discovery
	t.discovery = nil
	t.mu.Unlock()

	if discovery != nil {
		discovery.Stop()
	}
	t.logger.WithField("clients", list.Clients).Info("required peers present")
	t.auth.RequestAuthorization()
}

func (t *Tracker) handleFileUpdate(msg bus.Message) {
	var update bus.FileUpdate
	if err := bus.DecodeValid(msg, &update); err != nil {
		t.logger.WithError(err).Warn("dropping file update")
		return
	}
	status, ok := ParseStatus(update.Status)
	if !ok {
		t.logger.WithFields(logrus.Fields{"filePath": update.FilePath, "status": update.Status}).Warn("dropping file update with unknown status")
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	entry := t.resolveEntryLocked(update.FilePath)
	if entry == nil || entry.Status == status {
		return
	}
	entry.Status = status
	if !t.passesFilterLocked(entry) {
		return
	}
	if event, ok := eventFor(entry, update.LocalURL()); ok {
		t.sink.Emit(event)
	}
}

func (t *Tracker) handleFileError(msg bus.Message) {
	var report bus.FileError
	if err := bus.DecodeValid(msg, &report); err != nil {
		t.logger.WithError(err).Warn("dropping file error")
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	entry, ok := t.entries[report.FilePath]
	if !ok || !t.passesFilterLocked(entry) {
		return
	}
	entry.Status = StatusError
	t.sink.Emit(events.FileError(entry.Path, report.Msg, report.DetailText()))
}

// resolveEntryLocked finds the entry for filePath, registering it when it
// sits under a watched folder.
func (t *Tracker) resolveEntryLocked(filePath string) *Entry {
	if entry, ok := t.entries[filePath]; ok {
		return entry
	}
	for _, folder := range t.folders {
		if strings.HasPrefix(filePath, folder) {
			entry := &Entry{Path: filePath, Kind: KindFile}
			if isFolderPath(filePath) {
				entry.Kind = KindFolder
			}
			t.entries[filePath] = entry
			return entry
		}
	}
	return nil
}

func (t *Tracker) passesFilterLocked(entry *Entry) bool {
	return entry.Kind == KindFolder || t.filter.Accepts(entry.Path)
}

func eventFor(entry *Entry, localURL string) (events.Event, bool) {
	switch entry.Status {
	case StatusCurrent:
		return events.FileAvailable(entry.Path, localURL), true
	case StatusStale:
		return events.ForPath(events.KindFileProcessing, entry.Path), true
	case StatusNoExist:
		if entry.Kind == KindFolder {
			return events.ForPath(events.KindFolderNoExist, entry.Path), true
		}
		return events.ForPath(events.KindFileNoExist, entry.Path), true
	case StatusEmptyFolder:
		return events.ForPath(events.KindFolderEmpty, entry.Path), true
	case StatusDeleted:
		return events.ForPath(events.KindFileDeleted, entry.Path), true
	default:
		return events.Event{}, false
	}
}
