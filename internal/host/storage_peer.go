package host

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/sirupsen/logrus"

	"github.com/eyeconictv/common-component/internal/bus"
)

const StoragePeerName = "local-storage"

const (
	statusCurrent     = "CURRENT"
	statusStale       = "STALE"
	statusDeleted     = "DELETED"
	statusNoExist     = "NOEXIST"
	statusEmptyFolder = "EMPTYFOLDER"
)

// StoragePeer serves WATCH requests from a local directory and reports
// later changes under it as FILE-UPDATE messages.
type StoragePeer struct {
	root    string
	client  *LocalClient
	watcher *fsnotify.Watcher
	logger  logrus.FieldLogger
	cancel  func()
	done    chan struct{}
	wg      sync.WaitGroup

	mu      sync.Mutex
	files   map[string]struct{}
	folders map[string]struct{}
	dirs    map[string]struct{}
	closed  bool
}

func NewStoragePeer(hub *Hub, root string, logger logrus.FieldLogger) (*StoragePeer, error) {
	absRoot, err := filepath.Abs(strings.TrimSpace(root))
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(absRoot)
	if err != nil {
		return nil, fmt.Errorf("storage root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("storage root %s is not a directory", absRoot)
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	client, err := hub.Connect(StoragePeerName)
	if err != nil {
		_ = watcher.Close()
		return nil, err
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	p := &StoragePeer{
		root:    absRoot,
		client:  client,
		watcher: watcher,
		logger:  logger.WithFields(logrus.Fields{"component": "storage-peer", "root": absRoot}),
		done:    make(chan struct{}),
		files:   map[string]struct{}{},
		folders: map[string]struct{}{},
		dirs:    map[string]struct{}{},
	}
	p.cancel = client.Subscribe(p.handleMessage)
	p.wg.Add(1)
	go p.run()
	return p, nil
}

func (p *StoragePeer) Root() string {
	return p.root
}

func (p *StoragePeer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.mu.Unlock()

	p.cancel()
	close(p.done)
	err := p.watcher.Close()
	p.wg.Wait()
	_ = p.client.Close()
	return err
}

func (p *StoragePeer) handleMessage(msg bus.Message) {
	if !msg.Is(bus.TopicWatch) {
		return
	}
	var watch bus.Watch
	if err := bus.DecodeValid(msg, &watch); err != nil {
		p.logger.WithError(err).Warn("dropping watch request")
		return
	}
	if strings.HasSuffix(watch.FilePath, "/") {
		p.watchFolder(watch.FilePath)
		return
	}
	p.watchFile(watch.FilePath)
}

func (p *StoragePeer) watchFile(filePath string) {
	local := p.localPath(filePath)
	p.mu.Lock()
	p.files[filePath] = struct{}{}
	p.addDirLocked(filepath.Dir(local))
	p.mu.Unlock()

	info, err := os.Stat(local)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		p.sendUpdate(filePath, statusNoExist, "")
	case err != nil:
		p.sendError(filePath, "file stat failed", err)
	case info.IsDir():
		p.sendError(filePath, "path is a directory", nil)
	default:
		p.sendUpdate(filePath, statusCurrent, local)
	}
}

func (p *StoragePeer) watchFolder(folderPath string) {
	local := p.localPath(folderPath)
	p.mu.Lock()
	p.folders[folderPath] = struct{}{}
	p.addDirLocked(local)
	p.addDirLocked(filepath.Dir(local))
	p.mu.Unlock()

	entries, err := os.ReadDir(local)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		p.sendUpdate(folderPath, statusNoExist, "")
		return
	case err != nil:
		p.sendError(folderPath, "folder read failed", err)
		return
	}
	sent := 0
	for _, entry := range entries {
		if !entry.Type().IsRegular() {
			continue
		}
		p.sendUpdate(folderPath+entry.Name(), statusCurrent, filepath.Join(local, entry.Name()))
		sent++
	}
	if sent == 0 {
		p.sendUpdate(folderPath, statusEmptyFolder, "")
	}
}

func (p *StoragePeer) addDirLocked(dir string) {
	if _, ok := p.dirs[dir]; ok {
		return
	}
	if err := p.watcher.Add(dir); err != nil {
		p.logger.WithError(err).WithField("dir", dir).Debug("directory not watched")
		return
	}
	p.dirs[dir] = struct{}{}
}

// localPath maps a bus path onto the storage root. Cleaning against "/"
// keeps ".." segments from escaping the root.
func (p *StoragePeer) localPath(filePath string) string {
	clean := path.Clean("/" + filePath)
	return filepath.Join(p.root, filepath.FromSlash(clean))
}

func (p *StoragePeer) busPath(local string) (string, bool) {
	rel, err := filepath.Rel(p.root, local)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

func (p *StoragePeer) run() {
	defer p.wg.Done()
	for {
		select {
		case <-p.done:
			return
		case event, ok := <-p.watcher.Events:
			if !ok {
				return
			}
			p.handleFSEvent(event)
		case err, ok := <-p.watcher.Errors:
			if !ok {
				return
			}
			p.logger.WithError(err).Warn("filesystem watcher error")
		}
	}
}

func (p *StoragePeer) handleFSEvent(event fsnotify.Event) {
	rel, ok := p.busPath(event.Name)
	if !ok {
		return
	}
	folderPath := rel + "/"
	parentFolder := path.Dir(rel) + "/"

	p.mu.Lock()
	_, watchedFile := p.files[rel]
	_, watchedFolder := p.folders[folderPath]
	_, inFolder := p.folders[parentFolder]
	p.mu.Unlock()

	removed := event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename)
	changed := event.Has(fsnotify.Create) || event.Has(fsnotify.Write)

	switch {
	case watchedFolder && removed:
		p.mu.Lock()
		delete(p.dirs, event.Name)
		p.mu.Unlock()
		p.sendUpdate(folderPath, statusNoExist, "")
	case watchedFolder && event.Has(fsnotify.Create):
		p.watchFolder(folderPath)
	case (watchedFile || inFolder) && removed:
		p.sendUpdate(rel, statusDeleted, "")
		if inFolder {
			p.reportIfEmpty(parentFolder)
		}
	case (watchedFile || inFolder) && changed:
		info, err := os.Stat(event.Name)
		if err != nil || !info.Mode().IsRegular() {
			return
		}
		p.sendUpdate(rel, statusStale, "")
		p.sendUpdate(rel, statusCurrent, event.Name)
	}
}

func (p *StoragePeer) reportIfEmpty(folderPath string) {
	entries, err := os.ReadDir(p.localPath(folderPath))
	if err != nil {
		return
	}
	for _, entry := range entries {
		if entry.Type().IsRegular() {
			return
		}
	}
	p.sendUpdate(folderPath, statusEmptyFolder, "")
}

func (p *StoragePeer) sendUpdate(filePath, status, local string) {
	update := bus.FileUpdate{FilePath: filePath, Status: status}
	if local != "" {
		update.OSPath = local
		update.OSURL = (&url.URL{Scheme: "file", Path: filepath.ToSlash(local)}).String()
	}
	p.broadcast(bus.MustMessage(bus.TopicFileUpdate, update))
}

func (p *StoragePeer) sendError(filePath, msg string, err error) {
	report := bus.FileError{FilePath: filePath, Msg: msg}
	if err != nil {
		report.Detail, _ = json.Marshal(err.Error())
	}
	p.broadcast(bus.MustMessage(bus.TopicFileError, report))
}

func (p *StoragePeer) broadcast(msg bus.Message) {
	if err := p.client.Broadcast(msg); err != nil {
		p.logger.WithError(err).WithField("topic", msg.Topic).Warn("storage update failed")
	}
}
