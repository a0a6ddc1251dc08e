package services

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/zeebo/xxh3"

	"github.com/webmux/webmux/internal/logger"
	"github.com/webmux/webmux/internal/models"
)

const maxDotfileVersions = 10

// DotfileType classifies a managed dotfile for the UI.
type DotfileType string

const (
	DotfileShell DotfileType = "shell"
	DotfileGit   DotfileType = "git"
	DotfileVim   DotfileType = "vim"
	DotfileTmux  DotfileType = "tmux"
	DotfileSSH   DotfileType = "ssh"
)

// Dotfile describes one managed file and its current state on disk.
type Dotfile struct {
	Name     string      `json:"name"`
	Path     string      `json:"path"`
	Size     int64       `json:"size"`
	Modified time.Time   `json:"modified"`
	Exists   bool        `json:"exists"`
	Readable bool        `json:"readable"`
	Writable bool        `json:"writable"`
	Type     DotfileType `json:"fileType"`
}

// FileVersion is one backed-up revision of a dotfile, kept in memory.
type FileVersion struct {
	Timestamp time.Time `json:"timestamp"`
	Content   string    `json:"content"`
	Size      int64     `json:"size"`
	Hash      string    `json:"hash"`
}

type knownDotfile struct {
	name     string
	fileType DotfileType
}

var knownDotfiles = []knownDotfile{
	{".bashrc", DotfileShell},
	{".zshrc", DotfileShell},
	{".profile", DotfileShell},
	{".bash_profile", DotfileShell},
	{".bash_aliases", DotfileShell},
	{".gitconfig", DotfileGit},
	{".gitignore_global", DotfileGit},
	{".vimrc", DotfileVim},
	{".tmux.conf", DotfileTmux},
	{".ssh/config", DotfileSSH},
}

// DotfilesService exposes a curated set of home-directory configuration
// files for editing from the browser. Every write backs up the previous
// content in memory, and a filesystem watcher notifies clients when a file
// changes behind the server's back.
type DotfilesService struct {
	homeDir string
	clients *ClientManager

	mu      sync.RWMutex
	history map[string][]FileVersion

	watcher *fsnotify.Watcher
	done    chan struct{}
}

// NewDotfilesService creates a service rooted at homeDir; empty means the
// current user's home directory.
func NewDotfilesService(homeDir string, clients *ClientManager) (*DotfilesService, error) {
	if homeDir == "" {
		var err error
		homeDir, err = os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolving home directory: %w", err)
		}
	}
	return &DotfilesService{
		homeDir: homeDir,
		clients: clients,
		history: make(map[string][]FileVersion),
	}, nil
}

// List returns the known dotfiles with their on-disk state. Missing files
// are included so the UI can offer to create them.
func (d *DotfilesService) List() []Dotfile {
	out := make([]Dotfile, 0, len(knownDotfiles))
	for _, kf := range knownDotfiles {
		path := filepath.Join(d.homeDir, kf.name)
		df := Dotfile{
			Name: kf.name,
			Path: path,
			Type: kf.fileType,
		}
		if info, err := os.Stat(path); err == nil {
			df.Exists = true
			df.Size = info.Size()
			df.Modified = info.ModTime()
			df.Readable = isReadable(path)
			df.Writable = isWritable(path)
		}
		out = append(out, df)
	}
	return out
}

// Read returns the content of a managed dotfile.
func (d *DotfilesService) Read(name string) (string, error) {
	path, err := d.resolve(name)
	if err != nil {
		return "", err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("reading %s: %w", name, err)
	}
	return string(data), nil
}

// Write replaces the content of a managed dotfile, backing up the previous
// version first.
func (d *DotfilesService) Write(name, content string) error {
	path, err := d.resolve(name)
	if err != nil {
		return err
	}

	if prev, err := os.ReadFile(path); err == nil {
		d.saveVersion(path, string(prev))
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("creating parent directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		return fmt.Errorf("writing %s: %w", name, err)
	}
	logger.Infof("Wrote dotfile %s (%d bytes)", name, len(content))
	return nil
}

// History returns the saved versions for a dotfile, oldest first.
func (d *DotfilesService) History(name string) ([]FileVersion, error) {
	path, err := d.resolve(name)
	if err != nil {
		return nil, err
	}
	d.mu.RLock()
	defer d.mu.RUnlock()
	versions := d.history[path]
	out := make([]FileVersion, len(versions))
	copy(out, versions)
	return out, nil
}

// Restore rewrites a dotfile with the version saved at the given timestamp.
// The current content is backed up first, so a restore is itself undoable.
func (d *DotfilesService) Restore(name string, timestamp time.Time) error {
	path, err := d.resolve(name)
	if err != nil {
		return err
	}

	d.mu.RLock()
	var content string
	found := false
	for _, v := range d.history[path] {
		if v.Timestamp.Equal(timestamp) {
			content = v.Content
			found = true
			break
		}
	}
	d.mu.RUnlock()

	if !found {
		return fmt.Errorf("no version of %s at %s", name, timestamp.Format(time.RFC3339))
	}
	return d.Write(name, content)
}

func (d *DotfilesService) saveVersion(path, content string) {
	version := FileVersion{
		Timestamp: time.Now(),
		Content:   content,
		Size:      int64(len(content)),
		Hash:      fmt.Sprintf("%016x", xxh3.HashString(content)),
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	versions := d.history[path]
	if len(versions) >= maxDotfileVersions {
		versions = versions[1:]
	}
	d.history[path] = append(versions, version)
}

// resolve maps a client-supplied name to an absolute path, restricted to
// the known dotfile set. Arbitrary paths are rejected outright.
func (d *DotfilesService) resolve(name string) (string, error) {
	name = strings.TrimPrefix(name, "~/")
	for _, kf := range knownDotfiles {
		if kf.name == name {
			return filepath.Join(d.homeDir, kf.name), nil
		}
	}
	return "", fmt.Errorf("%q is not a managed dotfile", name)
}

// StartWatcher begins watching the home directory and notifies connected
// clients when a managed dotfile changes outside the server.
func (d *DotfilesService) StartWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	if err := watcher.Add(d.homeDir); err != nil {
		watcher.Close()
		return fmt.Errorf("watching %s: %w", d.homeDir, err)
	}
	sshDir := filepath.Join(d.homeDir, ".ssh")
	if _, err := os.Stat(sshDir); err == nil {
		_ = watcher.Add(sshDir)
	}

	d.watcher = watcher
	d.done = make(chan struct{})
	go d.watchLoop()
	logger.Debugf("Watching dotfiles under %s", d.homeDir)
	return nil
}

// StopWatcher ends filesystem watching.
func (d *DotfilesService) StopWatcher() {
	if d.watcher == nil {
		return
	}
	d.watcher.Close()
	<-d.done
	d.watcher = nil
}

func (d *DotfilesService) watchLoop() {
	defer close(d.done)
	for {
		select {
		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			name, managed := d.managedName(event.Name)
			if !managed {
				continue
			}
			logger.Debugf("Dotfile changed on disk: %s", name)
			d.clients.Broadcast(models.ServerMessage{
				Type: models.MsgDotfileChanged,
				Data: name,
			})
		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			logger.Warnf("Dotfile watcher: %v", err)
		}
	}
}

func (d *DotfilesService) managedName(path string) (string, bool) {
	rel, err := filepath.Rel(d.homeDir, path)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	for _, kf := range knownDotfiles {
		if kf.name == rel {
			return kf.name, true
		}
	}
	return "", false
}

func isReadable(path string) bool {
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	f.Close()
	return true
}

func isWritable(path string) bool {
	f, err := os.OpenFile(path, os.O_WRONLY, 0)
	if err != nil {
		return false
	}
	f.Close()
	return true
}
