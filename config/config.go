// Package config loads the layered YAML configuration a virtfsd instance
// runs with: the vhost-user socket location plus the logging and stats
// sections. A path may point at a single file or at a directory, in which
// case every yaml file in it is merged in lexical order so deployments can
// split base settings from per-host overrides. SIGHUP reloads the same path
// and notifies registered subscribers, which is how log levels are changed
// on a running daemon.
package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"dario.cat/mergo"
	"github.com/sirupsen/logrus"
	"go.yaml.in/yaml/v3"
)

type C struct {
	path       string
	Settings   map[string]any
	callbacks  []func(*C)
	l          *logrus.Logger
	reloadLock sync.Mutex
}

func NewC(l *logrus.Logger) *C {
	return &C{
		Settings: make(map[string]any),
		l:        l,
	}
}

// Load reads the config from path, which is either a yaml file or a
// directory of yaml files merged in lexical order. The path is remembered
// for reloads.
func (c *C) Load(path string) error {
	c.path = path

	files, err := gatherFiles(path)
	if err != nil {
		return err
	}
	if len(files) == 0 {
		return fmt.Errorf("no config files found at %s", path)
	}

	settings, err := mergeFiles(files)
	if err != nil {
		return err
	}

	c.Settings = settings
	return nil
}

// LoadString parses raw yaml as the whole config. Used by embedders that
// manage config delivery themselves; there is no path to reload from.
func (c *C) LoadString(raw string) error {
	if raw == "" {
		return errors.New("Empty configuration")
	}

	var settings map[string]any
	if err := yaml.Unmarshal([]byte(raw), &settings); err != nil {
		return err
	}

	c.Settings = settings
	return nil
}

// RegisterReloadCallback stores a function to be called after a config
// reload. Callbacks run on the reloading goroutine and should return
// quickly.
func (c *C) RegisterReloadCallback(f func(*C)) {
	c.callbacks = append(c.callbacks, f)
}

// CatchHUP listens for SIGHUP until the context is done and reloads the
// path given to Load when it fires.
func (c *C) CatchHUP(ctx context.Context) {
	if c.path == "" {
		return
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)

	go func() {
		for {
			select {
			case <-ctx.Done():
				signal.Stop(ch)
				close(ch)
				return
			case <-ch:
				c.l.Info("Caught HUP, reloading config")
				c.ReloadConfig()
			}
		}
	}()
}

// ReloadConfig re-reads the loaded path and runs the reload callbacks. A
// config that fails to parse is logged and the previous settings stay
// active, so a bad edit cannot take down a serving daemon.
func (c *C) ReloadConfig() {
	c.reloadLock.Lock()
	defer c.reloadLock.Unlock()

	err := c.Load(c.path)
	if err != nil {
		c.l.WithField("config_path", c.path).WithError(err).Error("Error occurred while reloading config")
		return
	}

	for _, v := range c.callbacks {
		v(c)
	}
}

// GetString will get the string for k or return the default d if not found or invalid
func (c *C) GetString(k, d string) string {
	r := c.Get(k)
	if r == nil {
		return d
	}

	return fmt.Sprintf("%v", r)
}

// GetBool will get the bool for k or return the default d if not found or invalid
func (c *C) GetBool(k string, d bool) bool {
	r := strings.ToLower(c.GetString(k, fmt.Sprintf("%v", d)))
	v, err := strconv.ParseBool(r)
	if err != nil {
		switch r {
		case "y", "yes":
			return true
		case "n", "no":
			return false
		}
		return d
	}

	return v
}

// GetDuration will get the duration for k or return the default d if not found or invalid
func (c *C) GetDuration(k string, d time.Duration) time.Duration {
	r := c.GetString(k, "")
	v, err := time.ParseDuration(r)
	if err != nil {
		return d
	}
	return v
}

// Get returns the raw value for the dotted key k, nil when unset. Keys
// address nested maps, `stats.listen` style.
func (c *C) Get(k string) any {
	v := any(c.Settings)
	for _, part := range strings.Split(k, ".") {
		m, ok := v.(map[string]any)
		if !ok {
			return nil
		}

		v, ok = m[part]
		if !ok {
			return nil
		}
	}

	return v
}

// gatherFiles expands path into the sorted list of yaml files to merge. A
// directly named file is always taken; files found by walking a directory
// must carry a yaml extension.
func gatherFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, nil
	}

	if !info.IsDir() {
		ap, err := filepath.Abs(path)
		if err != nil {
			return nil, err
		}
		return []string{ap}, nil
	}

	names, err := readDirNames(path)
	if err != nil {
		return nil, fmt.Errorf("problem while reading directory %s: %s", path, err)
	}

	var files []string
	for _, name := range names {
		ext := filepath.Ext(name)
		if ext != ".yaml" && ext != ".yml" {
			continue
		}

		ap, err := filepath.Abs(filepath.Join(path, name))
		if err != nil {
			return nil, err
		}
		files = append(files, ap)
	}

	sort.Strings(files)
	return files, nil
}

// mergeFiles parses every file and layers later files over earlier ones.
func mergeFiles(files []string) (map[string]any, error) {
	var settings map[string]any

	for _, path := range files {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}

		var layer map[string]any
		if err = yaml.Unmarshal(b, &layer); err != nil {
			return nil, err
		}

		// WithAppendSlice keeps lists from separate files additive instead
		// of letting the last file win.
		if err = mergo.Merge(&layer, settings, mergo.WithAppendSlice); err != nil {
			return nil, err
		}
		settings = layer
	}

	return settings, nil
}

func readDirNames(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}

	names, err := f.Readdirnames(-1)
	f.Close()
	if err != nil {
		return nil, err
	}

	sort.Strings(names)
	return names, nil
}
