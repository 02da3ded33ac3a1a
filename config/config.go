// Package config loads the yaml configuration of the engine and its tools
// from a file or a directory of files, and reloads it on SIGHUP.
package config

import (
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"dario.cat/mergo"
	"github.com/sirupsen/logrus"
	"go.yaml.in/yaml/v3"
)

// C is a loaded configuration. Keys are addressed with dotted paths, for
// example dma.pool.descriptors.
type C struct {
	Settings map[string]any

	path      string
	previous  map[string]any
	callbacks []func(*C)
	l         *logrus.Logger
	reload    sync.Mutex
}

func NewC(l *logrus.Logger) *C {
	return &C{
		Settings: make(map[string]any),
		l:        l,
	}
}

// Load reads path, a file or a directory of yaml files, and replaces the
// current settings. Files later in lexical order override earlier ones.
func (c *C) Load(path string) error {
	c.path = path

	docs, err := ReadConfigFiles(path)
	if err != nil {
		return err
	}
	return c.parse(docs)
}

// LoadString replaces the current settings with the single document raw.
func (c *C) LoadString(raw string) error {
	if raw == "" {
		return errors.New("Empty configuration")
	}
	return c.parse([]string{raw})
}

// RegisterReloadCallback adds f to the functions run after every successful
// reload. f should use HasChanged to skip work and must return quickly.
func (c *C) RegisterReloadCallback(f func(*C)) {
	c.callbacks = append(c.callbacks, f)
}

// HasChanged reports whether the value under k differs between the settings
// before and after the last reload. An empty k compares everything.
func (c *C) HasChanged(k string) bool {
	if c.previous == nil {
		return false
	}

	now, err := c.marshal(k, c.Settings)
	if err != nil {
		c.l.WithField("config_path", k).WithError(err).Error("Error while marshaling new config")
	}
	before, err := c.marshal(k, c.previous)
	if err != nil {
		c.l.WithField("config_path", k).WithError(err).Error("Error while marshaling old config")
	}

	return now != before
}

func (c *C) marshal(k string, settings map[string]any) (string, error) {
	var v any = settings
	if k != "" {
		v = lookup(k, settings)
	}
	b, err := yaml.Marshal(v)
	return string(b), err
}

// CatchHUP reloads the path given to Load every time the process receives
// SIGHUP, until ctx is done.
func (c *C) CatchHUP(ctx context.Context) {
	if c.path == "" {
		return
	}

	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGHUP)

	go func() {
		defer signal.Stop(ch)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ch:
				c.l.Info("Caught HUP, reloading config")
				c.ReloadConfig()
			}
		}
	}()
}

// ReloadConfig loads the path given to Load again. A failed load is logged
// and leaves the current settings in place.
func (c *C) ReloadConfig() {
	err := c.reloadWith(func() error { return c.Load(c.path) })
	if err != nil {
		c.l.WithField("config_path", c.path).WithError(err).Error("Error occurred while reloading config")
	}
}

// ReloadConfigString is ReloadConfig from a single document.
func (c *C) ReloadConfigString(raw string) error {
	return c.reloadWith(func() error { return c.LoadString(raw) })
}

func (c *C) reloadWith(load func() error) error {
	c.reload.Lock()
	defer c.reload.Unlock()

	// parse swaps in a fresh tree, a shallow copy is enough to compare against
	before := maps.Clone(c.Settings)
	if err := load(); err != nil {
		return err
	}
	c.previous = before

	for _, f := range c.callbacks {
		f(c)
	}
	return nil
}

// parse merges docs in order. Every document takes the keys it lacks from the
// ones before it, so later documents win.
func (c *C) parse(docs []string) error {
	var merged map[string]any

	for _, doc := range docs {
		var m map[string]any
		if err := yaml.Unmarshal([]byte(doc), &m); err != nil {
			return err
		}
		if err := mergo.Merge(&m, merged, mergo.WithAppendSlice); err != nil {
			return err
		}
		merged = m
	}

	if merged == nil {
		merged = make(map[string]any)
	}
	c.Settings = merged
	return nil
}

// Get returns the raw value under k, nil if there is none.
func (c *C) Get(k string) any {
	return lookup(k, c.Settings)
}

func (c *C) IsSet(k string) bool {
	return c.Get(k) != nil
}

func lookup(k string, v any) any {
	for _, p := range strings.Split(k, ".") {
		m, ok := v.(map[string]any)
		if !ok {
			return nil
		}
		if v, ok = m[p]; !ok {
			return nil
		}
	}
	return v
}

// text is the value under k formatted as a string.
func (c *C) text(k string) (string, bool) {
	v := c.Get(k)
	if v == nil {
		return "", false
	}
	return fmt.Sprintf("%v", v), true
}

// GetString returns the value under k as a string, or d if it is not set.
func (c *C) GetString(k, d string) string {
	if s, ok := c.text(k); ok {
		return s
	}
	return d
}

// GetInt returns the int under k, or d if it is not set or not an int.
func (c *C) GetInt(k string, d int) int {
	s, ok := c.text(k)
	if !ok {
		return d
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return d
	}
	return v
}

// GetUint32 is GetUint64 limited to 32 bits. Out of range values give d.
func (c *C) GetUint32(k string, d uint32) uint32 {
	return uint32(c.getUint(k, uint64(d), 32))
}

// GetUint64 returns the unsigned integer under k, or d if it is not set or
// invalid. Quoted values may carry a base prefix, "0x40000000" for a bus
// address.
func (c *C) GetUint64(k string, d uint64) uint64 {
	return c.getUint(k, d, 64)
}

func (c *C) getUint(k string, d uint64, bits int) uint64 {
	s, ok := c.text(k)
	if !ok {
		return d
	}
	v, err := strconv.ParseUint(s, 0, bits)
	if err != nil {
		return d
	}
	return v
}

// GetBool returns the bool under k, or d if it is not set or invalid. yes and
// no are accepted next to the strconv spellings.
func (c *C) GetBool(k string, d bool) bool {
	s, ok := c.text(k)
	if !ok {
		return d
	}

	s = strings.ToLower(s)
	switch s {
	case "y", "yes":
		return true
	case "n", "no":
		return false
	}
	v, err := strconv.ParseBool(s)
	if err != nil {
		return d
	}
	return v
}

// GetDuration returns the duration under k, or d if it is not set or invalid.
func (c *C) GetDuration(k string, d time.Duration) time.Duration {
	s, ok := c.text(k)
	if !ok {
		return d
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return d
	}
	return v
}
