// internal/config/watch.go
package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// ErrNoConfigFile indicates no config file was loaded, so there is nothing to watch
var ErrNoConfigFile = errors.New("no config file in use")

// ChangeFunc receives the settings re-read after the config file changed,
// or the error that stopped them from being read or validated.
type ChangeFunc func(settings *Settings, err error)

// Watch re-reads the config file each time it is written or replaced and
// passes the result to onChange. It blocks until ctx is cancelled and closes
// its watcher before returning. Init must have been called first.
func Watch(ctx context.Context, onChange ChangeFunc) error {
	file := viper.ConfigFileUsed()
	if file == "" {
		return ErrNoConfigFile
	}
	file = filepath.Clean(file)

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	defer func() { _ = watcher.Close() }()

	// The directory is watched so editors that save by rename are still seen
	if err := watcher.Add(filepath.Dir(file)); err != nil {
		return fmt.Errorf("watch config dir: %w", err)
	}

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != file || !event.Has(fsnotify.Write|fsnotify.Create) {
				continue
			}
			if err := viper.ReadInConfig(); err != nil {
				onChange(nil, fmt.Errorf("read config: %w", err))
				continue
			}
			onChange(Get())

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			onChange(nil, fmt.Errorf("watch config: %w", err))
		}
	}
}
