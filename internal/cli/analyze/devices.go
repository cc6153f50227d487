// internal/cli/analyze/devices.go
package analyze

import (
	"fmt"

	"github.com/ColonelBlimp/tickrate/internal/audio"
)

// Device describes a capture device.
type Device struct {
	Index     int
	Name      string
	IsDefault bool
}

// ListAudioDevices enumerates capture devices in the order Start indexes them.
func ListAudioDevices() ([]Device, error) {
	capture := audio.New(audio.DefaultConfig())
	if err := capture.Init(); err != nil {
		return nil, err
	}
	defer func() { _ = capture.Close() }()

	infos, err := capture.ListDevices()
	if err != nil {
		return nil, fmt.Errorf("list audio devices: %w", err)
	}

	devices := make([]Device, len(infos))
	for i, info := range infos {
		devices[i] = Device{
			Index:     i,
			Name:      info.Name(),
			IsDefault: info.IsDefault != 0,
		}
	}
	return devices, nil
}
