package manager

import (
	"os"

	"github.com/pelletier/go-toml/v2"

	"github.com/openrigd/rigd/internal/apperror"
)

type persistedState struct {
	Devices []DeviceSettings `toml:"devices"`
}

// loadState reads path and returns its device list. A missing file is not
// an error: a fresh install has no persisted devices yet.
func loadState(path string) ([]DeviceSettings, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, apperror.Wrap(apperror.KindConfig, "reading rigs.toml", err)
	}
	var state persistedState
	if err := toml.Unmarshal(data, &state); err != nil {
		return nil, apperror.Wrap(apperror.KindConfig, "parsing rigs.toml", err)
	}
	return state.Devices, nil
}

// saveState writes the full device list to path, overwriting it. Called on
// every fleet change so a restart replays the exact same fleet.
func saveState(path string, devices []DeviceSettings) error {
	data, err := toml.Marshal(persistedState{Devices: devices})
	if err != nil {
		return apperror.Wrap(apperror.KindConfig, "marshalling rigs.toml", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return apperror.Wrap(apperror.KindConfig, "writing rigs.toml", err)
	}
	return nil
}
