package settings

import (
	"fmt"
	"os"
	"strings"

	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/model"
	"github.com/md-rashed-zaman/slotguard/services/availability-service/internal/tzconv"
	"gopkg.in/yaml.v3"
)

// BuiltinDefaults is Monday to Friday, 09:00 to 17:00 London time, in 30 minute sessions.
func BuiltinDefaults() model.Settings {
	return model.Settings{
		Timezone:        "Europe/London",
		WorkingDays:     []int{1, 2, 3, 4, 5},
		DailyStartTime:  tzconv.Clock(9 * 60),
		DailyEndTime:    tzconv.Clock(17 * 60),
		SessionDuration: 30,
		IsActive:        true,
	}
}

// LoadSeed reads defaults from a YAML file. Keys missing from the file keep their
// built-in values. An empty path returns the built-in defaults.
func LoadSeed(path string) (model.Settings, error) {
	out := BuiltinDefaults()
	path = strings.TrimSpace(path)
	if path == "" {
		return out, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return model.Settings{}, fmt.Errorf("read settings seed: %w", err)
	}
	if err := yaml.Unmarshal(raw, &out); err != nil {
		return model.Settings{}, fmt.Errorf("parse settings seed %s: %w", path, err)
	}
	if err := Validate(out); err != nil {
		return model.Settings{}, fmt.Errorf("settings seed %s: %w", path, err)
	}
	out.WorkingDays = normalizeDays(out.WorkingDays)
	return out, nil
}
