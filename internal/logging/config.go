package logging

import (
	"fmt"
	"os"
	"strings"
	"sync"
)

const envVar = "LOGLEVEL"

type tagLevel struct {
	tag   string
	level Level
}

var (
	tagLevelsMu sync.RWMutex
	tagLevels   []tagLevel
)

func init() {
	if err := Configure(os.Getenv(envVar)); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid %s: %v\n", envVar, err)
	}
}

// Configure applies comma-separated "tag=level" directives. A directive
// without "tag=" sets the default level. Later directives override earlier
// ones for the same tag. Levels are resolved on every log call, so loggers
// derived before Configure pick up the change.
func Configure(directives string) error {
	tagLevelsMu.Lock()
	defer tagLevelsMu.Unlock()

	for _, d := range strings.Split(directives, ",") {
		d = strings.TrimSpace(d)
		if d == "" {
			continue
		}
		v := strings.SplitN(d, "=", 2)
		level, err := ParseLevel(v[len(v)-1])
		if err != nil {
			return err
		}
		if len(v) == 1 {
			defaultLevel = level
			continue
		}
		tagLevels = append([]tagLevel{{v[0], level}}, tagLevels...)
	}
	return nil
}

func determineLevel(tag string) Level {
	tagLevelsMu.RLock()
	defer tagLevelsMu.RUnlock()

	for _, e := range tagLevels {
		if e.tag == tag {
			return e.level
		}
	}
	return defaultLevel
}
