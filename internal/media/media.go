// Package media feeds H.264 Annex B streams into decoder sessions.
package media

import (
	"github.com/lanikai/h264play/internal/logging"
)

var log = logging.DefaultLogger.WithTag("media")
