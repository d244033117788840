package simulator

import "github.com/tphakala/tricam/internal/logger"

var log = logger.Global().Module("simulator")
