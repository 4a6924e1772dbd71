// Package logging wires the standard logger to stdout and a log file under
// the data directory. The core has no log-viewing HTTP surface (that lives
// in the out-of-scope dashboard), so this package only owns setup.
package logging

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/tunnelgate/tunnelgate/internal/config"
)

// Init sets up dual logging to stdout and a log file under config.Cfg.DataDir.
// Must be called after config.Load(). Failure to open the log file is a
// warning, not fatal — stdout logging still works.
func Init() {
	dir := config.Cfg.DataDir
	if dir == "" {
		dir = "/app/data"
	}
	path := filepath.Join(dir, "tunnelgate.log")

	if err := os.MkdirAll(dir, 0755); err != nil {
		log.Printf("WARNING: cannot create log directory %s: %v", dir, err)
		return
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		log.Printf("WARNING: cannot open log file %s: %v", path, err)
		return
	}

	log.SetOutput(io.MultiWriter(os.Stdout, f))
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)
	log.Printf("logging to file: %s", path)
}
