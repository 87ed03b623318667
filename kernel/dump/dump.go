// Package dump writes a task's memory to disk on request.
package dump

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/dustin/go-humanize"

	"github.com/sisoputnfrba/tp-kernel/kernel/scheduler"
	log "github.com/sisoputnfrba/tp-kernel/utils/logger"
)

type Dumper struct {
	dir     string
	manager *scheduler.Manager
	logger  *log.LoggerStruct
	now     func() time.Time
}

func New(dir string, manager *scheduler.Manager, logger *log.LoggerStruct) *Dumper {
	return &Dumper{dir: dir, manager: manager, logger: logger, now: time.Now}
}

// Dump writes the running task's pages to <dir>/<id>-<timestamp>.dmp and
// returns the file's path. Dumps taken within the same millisecond get a
// -N suffix; existing files are never overwritten.
func (d *Dumper) Dump(id int) (string, error) {
	if err := os.MkdirAll(d.dir, 0o755); err != nil {
		return "", fmt.Errorf("creating dump dir: %w", err)
	}
	file, rutaCompleta, err := d.crearArchivo(id)
	if err != nil {
		return "", fmt.Errorf("creating dump for task %d: %w", id, err)
	}
	n, err := d.manager.DumpCurrent(file)
	if cerr := file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return "", fmt.Errorf("writing dump for task %d: %w", id, err)
	}

	d.logger.Logf(log.INFO, "## (%d) Memory Dump: %s (%s)", id, rutaCompleta, humanize.IBytes(uint64(n)))
	return rutaCompleta, nil
}

const maxIntentos = 1000

func (d *Dumper) crearArchivo(id int) (*os.File, string, error) {
	base := fmt.Sprintf("%d-%s", id, d.now().Format("20060102-150405.000"))
	for intento := 0; intento < maxIntentos; intento++ {
		nombreArchivo := base + ".dmp"
		if intento > 0 {
			nombreArchivo = fmt.Sprintf("%s-%d.dmp", base, intento)
		}
		rutaCompleta := filepath.Join(d.dir, nombreArchivo)
		file, err := os.OpenFile(rutaCompleta, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
		if errors.Is(err, os.ErrExist) {
			continue
		}
		return file, rutaCompleta, err
	}
	return nil, "", fmt.Errorf("%w: %s after %d attempts", os.ErrExist, base, maxIntentos)
}
