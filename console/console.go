// Package console is the kernel's only output device, the target of
// write(1, ...).
package console

import (
	"io"
	"sync"

	"github.com/dustin/go-humanize"

	log "github.com/sisoputnfrba/tp-kernel/utils/logger"
)

type Console struct {
	mu      sync.Mutex
	out     io.Writer
	logger  *log.LoggerStruct
	written uint64
}

func New(out io.Writer, logger *log.LoggerStruct) *Console {
	return &Console{out: out, logger: logger}
}

func (c *Console) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	n, err := c.out.Write(p)
	c.written += uint64(n)
	if err != nil {
		c.logger.Logf(log.ERROR, "## console: write failed after %d bytes: %v", n, err)
		return n, err
	}
	c.logger.Logf(log.DEBUG, "## console: %d bytes (%s total)", n, humanize.IBytes(c.written))
	return n, nil
}

// Written is the number of bytes delivered since boot.
func (c *Console) Written() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.written
}
