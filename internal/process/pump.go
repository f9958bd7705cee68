package process

import (
	"bufio"
	"errors"
	"io"
	"os"

	"github.com/loykin/scriptdeck/internal/broadcast"
	"github.com/loykin/scriptdeck/internal/metrics"
)

// pump drains the combined output of r until EOF, persisting and then
// publishing every line, reaps the process and reports the exit to the actor.
// It never changes the handle state itself.
func (h *Handle) pump(r *run, out *os.File, j Journal) {
	defer h.wg.Done()

	rd := bufio.NewReader(out)
	for {
		line, err := rd.ReadString('\n')
		if line != "" {
			// a partial last line arrives together with io.EOF
			h.deliver(j, line)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				r.readErr = &StreamReadError{Script: h.script.ID, Err: err}
				// nobody is draining the pipe any more
				_ = terminate(r.pid)
			}
			break
		}
	}
	_ = out.Close()

	r.err = r.cmd.Wait()
	close(r.done)

	select {
	case h.cmdChan <- command{action: actionExited, run: r}:
	case <-h.doneChan:
	}
}

// deliver persists line and then publishes it. A persistence failure is
// logged and does not affect publishing.
func (h *Handle) deliver(j Journal, line string) {
	if j != nil {
		if err := j.Line(line); err != nil {
			metrics.IncJournalError(h.script.ID)
			h.logger.Warn("output line not persisted",
				"error", &LogWriteError{Script: h.script.ID, Err: err})
		}
	}
	metrics.IncOutputLine(h.script.ID)
	if h.opts.Publisher != nil {
		h.opts.Publisher.Publish(h.script.ID, broadcast.Message{
			Event:  broadcast.EventOutput,
			Script: h.script.ID,
			Output: line,
		})
	}
}
