package runtime

import (
	"sync"
)

// Merger folds the error channels of all stages into one stream.
type Merger struct {
	wg   sync.WaitGroup
	errs chan error
}

// NewMerger returns a merger ready to listen.
func NewMerger() *Merger {
	return &Merger{errs: make(chan error, 1)}
}

// Add subscribes the merger to stage error channels.
func (m *Merger) Add(errcs ...<-chan error) {
	m.wg.Add(len(errcs))
	for _, ec := range errcs {
		go m.listen(ec)
	}
}

// listen drains the channel until it is closed. Only the first error makes
// it into the merged stream; later ones are discarded so that no stage
// ever blocks on report.
func (m *Merger) listen(ec <-chan error) {
	for err := range ec {
		select {
		case m.errs <- err:
		default:
		}
	}
	m.wg.Done()
}

// Errors returns the merged stream. It is closed by Wait.
func (m *Merger) Errors() <-chan error {
	return m.errs
}

// Wait blocks until every added channel is closed and then closes the
// merged stream.
func (m *Merger) Wait() {
	m.wg.Wait()
	close(m.errs)
}
