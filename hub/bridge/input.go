package bridge

import "sync"

// shellInput feeds one session's keystrokes to its shell from a dedicated
// goroutine, so a shell that stops reading stdin only stalls itself and
// never the channel's read loop.
type shellInput struct {
	queue chan []byte
	done  chan struct{}
	once  sync.Once
}

func newShellInput(depth int, write func([]byte) error, onErr func(error)) *shellInput {
	in := &shellInput{
		queue: make(chan []byte, depth),
		done:  make(chan struct{}),
	}
	go in.run(write, onErr)
	return in
}

func (in *shellInput) run(write func([]byte) error, onErr func(error)) {
	for {
		select {
		case <-in.done:
			return
		case p := <-in.queue:
			if err := write(p); err != nil {
				onErr(err)
			}
		}
	}
}

// enqueue reports false when the queue is full or the input was stopped.
func (in *shellInput) enqueue(p []byte) bool {
	select {
	case <-in.done:
		return false
	default:
	}
	select {
	case in.queue <- p:
		return true
	default:
		return false
	}
}

// stop ends the goroutine once its current write returns. Queued input is
// discarded.
func (in *shellInput) stop() {
	in.once.Do(func() { close(in.done) })
}
