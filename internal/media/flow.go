package media

import (
	"sync"
)

// Flow fans out byte slices to any number of subscriber channels. Writes never
// block: a subscriber that falls behind loses its oldest pending message.
type Flow struct {
	// Start is called when the first subscriber is added.
	Start func()

	// Stop is called when the last subscriber is removed.
	Stop func()

	subscribers []chan []byte
	missed      map[chan []byte]int

	sync.Mutex
}

func (f *Flow) Subscribe(capacity int) <-chan []byte {
	f.Lock()
	defer f.Unlock()

	if capacity == 0 {
		panic("media.Flow: receiver capacity must be nonzero")
	}

	s := make(chan []byte, capacity)
	f.subscribers = append(f.subscribers, s)
	if f.Start != nil && len(f.subscribers) == 1 {
		f.Start()
	}
	return s
}

func (f *Flow) Unsubscribe(s <-chan []byte) error {
	f.Lock()
	defer f.Unlock()

	found := false
	for i, subscriber := range f.subscribers {
		if s == subscriber {
			subs := f.subscribers
			close(subs[i])
			delete(f.missed, subs[i])
			subs[len(subs)-1], subs[i] = subs[i], subs[len(subs)-1]
			f.subscribers = subs[:len(subs)-1]
			found = true
			break
		}
	}
	if !found {
		return errNotFound
	}

	if f.Stop != nil && len(f.subscribers) == 0 {
		go f.Stop()
	}
	return nil
}

// Subscribers returns the current number of subscribers.
func (f *Flow) Subscribers() int {
	f.Lock()
	defer f.Unlock()
	return len(f.subscribers)
}

// Missed returns how many messages subscriber s has lost to overflow.
func (f *Flow) Missed(s <-chan []byte) int {
	f.Lock()
	defer f.Unlock()
	for _, subscriber := range f.subscribers {
		if s == subscriber {
			return f.missed[subscriber]
		}
	}
	return 0
}

func (f *Flow) Write(p []byte) (n int, err error) {
	f.Lock()
	defer f.Unlock()

	for _, subscriber := range f.subscribers {
		for {
			select {
			case subscriber <- p:
			default:
				// Full. Drop the oldest message and retry. The subscriber
				// may have drained it concurrently, hence the non-blocking
				// receive.
				select {
				case <-subscriber:
					if f.missed == nil {
						f.missed = make(map[chan []byte]int)
					}
					f.missed[subscriber]++
				default:
				}
				continue
			}
			break
		}
	}

	return len(p), nil
}

func (f *Flow) Close() error {
	f.Lock()
	defer f.Unlock()

	for _, subscriber := range f.subscribers {
		close(subscriber)
	}
	f.subscribers = nil
	f.missed = nil
	return nil
}
