package producer

// semaphore bounds the number of chunks delivered concurrently
type semaphore chan struct{}

// acquire a slot, blocking until one is free
func (s semaphore) acquire() {
	s <- struct{}{}
}

// release a slot
func (s semaphore) release() {
	<-s
}

// wait blocks until count slots are held, i.e. until every in-flight delivery is done
// when count is the capacity
func (s semaphore) wait(count int) {
	for i := 0; i < count; i++ {
		s <- struct{}{}
	}
}
