package producer

// SplitBatches partitions items, in order, into batches holding at most maxCount items
// and at most maxSize bytes as measured by size. fn is called once per batch with the
// batch and its cumulative size.
//
// The split is a single greedy pass: an item that would overflow either limit closes
// the current batch and starts the next one. An item larger than maxSize on its own
// still forms a batch of one, so callers must reject oversized items beforehand.
// maxCount and maxSize must be positive.
//
// Batches are sub-slices of items with their capacity capped, so appending to one
// never overwrites the next.
func SplitBatches[T any](items []T, maxCount, maxSize int, size func(T) int, fn func(batch []T, size int)) {
	var (
		start       = 0
		currentSize = 0
	)
	for i, item := range items {
		itemSize := size(item)
		count := i - start
		if count > 0 && (count+1 > maxCount || currentSize+itemSize > maxSize) {
			fn(items[start:i:i], currentSize)
			start = i
			currentSize = 0
		}
		currentSize += itemSize
	}
	if start < len(items) {
		fn(items[start:len(items):len(items)], currentSize)
	}
}

// Batches collects the batches produced by SplitBatches.
func Batches[T any](items []T, maxCount, maxSize int, size func(T) int) [][]T {
	var out [][]T
	SplitBatches(items, maxCount, maxSize, size, func(batch []T, _ int) {
		out = append(out, batch)
	})
	return out
}
