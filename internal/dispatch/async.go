package dispatch

import (
	"github.com/mcdonaldj/zipstage/internal/future"
	"github.com/mcdonaldj/zipstage/internal/worker"
)

// Async runs Dispatcher operations on a bounded worker pool. Every method
// returns at once; the outcome, including a classified failure, arrives
// through the future. Submission fails with worker.ErrSaturated when the
// pool is full.
type Async struct {
	d    *Dispatcher
	pool *worker.Pool
}

// NewAsync pairs a dispatcher with the pool that runs its work.
func NewAsync(d *Dispatcher, pool *worker.Pool) *Async {
	return &Async{d: d, pool: pool}
}

// CreateArchive is the background form of Dispatcher.CreateArchive.
func (a *Async) CreateArchive(sourcePath, destPath string) (*future.Future[int], error) {
	return worker.Submit(a.pool, "create "+sourcePath, func() (int, error) {
		return a.d.CreateArchive(sourcePath, destPath)
	})
}

// ExtractArchive is the background form of Dispatcher.ExtractArchive.
func (a *Async) ExtractArchive(archivePath, destDir string) (*future.Future[struct{}], error) {
	return worker.Submit(a.pool, "extract "+archivePath, func() (struct{}, error) {
		return struct{}{}, a.d.ExtractArchive(archivePath, destDir)
	})
}

// CreateArchiveFromBytes is the background form of Dispatcher.CreateArchiveFromBytes.
func (a *Async) CreateArchiveFromBytes(data []byte, entryName string) (*future.Future[[]byte], error) {
	return worker.Submit(a.pool, "pack "+entryName, func() ([]byte, error) {
		return a.d.CreateArchiveFromBytes(data, entryName)
	})
}

// ExtractArchiveBytes is the background form of Dispatcher.ExtractArchiveBytes.
func (a *Async) ExtractArchiveBytes(data []byte) (*future.Future[[]byte], error) {
	return worker.Submit(a.pool, "unpack", func() ([]byte, error) {
		return a.d.ExtractArchiveBytes(data)
	})
}

// Close waits for in-flight work and shuts the pool down.
func (a *Async) Close() {
	a.pool.Close()
}
