package postfx

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/gogpu/postfx/backend"
	"github.com/gogpu/postfx/cache"
)

type programKey struct {
	b     backend.Backend
	epoch uint64
	name  string
}

type programEntry struct {
	prog backend.Program
	err  error
}

// programs is shared by every pipeline: a program compiled for a backend is
// reused by all pipelines rendering on it. Link failures are cached too, so
// a broken program is not recompiled every frame.
var programs = newProgramCache(256)

type programCache struct {
	entries *cache.Cache[programKey, programEntry]

	mu     sync.Mutex
	users  map[backend.Backend]int
	epochs map[backend.Backend]uint64
}

func newProgramCache(capacity int) *programCache {
	pc := &programCache{
		entries: cache.New[programKey, programEntry](capacity),
		users:   make(map[backend.Backend]int),
		epochs:  make(map[backend.Backend]uint64),
	}
	pc.entries.OnEvict(func(k programKey, _ programEntry) {
		Logger().Debug("postfx: program dropped", "program", k.name, "backend", k.b.Name(), "epoch", k.epoch)
	})
	return pc
}

func epochOf(b backend.Backend) uint64 {
	if e, ok := b.(backend.Epocher); ok {
		return e.Epoch()
	}
	return 0
}

func (pc *programCache) compile(b backend.Backend, src backend.ProgramSource, log *slog.Logger) (backend.Program, error) {
	epoch := epochOf(b)
	pc.mu.Lock()
	last, seen := pc.epochs[b]
	pc.epochs[b] = epoch
	pc.mu.Unlock()
	if seen && last != epoch {
		pc.entries.DeleteFunc(func(k programKey, _ programEntry) bool {
			return k.b == b && k.epoch != epoch
		})
	}

	key := programKey{b: b, epoch: epoch, name: src.Name}
	e, _ := pc.entries.GetOrCreate(key, func() (programEntry, error) {
		prog, err := b.CompileProgram(src)
		if err != nil {
			err = fmt.Errorf("compile %q: %w", src.Name, err)
			log.Debug("postfx: program failed to compile", "program", src.Name, "backend", b.Name(), "err", err)
		} else {
			log.Debug("postfx: program compiled", "program", src.Name, "backend", b.Name())
		}
		return programEntry{prog: prog, err: err}, nil
	})
	return e.prog, e.err
}

// forget drops the current entry for name on b.
func (pc *programCache) forget(b backend.Backend, name string) {
	pc.entries.Delete(programKey{b: b, epoch: epochOf(b), name: name})
}

// acquire and release count the live pipelines per backend. When the last
// one goes away every program of that backend is dropped, so a closed
// backend is not kept reachable by the cache.
func (pc *programCache) acquire(b backend.Backend) {
	pc.mu.Lock()
	pc.users[b]++
	pc.mu.Unlock()
}

func (pc *programCache) release(b backend.Backend) {
	pc.mu.Lock()
	pc.users[b]--
	last := pc.users[b] <= 0
	if last {
		delete(pc.users, b)
		delete(pc.epochs, b)
	}
	pc.mu.Unlock()
	if last {
		pc.entries.DeleteFunc(func(k programKey, _ programEntry) bool { return k.b == b })
	}
}
