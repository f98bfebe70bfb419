package vm

import (
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"

	"github.com/Oliver2213/moor/db"
)

// progCache holds compiled verb programs keyed by
// obj/verb-index/generation. Generations bump on set_verb_code, but a
// key can recur (a verb deleted and re-added at the same index, or
// another store in the same process), so a cached program is used only
// when its source matches the verb's.
var progCache = gocache.New(30*time.Minute, 10*time.Minute)

func progCacheKey(h db.VerbHandle, gen int64) string {
	return fmt.Sprintf("%d/%d/%d", int(h.Obj), h.Index, gen)
}

// compileVerb returns the compiled program for a verb, consulting the
// cache first.
func (vm *VM) compileVerb(h db.VerbHandle, v *db.VerbRecord) (*Program, error) {
	key := progCacheKey(h, v.Generation)
	if cached, ok := progCache.Get(key); ok {
		if prog := cached.(*Program); prog.Source == v.Source {
			return prog, nil
		}
	}
	prog, err := CompileSource(v.Source, vm.Registry)
	if err != nil {
		return nil, err
	}
	progCache.Set(key, prog, gocache.DefaultExpiration)
	return prog, nil
}

// CacheStats reports the live entry count, for the server log.
func CacheStats() int {
	return progCache.ItemCount()
}
