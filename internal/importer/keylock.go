package importer

import (
	"fmt"
	"hash/fnv"
	"strings"
	"sync"
)

const lockStripes = 64

// keyLock serializes work on the same vertex key. Distinct keys may share a
// stripe and then wait on each other.
type keyLock struct {
	stripes [lockStripes]sync.Mutex
}

func (l *keyLock) lock(key string) func() {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	mu := &l.stripes[h.Sum32()%lockStripes]
	mu.Lock()
	return mu.Unlock
}

// vertexKey renders class and key values as a lock key.
func vertexKey(class string, values []any) string {
	var b strings.Builder
	b.WriteString(class)
	for _, v := range values {
		b.WriteByte(0)
		fmt.Fprintf(&b, "%T:%v", v, v)
	}
	return b.String()
}
