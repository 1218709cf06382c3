package score

import (
	"hash/fnv"
	"sync"

	"github.com/google/uuid"
)

const lockShards = 64

// patientLocks serializes score writes per patient. Shards bound memory
// at the cost of occasional cross-patient contention.
type patientLocks struct {
	shards [lockShards]sync.Mutex
}

func (l *patientLocks) forPatient(id uuid.UUID) *sync.Mutex {
	h := fnv.New32a()
	h.Write(id[:])
	return &l.shards[h.Sum32()%lockShards]
}
