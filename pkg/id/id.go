package id

import (
	cryptoRand "crypto/rand"
	"encoding/binary"
	"io"
	"math/rand"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	mu   sync.Mutex
	mono io.Reader
)

func init() {
	var seed int64
	_ = binary.Read(cryptoRand.Reader, binary.LittleEndian, &seed)
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	mono = ulid.Monotonic(rand.New(rand.NewSource(seed)), 0)
}

// New возвращает ULID для момента now. ID, выданные в одну миллисекунду,
// остаются строго возрастающими.
func New(now time.Time) string {
	mu.Lock()
	defer mu.Unlock()

	v, err := ulid.New(ulid.Timestamp(now.UTC()), mono)
	if err != nil {
		// монотонная энтропия переполнилась в пределах одной мс — берём следующую
		v = ulid.MustNew(ulid.Timestamp(now.UTC().Add(time.Millisecond)), mono)
	}
	return v.String()
}
