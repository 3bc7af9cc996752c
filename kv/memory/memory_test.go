package memory_test

import (
	"testing"

	"github.com/becomeliminal/tiermem-go/kv/kvtest"
	"github.com/becomeliminal/tiermem-go/kv/memory"
)

func TestMemoryContract(t *testing.T) {
	kvtest.Run(t, memory.New())
}
