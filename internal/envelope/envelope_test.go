package envelope

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHasDefaults(t *testing.T) {
	m := New()
	assert.Equal(t, 0, m.Index)
	assert.Empty(t, m.Type)
	assert.Empty(t, m.Content)
	assert.Equal(t, "CustomMessage(index=0, type=, content=)", m.String())
}

func TestString(t *testing.T) {
	m := Message{Index: 1, Type: "number", Content: "x"}
	assert.Equal(t, "CustomMessage(index=1, type=number, content=x)", m.String())
}

func TestEncodeDecode(t *testing.T) {
	data, err := Encode(Message{Index: 3, Type: "text", Content: "hello"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"index":3,"type":"text","content":"hello"}`, string(data))

	decoded, err := Decode([]byte(`{"content":"only"}`))
	require.NoError(t, err)
	assert.Equal(t, Message{Content: "only"}, decoded)

	_, err = Decode([]byte(`{`))
	assert.ErrorContains(t, err, "decode envelope")
}

func TestSequenceIsMonotonic(t *testing.T) {
	var seq Sequence
	assert.Equal(t, 0, seq.Current())
	assert.Equal(t, 1, seq.Next())
	assert.Equal(t, 2, seq.Next())
	assert.Equal(t, 2, seq.Current())
}

func TestSequenceConcurrentCallers(t *testing.T) {
	var seq Sequence
	const workers, perWorker = 8, 250

	results := make(chan int, workers*perWorker)
	var wg sync.WaitGroup
	for range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for range perWorker {
				results <- seq.Next()
			}
		}()
	}
	wg.Wait()
	close(results)

	seen := make(map[int]bool, workers*perWorker)
	for n := range results {
		assert.False(t, seen[n], "index %d handed out twice", n)
		seen[n] = true
	}
	assert.Len(t, seen, workers*perWorker)
	assert.Equal(t, workers*perWorker, seq.Current())
}
