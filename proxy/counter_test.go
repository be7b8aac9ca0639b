package proxy

import (
	"sync"
	"testing"
)

func TestCounters_Sum(t *testing.T) {
	c := NewCounters(4)
	if c.Len() != 4 {
		t.Fatalf("Len = %d", c.Len())
	}

	var wg sync.WaitGroup
	tokens := make(chan int, 100)
	for i := 0; i < 100; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tokens <- c.Inc()
		}()
	}
	wg.Wait()
	close(tokens)

	if c.Sum() != 100 {
		t.Fatalf("Sum = %d, want 100", c.Sum())
	}
	for tok := range tokens {
		if tok < 0 || tok >= 4 {
			t.Fatalf("token %d out of range", tok)
		}
		c.Dec(tok)
	}
	if c.Sum() != 0 {
		t.Fatalf("Sum = %d after Dec", c.Sum())
	}
}

func TestCounters_DefaultStripes(t *testing.T) {
	c := NewCounters(0)
	if c.Len() < 1 || c.Len() != PhysicalCores() {
		t.Fatalf("Len = %d, PhysicalCores = %d", c.Len(), PhysicalCores())
	}
}
