package reconcile

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sells-group/repairer-sync/internal/model"
	"github.com/sells-group/repairer-sync/internal/normalize"
)

func TestCompleteness(t *testing.T) {
	tests := []struct {
		name string
		c    model.Candidate
		want int
	}{
		{"empty", model.Candidate{}, 0},
		{"name only", model.Candidate{Name: "A"}, 1},
		{"coordinates need both", model.Candidate{Name: "A", Lat: ptr(1.0)}, 1},
		{"coordinates", model.Candidate{Name: "A", Lat: ptr(1.0), Lng: ptr(2.0)}, 2},
		{"classified", model.Candidate{Name: "A", ClassificationConfidence: ptr(0.5)}, 2},
		{"services", model.Candidate{Name: "A", Services: []string{"x"}}, 2},
		{"full", model.Candidate{
			Name: "A", RawAddress: "1 rue", City: "Lyon", PostalCode: "69001", Phone: "1", Website: "w", Email: "e",
			Services: []string{"x"}, Lat: ptr(1.0), Lng: ptr(2.0), ClassificationConfidence: ptr(0.5),
		}, 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Completeness(tt.c))
		})
	}
}

func TestMerge(t *testing.T) {
	stored := &model.PersistedRecord{
		ID:          3,
		IdentityKey: "k",
		Candidate: model.Candidate{
			Source: model.SourceWebSearch, Name: "Atelier", City: "Lyon", Phone: "+33400000000",
			Services: []string{"ecran"}, Lat: ptr(45.0), Lng: ptr(4.0),
		},
	}
	in := model.Candidate{
		Source: model.SourcePlaces, ExternalID: "gp_9", Name: "Atelier Mobile", Website: "https://a.fr",
		Services: []string{"batterie", "ecran"}, IsValid: ptr(true), ClassificationConfidence: ptr(0.8),
	}

	out := Merge(stored, in)

	assert.Equal(t, int64(3), out.ID)
	assert.Equal(t, normalize.IdentityKey("Atelier Mobile", "Lyon", ""), out.IdentityKey)
	assert.Equal(t, "Atelier Mobile", out.Name)
	assert.Equal(t, "Lyon", out.City)
	assert.Equal(t, "+33400000000", out.Phone)
	assert.Equal(t, "https://a.fr", out.Website)
	assert.Equal(t, []string{"ecran", "batterie"}, out.Services)
	assert.InDelta(t, 45.0, *out.Lat, 1e-9)
	assert.True(t, *out.IsValid)
	assert.Equal(t, "gp_9", out.ExternalID)
	assert.Equal(t, model.SourcePlaces, out.ExternalSource)
	assert.Equal(t, model.SourceWebSearch, out.Source)

	// The stored value is not mutated.
	assert.Equal(t, []string{"ecran"}, stored.Services)
	assert.Equal(t, "Atelier", stored.Name)
}

func TestMerge_KeepsExistingExternalID(t *testing.T) {
	stored := &model.PersistedRecord{Candidate: model.Candidate{Source: model.SourcePlaces, ExternalID: "gp_1"}, ExternalSource: model.SourcePlaces}
	out := Merge(stored, model.Candidate{Source: model.SourcePlaces, ExternalID: "gp_2"})
	assert.Equal(t, "gp_1", out.ExternalID)
}

func TestKeyLock_SerializesSameKey(t *testing.T) {
	l := newKeyLock()
	var (
		mu      sync.Mutex
		inside  int
		maxSeen int
		wg      sync.WaitGroup
	)
	for range 10 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			unlock := l.Lock("b", "a", "a", "")
			mu.Lock()
			inside++
			maxSeen = max(maxSeen, inside)
			mu.Unlock()
			time.Sleep(time.Millisecond)
			mu.Lock()
			inside--
			mu.Unlock()
			unlock()
		}()
	}
	wg.Wait()
	assert.Equal(t, 1, maxSeen)
	assert.Zero(t, l.size())
}

func TestKeyLock_DistinctKeysDoNotBlock(t *testing.T) {
	l := newKeyLock()
	unlockA := l.Lock("a")
	done := make(chan struct{})
	go func() {
		unlock := l.Lock("b")
		unlock()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("lock on b blocked behind a")
	}
	unlockA()
}
