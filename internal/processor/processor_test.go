package processor

import (
	"sync"
	"testing"
	"time"

	"github.com/mverteuil/BirdNET-Pi-sub001/internal/birdnet"
	"github.com/mverteuil/BirdNET-Pi-sub001/internal/datastore"
	"github.com/mverteuil/BirdNET-Pi-sub001/internal/errors"
	"github.com/mverteuil/BirdNET-Pi-sub001/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stubStore records saved notes in memory.
type stubStore struct {
	mu      sync.Mutex
	notes   []datastore.Note
	failAll bool
}

func (s *stubStore) Open() error  { return nil }
func (s *stubStore) Close() error { return nil }

func (s *stubStore) Save(note *datastore.Note, results []datastore.Results) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failAll {
		return errors.Newf("disk full").
			Component("datastore").
			Category(errors.CategoryDatabase).
			Build()
	}
	s.notes = append(s.notes, *note)
	return nil
}

func (s *stubStore) saved() []datastore.Note {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]datastore.Note, len(s.notes))
	copy(out, s.notes)
	return out
}

func (s *stubStore) Get(id string) (datastore.Note, error) { return datastore.Note{}, nil }
func (s *stubStore) Delete(id string) error                { return nil }
func (s *stubStore) GetLastDetections(n int) ([]datastore.Note, error) {
	return nil, nil
}
func (s *stubStore) GetAllDetectedSpecies() ([]datastore.Note, error) { return nil, nil }
func (s *stubStore) SpeciesDetections(species, date, hour string, asc bool, limit, offset int) ([]datastore.Note, error) {
	return nil, nil
}
func (s *stubStore) SearchNotes(q string, asc bool, limit, offset int) ([]datastore.Note, error) {
	return nil, nil
}
func (s *stubStore) GetNoteClipPath(noteID string) (string, error) { return "", nil }

func drainResultsQueue() {
	for {
		select {
		case <-birdnet.ResultsQueue:
		default:
			return
		}
	}
}

func windowResults(seq uint64, start time.Time, results ...birdnet.Result) birdnet.Results {
	return birdnet.Results{
		Sequence:  seq,
		StartTime: start,
		Results:   results,
		Source:    "test",
	}
}

func TestProcessorAcceptsAndDispatches(t *testing.T) {
	drainResultsQueue()

	settings := testSettings()
	settings.Main.Name = "test-node"

	store := &stubStore{}
	bus := events.New(events.DefaultConfig(), nil)
	sub, err := bus.Subscribe()
	require.NoError(t, err)

	fatalChan := make(chan error, 1)
	p := New(settings, store, bus, nil, nil, fatalChan)

	var wg sync.WaitGroup
	quitChan := make(chan struct{})
	p.Start(&wg, quitChan, 2)

	start := time.Date(2026, 5, 14, 6, 0, 0, 0, time.UTC)
	birdnet.EnqueueResults(windowResults(1, start,
		birdnet.Result{Species: "Turdus migratorius_American Robin", Confidence: 0.85},
		birdnet.Result{Species: "Passer domesticus_House Sparrow", Confidence: 0.4},
	))

	select {
	case ev := <-sub.Events():
		require.Equal(t, events.KindDetection, ev.Kind)
		detection, ok := ev.Payload.(DetectionEvent)
		require.True(t, ok)
		assert.Equal(t, uint64(1), detection.DetectionID)
		assert.Equal(t, "American Robin", detection.CommonName)
		assert.Equal(t, "test-node", detection.SourceNode)
		assert.InDelta(t, 0.85, detection.Confidence, 0.001)
	case <-time.After(2 * time.Second):
		t.Fatal("no detection published")
	}

	close(quitChan)
	wg.Wait()

	notes := store.saved()
	require.Len(t, notes, 1)
	assert.Equal(t, "Turdus migratorius", notes[0].ScientificName)
	assert.Equal(t, uint64(1), notes[0].DetectionID)
	assert.Len(t, notes[0].Results, 0) // results are saved separately by the store
}

func TestProcessorSuppressesRepeatDetections(t *testing.T) {
	drainResultsQueue()

	settings := testSettings()
	store := &stubStore{}

	fatalChan := make(chan error, 1)
	p := New(settings, store, nil, nil, nil, fatalChan)

	var wg sync.WaitGroup
	quitChan := make(chan struct{})
	p.Start(&wg, quitChan, 1)

	start := time.Date(2026, 5, 14, 6, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		birdnet.EnqueueResults(windowResults(uint64(i+1), start.Add(time.Duration(i)*2*time.Minute),
			birdnet.Result{Species: "Turdus migratorius_American Robin", Confidence: 0.8},
		))
	}

	close(quitChan)
	wg.Wait()

	assert.Len(t, store.saved(), 1)
	assert.Equal(t, 3, p.Policy.CountInWindow("Turdus migratorius"))
}

func TestProcessorEscalatesPersistFailure(t *testing.T) {
	drainResultsQueue()

	settings := testSettings()
	store := &stubStore{failAll: true}

	fatalChan := make(chan error, 1)
	p := New(settings, store, nil, nil, nil, fatalChan)

	var wg sync.WaitGroup
	quitChan := make(chan struct{})
	p.Start(&wg, quitChan, 1)

	birdnet.EnqueueResults(windowResults(1, time.Now(),
		birdnet.Result{Species: "Turdus migratorius_American Robin", Confidence: 0.9},
	))

	select {
	case err := <-fatalChan:
		assert.True(t, errors.IsCategory(err, errors.CategoryDatabase))
	case <-time.After(2 * time.Second):
		t.Fatal("persist failure was not escalated")
	}

	close(quitChan)
	wg.Wait()
}

func TestGenerateClipName(t *testing.T) {
	settings := testSettings()
	settings.Realtime.Audio.Export.Enabled = true
	settings.Realtime.Audio.Export.Path = "clips"
	p := New(settings, &stubStore{}, nil, nil, nil, nil)

	ts := time.Date(2026, 5, 14, 6, 30, 15, 0, time.UTC)
	name := p.generateClipName("Turdus migratorius", 0.87, ts)

	assert.Contains(t, name, "2026/05/")
	assert.Contains(t, name, "turdus_migratorius_87p_20260514T063015Z.wav")
}
