package idgen_test

import (
	"regexp"
	"testing"
	"time"

	"github.com/artpar/livesync/adapters/clock"
	"github.com/artpar/livesync/adapters/idgen"
	"github.com/oklog/ulid/v2"
)

func TestUUID_New(t *testing.T) {
	g := idgen.UUID{}

	id := g.New()
	uuidRegex := regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-4[0-9a-f]{3}-[89ab][0-9a-f]{3}-[0-9a-f]{12}$`)
	if !uuidRegex.MatchString(id) {
		t.Errorf("ID %s doesn't match UUID v4 format", id)
	}
}

func TestULID_SortableAndUnique(t *testing.T) {
	fake := clock.NewFake(time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC))
	g := idgen.NewULID(fake)

	prev := ""
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := g.New()
		if seen[id] {
			t.Fatalf("duplicate ID generated: %s", id)
		}
		seen[id] = true
		if prev != "" && id <= prev {
			t.Fatalf("ID %s not greater than previous %s", id, prev)
		}
		prev = id
		if i%10 == 0 {
			fake.Advance(time.Millisecond)
		}
	}
}

func TestULID_EncodesClockTime(t *testing.T) {
	at := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	g := idgen.NewULID(clock.NewFake(at))

	parsed, err := ulid.Parse(g.New())
	if err != nil {
		t.Fatalf("Parse error: %v", err)
	}
	if got := ulid.Time(parsed.Time()); !got.Equal(at) {
		t.Errorf("ULID time = %v, want %v", got, at)
	}
}

func TestSequential_New(t *testing.T) {
	g := idgen.NewSequential("test_")

	for _, want := range []string{"test_1", "test_2", "test_3"} {
		if id := g.New(); id != want {
			t.Errorf("ID = %s, want %s", id, want)
		}
	}
}

func TestSequential_Reset(t *testing.T) {
	g := idgen.NewSequential("id_")
	g.New()
	g.New()
	g.Reset()

	if id := g.New(); id != "id_1" {
		t.Errorf("ID after reset = %s, want id_1", id)
	}
}
