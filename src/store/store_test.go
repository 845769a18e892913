package store

import (
	"reflect"
	"testing"
)

func testRoundTrip(t *testing.T, s WeightStore) {
	t.Helper()

	weights := []float64{0.5, -1.25, 3}

	if err := s.SaveWeights(2, 7, weights); err != nil {
		t.Fatal(err)
	}

	got, err := s.LoadWeights(2, 7)
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(got, weights) {
		t.Fatalf("round trip: got %v, want %v", got, weights)
	}

	if _, err := s.LoadWeights(2, 8); err != ErrKeyNotFound {
		t.Fatalf("missing key: got %v, want ErrKeyNotFound", err)
	}
}

func TestFileStore(t *testing.T) {
	s, err := NewFileStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	testRoundTrip(t, s)
}

func TestBadgerStore(t *testing.T) {
	s, err := NewBadgerStore(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	defer s.Close()

	testRoundTrip(t, s)
}

func TestNewByName(t *testing.T) {
	if _, err := New("file", t.TempDir()); err != nil {
		t.Fatal(err)
	}
	if _, err := New("", t.TempDir()); err != nil {
		t.Fatal(err)
	}
	if _, err := New("s3", t.TempDir()); err == nil {
		t.Fatal("expected error for unknown backend")
	}
}
