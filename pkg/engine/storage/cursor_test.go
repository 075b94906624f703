package storage

import (
	"fmt"
	"sort"
	"testing"
)

func TestCursor_Order(t *testing.T) {
	s := openTestSlice(t, t.TempDir(), testConfig(64))
	defer s.Close()

	keys := []string{"m", "c", "x", "a", "q", "b", "z", "k"}
	for _, k := range keys {
		if err := s.Write([]byte(k), []byte("value-"+k)); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	// Overwrite to make sure the newest location is visited
	if err := s.Write([]byte("c"), []byte("again")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}

	sort.Strings(keys)

	c := s.NewCursor()
	if c.Valid() {
		t.Fatal("A new cursor should be unpositioned")
	}

	var got []string
	for c.SeekToFirst(); c.Valid(); c.Next() {
		got = append(got, string(c.Key()))
		want := "value-" + string(c.Key())
		if string(c.Key()) == "c" {
			want = "again"
		}
		if string(c.Value()) != want {
			t.Errorf("Value for %q = %q, expected %q", c.Key(), c.Value(), want)
		}
	}

	if fmt.Sprint(got) != fmt.Sprint(keys) {
		t.Errorf("Expected %v, got %v", keys, got)
	}
	if c.Next() {
		t.Error("Next on an exhausted cursor should return false")
	}
}

func TestCursor_Seek(t *testing.T) {
	s := openTestSlice(t, t.TempDir(), testConfig(4096))
	defer s.Close()

	for _, k := range []string{"b", "d", "f"} {
		if err := s.Write([]byte(k), []byte(k)); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	tests := []struct {
		target string
		valid  bool
		key    string
	}{
		{"a", true, "b"},
		{"b", true, "b"},
		{"c", true, "d"},
		{"f", true, "f"},
		{"g", false, ""},
	}

	c := s.NewCursor()
	for _, tt := range tests {
		if got := c.Seek([]byte(tt.target)); got != tt.valid {
			t.Errorf("Seek(%q) = %v, expected %v", tt.target, got, tt.valid)
			continue
		}
		if tt.valid && string(c.Key()) != tt.key {
			t.Errorf("Seek(%q) positioned at %q, expected %q", tt.target, c.Key(), tt.key)
		}
	}
}

func TestCursor_WritesBetweenSteps(t *testing.T) {
	s := openTestSlice(t, t.TempDir(), testConfig(4096))
	defer s.Close()

	for _, k := range []string{"b", "d"} {
		if err := s.Write([]byte(k), []byte(k)); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}

	c := s.NewCursor()
	c.SeekToFirst()
	if string(c.Key()) != "b" {
		t.Fatalf("Expected first key b, got %q", c.Key())
	}

	// Enough new keys to grow the index while the cursor is parked
	if err := s.Write([]byte("a"), []byte("a")); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	for i := 0; i < 50; i++ {
		if err := s.Write([]byte(fmt.Sprintf("c%02d", i)), []byte("c")); err != nil {
			t.Fatalf("Write failed: %v", err)
		}
	}
	if s.Stats().IndexGrows == 0 {
		t.Fatal("Expected the index to grow")
	}

	var got []string
	for c.Next(); c.Valid(); c.Next() {
		got = append(got, string(c.Key()))
	}

	if len(got) != 51 || got[0] != "c00" || got[49] != "c49" || got[50] != "d" {
		t.Errorf("Expected c00..c49 then d, got %d keys: %v", len(got), got)
	}
}
