package location

import (
	"errors"
	"testing"

	"github.com/menta2k/breed-camera/pkg/types"
)

func TestStaticFeed(t *testing.T) {
	f := NewStatic(52.37, 4.89)

	if err := f.StartUpdating(); !errors.Is(err, ErrPermissionRequired) {
		t.Errorf("Expected ErrPermissionRequired, got %v", err)
	}
	if err := f.RequestPermission(); err != nil {
		t.Fatalf("RequestPermission failed: %v", err)
	}
	if err := f.StartUpdating(); err != nil {
		t.Fatalf("StartUpdating failed: %v", err)
	}

	select {
	case c := <-f.Updates():
		if c.Latitude != 52.37 || c.Longitude != 4.89 {
			t.Errorf("Unexpected coordinate %+v", c)
		}
	default:
		t.Fatal("Expected the initial coordinate to be delivered")
	}
}

func TestFeedKeepsLatest(t *testing.T) {
	f := NewFeed(FeedConfig{})
	f.RequestPermission()
	f.StartUpdating()

	f.Publish(types.Coordinate{Latitude: 1})
	f.Publish(types.Coordinate{Latitude: 2})
	f.Publish(types.Coordinate{Latitude: 3})

	c := <-f.Updates()
	if c.Latitude != 3 {
		t.Errorf("Expected newest coordinate, got %+v", c)
	}
	select {
	case extra := <-f.Updates():
		t.Errorf("Expected a single pending coordinate, got extra %+v", extra)
	default:
	}
}

func TestFeedStopped(t *testing.T) {
	f := NewFeed(FeedConfig{})
	f.RequestPermission()
	f.StartUpdating()
	f.StopUpdating()

	if f.Publish(types.Coordinate{Latitude: 1}) {
		t.Error("Publish must be rejected after StopUpdating")
	}
}

func TestFeedDenied(t *testing.T) {
	f := NewFeed(FeedConfig{Denied: true})
	if err := f.RequestPermission(); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("Expected ErrPermissionDenied, got %v", err)
	}
	if err := f.StartUpdating(); !errors.Is(err, ErrPermissionDenied) {
		t.Errorf("Expected ErrPermissionDenied from StartUpdating, got %v", err)
	}
}
