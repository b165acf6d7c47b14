package main

import (
	"sync"
	"testing"
	"time"
)

func TestWaitTimeoutCompletes(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		time.Sleep(10 * time.Millisecond)
		wg.Done()
	}()

	if !waitTimeout(&wg, time.Second) {
		t.Error("expected waitTimeout to report completion")
	}
}

func TestWaitTimeoutExpires(t *testing.T) {
	var wg sync.WaitGroup
	wg.Add(1)
	defer wg.Done()

	if waitTimeout(&wg, 20*time.Millisecond) {
		t.Error("expected waitTimeout to report a timeout for a stuck worker")
	}
}

func TestWaitTimeoutEmptyGroup(t *testing.T) {
	var wg sync.WaitGroup
	if !waitTimeout(&wg, time.Second) {
		t.Error("an empty group should complete immediately")
	}
}
