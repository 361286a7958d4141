// Copyright (c) 2018 cloud-spin
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

//go:build !windows

package chili

import (
	"reflect"
	"syscall"
	"testing"
	"time"

	"github.com/gorilla/mux"

	"github.com/cloud-spin/chili/lifecycle"
)

func TestSignalShouldFailReadinessThenDrainAndExitCleanly(t *testing.T) {
	router := mux.NewRouter()
	configs := getTestConfigs()
	configs.Signal = syscall.SIGUSR1
	pool := &testPool{}
	controller, exits := newTestController(pool)
	server := New(configs, router, controller, nil)

	started := make(chan error, 1)
	go func() {
		started <- server.Start()
	}()
	testEndpoint(t, configs.Port, DefaultLivenessEndpoint, 200)
	testEndpoint(t, configs.Port, DefaultReadinessEndpoint, 200)

	signaledAt := time.Now()
	if err := syscall.Kill(syscall.Getpid(), syscall.SIGUSR1); err != nil {
		t.Fatal(err)
	}

	// Readiness fails while the listener still accepts connections during the grace period.
	testEndpoint(t, configs.Port, DefaultReadinessEndpoint, 503)
	if pool.closes.Load() != 0 {
		t.Error("Expected: pool open during the grace period; Got: closed")
	}

	select {
	case err := <-started:
		if err != nil {
			t.Errorf("Expected: success; Got: %s", err.Error())
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Expected: Start to return after draining; Got: timeout")
	}

	if codes := exits.calls(); !reflect.DeepEqual(codes, []int{lifecycle.ExitCodeClean}) {
		t.Errorf("Expected: exit with %d; Got: %v", lifecycle.ExitCodeClean, codes)
	}
	if elapsed := exits.exitedAt().Sub(signaledAt); elapsed < testGracePeriod {
		t.Errorf("Expected: exit after at least %s; Got: %s", testGracePeriod, elapsed)
	}
	if pool.closes.Load() != 1 {
		t.Errorf("Expected: pool closed once; Got: %d", pool.closes.Load())
	}
	if controller.State() != lifecycle.Stopped {
		t.Errorf("Expected: %s; Got: %s", lifecycle.Stopped, controller.State())
	}
	testEndpoint(t, configs.Port, DefaultReadinessEndpoint, 404)
}
