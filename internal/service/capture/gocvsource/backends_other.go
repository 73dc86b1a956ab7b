//go:build !linux && !darwin && !windows

package gocvsource

var deviceBackends = []string{BackendAny}
