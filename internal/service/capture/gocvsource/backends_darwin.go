//go:build darwin

package gocvsource

var deviceBackends = []string{BackendAVFoundation, BackendAny}
