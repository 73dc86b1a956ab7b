//go:build linux

package gocvsource

var deviceBackends = []string{BackendV4L2, BackendAny}
