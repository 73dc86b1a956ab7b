//go:build windows

package gocvsource

var deviceBackends = []string{BackendDShow, BackendMSMF, BackendAny}
