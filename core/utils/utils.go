// SPDX-FileCopyrightText: Copyright (C) 2017  Yawning Angel
// SPDX-License-Identifier: AGPL-3.0-only

// Package utils provides address and filesystem helpers.
package utils

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
)

// EnsureAddrIPPort returns nil iff the address is a raw IP + Port combination.
func EnsureAddrIPPort(a string) error {
	host, _, err := net.SplitHostPort(a)
	if err != nil {
		return err
	}
	if net.ParseIP(host) == nil {
		return fmt.Errorf("address '%v' is not an IP", host)
	}
	return nil
}

// EnsureAddrHostPort returns nil iff the address is a host + port
// combination with a numeric port.
func EnsureAddrHostPort(a string) error {
	host, port, err := net.SplitHostPort(a)
	if err != nil {
		return err
	}
	if host == "" {
		return fmt.Errorf("address '%v' has no host", a)
	}
	if _, err := net.LookupPort("tcp", port); err != nil {
		return fmt.Errorf("address '%v' has an invalid port: %v", a, err)
	}
	return nil
}

// Exists returns true iff f exists.
func Exists(f string) bool {
	_, err := os.Stat(f)
	return !errors.Is(err, os.ErrNotExist) && err == nil
}

// EnsureParentDir returns nil iff the directory that will hold f exists.
func EnsureParentDir(f string) error {
	dir := filepath.Dir(f)
	fi, err := os.Stat(dir)
	if err != nil {
		return err
	}
	if !fi.IsDir() {
		return fmt.Errorf("'%v' is not a directory", dir)
	}
	return nil
}
